package client

import (
	"strconv"
	"time"

	"github.com/factline/cli/pkg/config"
	"github.com/factline/cli/pkg/logger"
	"github.com/factline/cli/pkg/metrics"
	"github.com/go-resty/resty/v2"
)

const userAgent = "Factline-CLI/0.1.0"

var httpClient *resty.Client

// New builds a resty client for baseURL with request logging and metrics.
// A zero timeout means no timeout.
func New(baseURL string, timeout time.Duration) *resty.Client {
	c := resty.New()
	c.SetBaseURL(baseURL)
	c.SetTimeout(timeout)
	c.SetHeader("User-Agent", userAgent)

	c.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		logger.Debug("HTTP Request", "method", req.Method, "url", req.URL)
		return nil
	})

	c.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		logger.Debug("HTTP Response", "status", resp.StatusCode(), "url", resp.Request.URL)
		metrics.HTTPRequestsTotal.WithLabelValues(resp.Request.Method, strconv.Itoa(resp.StatusCode())).Inc()
		return nil
	})

	c.OnError(func(req *resty.Request, err error) {
		logger.Debug("HTTP Error", "method", req.Method, "url", req.URL, "error", err)
		metrics.HTTPRequestsTotal.WithLabelValues(req.Method, "error").Inc()
	})

	return c
}

// Init initializes the shared API client from configuration
func Init() {
	httpClient = New(
		config.GetString("api.base_url"),
		time.Duration(config.GetInt("api.timeout"))*time.Second,
	)
}

// GetClient returns the HTTP client
func GetClient() *resty.Client {
	if httpClient == nil {
		Init()
	}
	return httpClient
}

// NewStreaming returns a client without a request timeout, for long-lived
// response bodies. It shares the base URL and token of the API client.
func NewStreaming() *resty.Client {
	api := GetClient()
	c := New(api.BaseURL, 0)
	if api.Token != "" {
		c.SetAuthToken(api.Token)
	}
	return c
}

// SetAuthToken sets the bearer token
func SetAuthToken(token string) {
	GetClient().SetAuthToken(token)
}

// ClearAuthToken clears the authorization token
func ClearAuthToken() {
	// Re-init the client to clear auth headers
	Init()
}
