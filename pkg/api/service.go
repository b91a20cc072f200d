package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/factline/cli/pkg/client"
	"github.com/factline/cli/pkg/logger"
	"github.com/go-resty/resty/v2"
	json "github.com/json-iterator/go"
)

// Service talks to the content-processing endpoints.
type Service struct {
	client *resty.Client
}

// NewService wraps c. A nil client falls back to the shared API client.
func NewService(c *resty.Client) *Service {
	if c == nil {
		c = client.GetClient()
	}
	return &Service{client: c}
}

// Client returns the underlying HTTP client.
func (s *Service) Client() *resty.Client {
	return s.client
}

// StartPreAnalysis uploads the file for early analysis and returns the task to poll.
func (s *Service) StartPreAnalysis(ctx context.Context, kind ContentKind, filePath string) (*PreAnalysisStart, error) {
	logger.Debug("Starting pre-analysis", "kind", kind, "file_path", filePath)

	resp, err := s.client.R().
		SetContext(ctx).
		SetFile("file", filePath).
		SetFormData(map[string]string{"content_type": string(kind.Media())}).
		Post(fmt.Sprintf("/api/v1/%s/pre-analyze", kind.Collection()))
	if err != nil {
		return nil, transportError("Pre-analysis upload failed", err)
	}
	if !resp.IsSuccess() {
		return nil, ParseError(resp)
	}

	var result PreAnalysisStart
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, transportError("Malformed pre-analysis response", err)
	}
	if result.TaskID == "" {
		return nil, transportError("Pre-analysis response has no task id", fmt.Errorf("success=%v message=%q", result.Success, result.Message))
	}

	logger.Debug("Pre-analysis started", "task_id", result.TaskID)
	return &result, nil
}

// PreAnalysisStatus fetches the current status of a pre-analysis task.
// Unparseable bodies are reported as transport errors.
func (s *Service) PreAnalysisStatus(ctx context.Context, taskID string) (*PreAnalysisStatus, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("taskID", taskID).
		Get("/api/v1/pre-analysis/{taskID}/status")
	if err != nil {
		return nil, transportError("Status check failed", err)
	}
	if !resp.IsSuccess() {
		return nil, ParseError(resp)
	}

	var status PreAnalysisStatus
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return nil, transportError("Malformed status response", err)
	}
	if status.State == "" {
		return nil, transportError("Malformed status response", fmt.Errorf("missing state"))
	}
	return &status, nil
}

// Submit creates the post or reel. processingToken may be empty, in which
// case the server redoes the analysis.
func (s *Service) Submit(ctx context.Context, kind ContentKind, filePath, caption, processingToken string) (*Content, error) {
	logger.Debug("Submitting content", "kind", kind, "file_path", filePath, "has_token", processingToken != "")

	form := map[string]string{"caption": caption}
	if processingToken != "" {
		form["processing_token"] = processingToken
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetFile("file", filePath).
		SetFormData(form).
		Post(fmt.Sprintf("/api/v1/%s", kind.Collection()))
	if err != nil {
		return nil, transportError("Upload failed", err)
	}
	if !resp.IsSuccess() {
		return nil, ParseError(resp)
	}

	var content Content
	if err := json.Unmarshal(resp.Body(), &content); err != nil {
		return nil, transportError("Malformed upload response", err)
	}
	if content.ID == "" {
		return nil, transportError("Upload response has no content id", fmt.Errorf("empty id"))
	}

	logger.Debug("Content created", "kind", kind, "content_id", content.ID)
	return &content, nil
}

// StreamURL is the server-sent events endpoint for one content item.
func (s *Service) StreamURL(kind ContentKind, contentID, token string) string {
	return s.endpoint(kind, contentID, "processing-stream", token, false)
}

// WebSocketURL is the websocket endpoint for one content item.
func (s *Service) WebSocketURL(kind ContentKind, contentID, token string) string {
	return s.endpoint(kind, contentID, "processing-ws", token, true)
}

func (s *Service) endpoint(kind ContentKind, contentID, leaf, token string, ws bool) string {
	base := strings.TrimRight(s.client.BaseURL, "/")
	if ws {
		switch {
		case strings.HasPrefix(base, "https://"):
			base = "wss://" + strings.TrimPrefix(base, "https://")
		case strings.HasPrefix(base, "http://"):
			base = "ws://" + strings.TrimPrefix(base, "http://")
		}
	}

	u := fmt.Sprintf("%s/api/v1/%s/%s/%s", base, kind.Collection(), url.PathEscape(contentID), leaf)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}
