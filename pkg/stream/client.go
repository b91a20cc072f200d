package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/credentials"
	"github.com/factline/cli/pkg/logger"
	"github.com/factline/cli/pkg/metrics"
	"github.com/jonboulle/clockwork"
	json "github.com/json-iterator/go"
)

var (
	// ErrClosed is returned by readers after Close.
	ErrClosed = errors.New("stream closed")
	// ErrReconnectExhausted is delivered to OnError when every reconnect attempt failed.
	ErrReconnectExhausted = errors.New("stream reconnect attempts exhausted")
)

// Target identifies the content item a stream follows.
type Target struct {
	Kind      api.ContentKind
	ContentID string
	Token     string
}

// FrameReader yields raw frames from one open connection.
type FrameReader interface {
	Next() ([]byte, error)
	Close() error
}

// Transport opens connections to the status stream.
type Transport interface {
	Open(ctx context.Context, target Target) (FrameReader, error)
}

// Observer receives the events of one stream. Calls for one client are
// sequential and in arrival order. Observers may call Disconnect.
type Observer interface {
	OnUpdate(frame api.StatusFrame)
	OnComplete(frame api.StatusFrame)
	OnError(err error)
	OnReconnecting(attempt int, delay time.Duration)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Update       func(frame api.StatusFrame)
	Complete     func(frame api.StatusFrame)
	Error        func(err error)
	Reconnecting func(attempt int, delay time.Duration)
}

func (o ObserverFuncs) OnUpdate(frame api.StatusFrame) {
	if o.Update != nil {
		o.Update(frame)
	}
}

func (o ObserverFuncs) OnComplete(frame api.StatusFrame) {
	if o.Complete != nil {
		o.Complete(frame)
	}
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

func (o ObserverFuncs) OnReconnecting(attempt int, delay time.Duration) {
	if o.Reconnecting != nil {
		o.Reconnecting(attempt, delay)
	}
}

// Config holds reconnection policy
type Config struct {
	MaxReconnectAttempts int
	// Attempt n waits n * ReconnectStep.
	ReconnectStep time.Duration
}

// DefaultConfig returns 5 attempts at 2s, 4s, 6s, 8s, 10s.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		ReconnectStep:        2 * time.Second,
	}
}

// ConnectionState represents the state of the stream connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	FramesReceived int64
	ReconnectCount int
	LastError      string
	ConnectedAt    time.Time
	DisconnectedAt time.Time
}

// Client follows the processing status of one content item.
type Client struct {
	target    Target
	transport Transport
	observer  Observer
	config    Config
	clock     clockwork.Clock

	mu       sync.Mutex
	state    ConnectionState
	closed   bool
	gen      uint64
	attempts int
	reader   FrameReader
	cancel   context.CancelFunc
	retry    clockwork.Timer
	stats    ConnectionStats
}

// Option configures a Client.
type Option func(*Client)

// WithConfig overrides the reconnection policy.
func WithConfig(cfg Config) Option {
	return func(c *Client) { c.config = cfg }
}

// WithClock replaces the wall clock used for reconnect delays.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// NewClient creates a disconnected client.
func NewClient(target Target, transport Transport, observer Observer, opts ...Option) *Client {
	c := &Client{
		target:    target,
		transport: transport,
		observer:  observer,
		config:    DefaultConfig(),
		clock:     clockwork.NewRealClock(),
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.observer == nil {
		c.observer = ObserverFuncs{}
	}
	return c
}

// Target returns the followed content item.
func (c *Client) Target() Target {
	return c.target
}

// Connect opens the stream in the background. It is a no-op unless the
// client is disconnected.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.closed = false
	c.attempts = 0
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()

	if c.target.Token != "" && credentials.FromToken(c.target.Token).IsExpired() {
		logger.Warn("Stream token has expired, connecting anyway", "content_id", c.target.ContentID)
	}

	go c.open(gen)
}

// Disconnect tears down the connection and cancels any pending reconnect.
// It is idempotent and safe to call from observer callbacks.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed && c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	reader, cancel := c.reader, c.cancel
	c.reader, c.cancel = nil, nil
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.state = StateDisconnected
	c.stats.DisconnectedAt = c.clock.Now()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if reader != nil {
		reader.Close()
	}
	logger.Debug("Stream disconnected", "content_id", c.target.ContentID)
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns connection statistics
func (c *Client) Stats() ConnectionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && !c.closed
}

func (c *Client) open(gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancel = cancel
	c.retry = nil
	c.state = StateConnecting
	c.mu.Unlock()

	logger.Debug("Opening stream", "kind", c.target.Kind, "content_id", c.target.ContentID)
	reader, err := c.transport.Open(ctx, c.target)

	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		if reader != nil {
			reader.Close()
		}
		cancel()
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.handleError(gen, err)
		return
	}
	c.reader = reader
	c.state = StateConnected
	c.attempts = 0
	c.stats.ConnectedAt = c.clock.Now()
	c.mu.Unlock()

	logger.Debug("Stream connected", "content_id", c.target.ContentID)
	c.readLoop(gen, reader)
}

func (c *Client) readLoop(gen uint64, reader FrameReader) {
	for {
		data, err := reader.Next()
		if err != nil {
			c.handleError(gen, err)
			return
		}

		var frame api.StatusFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("Skipping malformed stream frame", "content_id", c.target.ContentID, "error", err)
			continue
		}

		if done := c.dispatch(gen, frame); done {
			return
		}
	}
}

// dispatch delivers one frame. It returns true once the stream is finished.
func (c *Client) dispatch(gen uint64, frame api.StatusFrame) bool {
	if frame.Type == api.FrameHeartbeat {
		return false
	}
	if frame.Type == api.FrameConnected && frame.ProcessingStatus == "" {
		return false
	}

	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		return true
	}
	c.stats.FramesReceived++
	c.mu.Unlock()

	metrics.StreamFramesTotal.WithLabelValues(frame.ProcessingStatus).Inc()
	c.observer.OnUpdate(frame)

	if !frame.Terminal() {
		return false
	}
	if !c.current(gen) {
		return true
	}

	logger.Debug("Stream reached terminal status", "content_id", c.target.ContentID, "status", frame.ProcessingStatus, "snapshot", frame.Type == api.FrameConnected)
	c.observer.OnComplete(frame)
	c.Disconnect()
	return true
}

func (c *Client) handleError(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.closed {
		// Closed deliberately.
		c.mu.Unlock()
		return
	}

	reader, cancel := c.reader, c.cancel
	c.reader, c.cancel = nil, nil
	c.stats.LastError = cause.Error()
	c.stats.DisconnectedAt = c.clock.Now()
	c.attempts++
	c.gen++

	if c.attempts > c.config.MaxReconnectAttempts {
		c.closed = true
		c.state = StateDisconnected
		attempts := c.attempts - 1
		c.mu.Unlock()

		closeConn(reader, cancel)
		metrics.StreamFailuresTotal.Inc()
		logger.Error("Stream reconnect attempts exhausted", "content_id", c.target.ContentID, "attempts", attempts, "error", cause)
		c.observer.OnError(fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, attempts, cause))
		return
	}

	attempt := c.attempts
	delay := time.Duration(attempt) * c.config.ReconnectStep
	next := c.gen
	c.state = StateReconnecting
	c.stats.ReconnectCount++
	c.retry = c.clock.AfterFunc(delay, func() { c.open(next) })
	c.mu.Unlock()

	closeConn(reader, cancel)
	metrics.StreamReconnectsTotal.Inc()
	logger.Warn("Stream error, reconnecting", "content_id", c.target.ContentID, "attempt", attempt, "delay", delay, "error", cause)
	c.observer.OnReconnecting(attempt, delay)
}

func closeConn(reader FrameReader, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if reader != nil {
		reader.Close()
	}
}
