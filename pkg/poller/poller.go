package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/logger"
	"github.com/factline/cli/pkg/metrics"
	"github.com/jonboulle/clockwork"
)

// ErrStopped is returned by Handle.Err after an explicit Stop.
var ErrStopped = errors.New("poller stopped")

// Outcome is the terminal result of a pre-analysis poll.
type Outcome string

const (
	OutcomeSucceeded        Outcome = "succeeded"
	OutcomeModerationFailed Outcome = "moderation_failed"
	// Pre-processing is unavailable; the final submission redoes it.
	OutcomeUnavailable Outcome = "unavailable"
)

// Reasons attached to OutcomeUnavailable.
const (
	ReasonFailure    = "failure"
	ReasonRetry      = "retry"
	ReasonIncomplete = "incomplete"
	ReasonTimeout    = "timeout"
	ReasonNotFound   = "not_found"
	ReasonErrors     = "error_budget"
)

// Result describes how polling ended.
type Result struct {
	TaskID     string
	Outcome    Outcome
	Reason     string
	Status     *api.PreAnalysisStatus
	Moderation *api.ModerationDetail
	// ProcessingToken is set on success when the result carries one.
	ProcessingToken string
	Err             error
}

// StatusFetcher returns the current status of a task.
type StatusFetcher interface {
	PreAnalysisStatus(ctx context.Context, taskID string) (*api.PreAnalysisStatus, error)
}

// Config controls cadence and budgets of one poll.
type Config struct {
	Interval time.Duration
	// Timeout is an absolute wall-clock budget. Zero disables it.
	Timeout              time.Duration
	MaxConsecutiveErrors int
}

// DefaultConfig returns the observed defaults. Only video gets an absolute timeout.
func DefaultConfig(media api.MediaKind) Config {
	cfg := Config{
		Interval:             2 * time.Second,
		MaxConsecutiveErrors: 5,
	}
	if media == api.MediaVideo {
		cfg.Timeout = 3 * time.Minute
	}
	return cfg
}

// Callbacks receive poll events. Every check reports through OnUpdate when
// the response parsed or OnError when it did not; consecutive is the running
// error count (zero for not found). OnDone runs exactly once unless the
// handle is stopped first.
type Callbacks struct {
	OnUpdate func(status *api.PreAnalysisStatus)
	OnError  func(err error, consecutive int)
	OnDone   func(result Result)
}

// Poller starts status polls against a fetcher.
type Poller struct {
	fetcher StatusFetcher
	clock   clockwork.Clock
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Poller) { p.clock = clock }
}

// New creates a poller.
func New(fetcher StatusFetcher, opts ...Option) *Poller {
	p := &Poller{fetcher: fetcher, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle controls one running poll.
type Handle struct {
	taskID string
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
	err     error
}

// Start polls taskID until a terminal outcome, Stop, or ctx cancellation.
// The first check happens one interval after Start.
func (p *Poller) Start(ctx context.Context, taskID string, cfg Config, cb Callbacks) *Handle {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 5
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		taskID: taskID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	logger.Debug("Starting pre-analysis poll", "task_id", taskID, "interval", cfg.Interval, "timeout", cfg.Timeout)
	go p.run(ctx, h, cfg, cb)
	return h
}

// TaskID returns the polled task.
func (h *Handle) TaskID() string {
	return h.taskID
}

// Stop cancels polling. No callbacks are invoked after Stop returns, except
// one that was already running. Calling Stop again is a no-op.
func (h *Handle) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.err = ErrStopped
	h.mu.Unlock()

	h.cancel()
	logger.Debug("Pre-analysis poll stopped", "task_id", h.taskID)
}

// Done is closed when the polling goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns ErrStopped after an explicit Stop, otherwise nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.stopped
}

// claim marks the handle finished. Only the first caller wins.
func (h *Handle) claim() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.stopped = true
	return true
}

func (p *Poller) run(ctx context.Context, h *Handle, cfg Config, cb Callbacks) {
	defer close(h.done)
	defer h.cancel()

	started := p.clock.Now()
	ticker := p.clock.NewTicker(cfg.Interval)
	var timer clockwork.Timer
	var timeout <-chan time.Time
	if cfg.Timeout > 0 {
		timer = p.clock.NewTimer(cfg.Timeout)
		timeout = timer.Chan()
	}

	stopTimers := func() {
		ticker.Stop()
		if timer != nil {
			timer.Stop()
		}
	}
	defer stopTimers()

	finish := func(r Result) {
		stopTimers()
		if !h.claim() {
			return
		}
		r.TaskID = h.taskID
		metrics.PollOutcomesTotal.WithLabelValues(string(r.Outcome)).Inc()
		logger.Debug("Pre-analysis poll finished", "task_id", h.taskID, "outcome", r.Outcome, "reason", r.Reason)
		if cb.OnDone != nil {
			cb.OnDone(r)
		}
	}

	timedOut := func() {
		logger.Warn("Pre-analysis timed out", "task_id", h.taskID, "elapsed", p.clock.Since(started))
		finish(Result{Outcome: OutcomeUnavailable, Reason: ReasonTimeout})
	}

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return

		case <-timeout:
			timedOut()
			return

		case <-ticker.Chan():
		}

		if cfg.Timeout > 0 && p.clock.Since(started) >= cfg.Timeout {
			timedOut()
			return
		}

		status, err := p.fetcher.PreAnalysisStatus(ctx, h.taskID)
		if ctx.Err() != nil || !h.active() {
			return
		}

		if err != nil {
			notFound := errors.Is(err, api.ErrNotFound)
			if !notFound {
				consecutiveErrors++
			}
			if cb.OnError != nil {
				cb.OnError(err, consecutiveErrors)
				if !h.active() {
					return
				}
			}

			if notFound {
				metrics.PollChecksTotal.WithLabelValues("not_found").Inc()
				logger.Warn("Pre-analysis task not found", "task_id", h.taskID)
				finish(Result{Outcome: OutcomeUnavailable, Reason: ReasonNotFound, Err: err})
				return
			}

			metrics.PollChecksTotal.WithLabelValues("error").Inc()
			logger.Warn("Pre-analysis status check failed", "task_id", h.taskID, "consecutive", consecutiveErrors, "error", err)
			if consecutiveErrors >= cfg.MaxConsecutiveErrors {
				logger.Error("Pre-analysis error budget exhausted", "task_id", h.taskID, "errors", consecutiveErrors)
				finish(Result{Outcome: OutcomeUnavailable, Reason: ReasonErrors, Err: err})
				return
			}
			continue
		}

		consecutiveErrors = 0
		metrics.PollChecksTotal.WithLabelValues(string(status.State)).Inc()

		if cb.OnUpdate != nil {
			cb.OnUpdate(status)
			if !h.active() {
				return
			}
		}

		if result, terminal := classify(status); terminal {
			finish(result)
			return
		}
	}
}

// classify maps a status response to a terminal result, if any.
func classify(status *api.PreAnalysisStatus) (Result, bool) {
	switch status.State {
	case api.TaskPending, api.TaskProgress:
		return Result{}, false

	case api.TaskSuccess:
		res := status.Result
		switch {
		case res != nil && res.ModerationError != nil:
			return Result{Outcome: OutcomeModerationFailed, Status: status, Moderation: res.ModerationError}, true
		case res.Incomplete():
			return Result{Outcome: OutcomeUnavailable, Reason: ReasonIncomplete, Status: status}, true
		}
		r := Result{Outcome: OutcomeSucceeded, Status: status}
		if res != nil {
			r.ProcessingToken = res.ProcessingToken
		}
		return r, true

	case api.TaskFailure:
		return Result{Outcome: OutcomeUnavailable, Reason: ReasonFailure, Status: status}, true

	case api.TaskRetry:
		return Result{Outcome: OutcomeUnavailable, Reason: ReasonRetry, Status: status}, true

	default:
		logger.Warn("Unknown pre-analysis state", "state", status.State)
		return Result{}, false
	}
}
