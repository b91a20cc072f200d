// Package upload drives a content item from file selection through
// pre-analysis and submission to a terminal processing status.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/events"
	cerrors "github.com/factline/cli/pkg/errors"
	"github.com/factline/cli/pkg/logger"
	"github.com/factline/cli/pkg/media"
	"github.com/factline/cli/pkg/metrics"
	"github.com/factline/cli/pkg/notify"
	"github.com/factline/cli/pkg/pending"
	"github.com/factline/cli/pkg/poller"
	"github.com/factline/cli/pkg/registry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrClosed is returned by operations on a closed orchestrator.
var ErrClosed = errors.New("upload orchestrator closed")

// API is the part of the remote service the orchestrator calls.
type API interface {
	poller.StatusFetcher
	StartPreAnalysis(ctx context.Context, kind api.ContentKind, filePath string) (*api.PreAnalysisStart, error)
	Submit(ctx context.Context, kind api.ContentKind, filePath, caption, processingToken string) (*api.Content, error)
}

// Deps are the collaborators an orchestrator requests work from. It owns
// none of them; Store and Bus default to in-memory values.
type Deps struct {
	API      API
	Registry *registry.Registry
	Queue    *notify.Queue
	Store    pending.Store
	Bus      *events.Bus
}

// Orchestrator runs the upload flow for any number of files at once.
type Orchestrator struct {
	api        API
	registry   *registry.Registry
	queue      *notify.Queue
	store      pending.Store
	bus        *events.Bus
	poller     *poller.Poller
	compressor *media.Compressor
	clock      clockwork.Clock
	navigate   func(target string)
	cfg        Config

	mu       sync.Mutex
	sessions map[string]*Session
	jobs     map[string]*Job
	closed   bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock, including the pre-analysis poller's.
func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithNavigator is called when the user activates a success notice.
func WithNavigator(fn func(target string)) Option {
	return func(o *Orchestrator) { o.navigate = fn }
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:      deps.API,
		registry: deps.Registry,
		queue:    deps.Queue,
		store:    deps.Store,
		bus:      deps.Bus,
		clock:    clockwork.NewRealClock(),
		cfg:      cfg,
		sessions: make(map[string]*Session),
		jobs:     make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = pending.NewMemoryStore()
	}
	if o.bus == nil {
		o.bus = events.NewBus()
	}
	if cfg.CompressImages {
		o.compressor = media.NewCompressor(cfg.Compression)
	}
	o.poller = poller.New(deps.API, poller.WithClock(o.clock))
	return o
}

// Select validates a file and starts pre-analysis for it. Validation errors
// are returned before any network call. Pre-analysis problems never fail
// Select; the session is simply ready to submit without a processing token.
// Polling runs until it ends, the session is removed, or ctx is done.
func (o *Orchestrator) Select(ctx context.Context, kind api.ContentKind, path string) (*Session, error) {
	if err := o.validate(kind, path); err != nil {
		metrics.UploadsTotal.WithLabelValues(string(kind), "invalid").Inc()
		logger.Debug("File rejected", "kind", kind, "path", path, "error", err)
		return nil, err
	}

	s := &Session{
		ID:    uuid.NewString(),
		Kind:  kind,
		Path:  path,
		orch:  o,
		file:  media.Result{Path: path},
		ready: make(chan struct{}),
		stage: StageValidating,
	}

	if kind.Media() == api.MediaImage && o.compressor != nil {
		s.file = o.compressor.Compress(path)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		s.file.Cleanup()
		return nil, ErrClosed
	}
	o.sessions[s.ID] = s
	o.mu.Unlock()

	start, err := o.api.StartPreAnalysis(ctx, kind, s.file.Path)
	switch {
	case err != nil:
		logger.Warn("Pre-analysis could not start", "kind", kind, "error", err)
		o.preAnalysisUnavailable(s, "start_failed")
		return s, nil
	case !start.Success:
		logger.Warn("Pre-analysis declined", "kind", kind, "message", start.Message)
		o.preAnalysisUnavailable(s, "declined")
		return s, nil
	}

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return s, nil
	}
	s.stage = StagePreAnalyzing
	s.pre.TaskID = start.TaskID
	// Holding the lock keeps OnDone from running before handle is stored.
	s.handle = o.poller.Start(ctx, start.TaskID, o.cfg.pollConfig(kind.Media()), poller.Callbacks{
		OnDone: func(r poller.Result) { o.preAnalysisDone(s, r) },
	})
	s.mu.Unlock()

	logger.Debug("File selected", "session", s.ID, "kind", kind, "task_id", start.TaskID, "compressed", s.file.Compressed)
	return s, nil
}

func (o *Orchestrator) validate(kind api.ContentKind, path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return cerrors.FileNotFoundError(path)
	}

	allowed, maxBytes := o.cfg.limits(kind.Media())
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(allowed, ext) {
		return cerrors.FileFormatError(ext, allowed)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return cerrors.FileSizeError(float64(info.Size())/megabyte, maxBytes/megabyte)
	}
	return nil
}

func (o *Orchestrator) preAnalysisUnavailable(s *Session, reason string) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	s.stage = StageSubmitReady
	s.pre.Outcome = poller.OutcomeUnavailable
	s.pre.Reason = reason
	s.mu.Unlock()

	o.announcePreAnalysis(s.Kind, poller.Result{Outcome: poller.OutcomeUnavailable, Reason: reason})
	s.markReady()
}

func (o *Orchestrator) preAnalysisDone(s *Session, r poller.Result) {
	s.mu.Lock()
	if s.removed || s.stage != StagePreAnalyzing {
		s.mu.Unlock()
		return
	}
	s.stage = StageSubmitReady
	s.handle = nil
	s.pre.Outcome = r.Outcome
	s.pre.Reason = r.Reason
	s.pre.Moderation = r.Moderation
	if r.Outcome == poller.OutcomeSucceeded {
		s.token = r.ProcessingToken
	}
	s.mu.Unlock()

	o.announcePreAnalysis(s.Kind, r)
	s.markReady()
}

// announcePreAnalysis tells the user how early analysis went. A moderation
// finding is only surfaced as such for images; for videos it reads the same
// as unavailable analysis.
func (o *Orchestrator) announcePreAnalysis(kind api.ContentKind, r poller.Result) {
	switch {
	case r.Outcome == poller.OutcomeSucceeded:
		logger.Info("Pre-analysis complete", "kind", kind, "task_id", r.TaskID)

	case r.Outcome == poller.OutcomeModerationFailed && kind.Media() == api.MediaImage:
		msg := "This image may not meet the community guidelines"
		if r.Moderation != nil && r.Moderation.Message != "" {
			msg += ": " + r.Moderation.Message
		}
		o.snackbar(msg, notify.SeverityWarning)

	default:
		o.snackbar(fmt.Sprintf("Pre-processing unavailable. Your %s will be processed during upload.", kind), notify.SeverityInfo)
	}
}

func (o *Orchestrator) snackbar(message string, severity notify.Severity) {
	if o.queue != nil {
		o.queue.EnqueueSnackbar(message, severity)
	}
}

// Submit sends the file. A pre-analysis still in flight is abandoned and the
// server redoes the analysis. On success the content is tracked and Submit
// returns without waiting for processing; a moderation rejection comes back
// as a structured *errors.CLIError and nothing is tracked.
func (o *Orchestrator) Submit(ctx context.Context, s *Session, caption string) (*api.Content, error) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return nil, cerrors.ValidationError("file", "no longer selected")
	}
	if s.stage >= StageSubmitting {
		s.mu.Unlock()
		return nil, cerrors.ValidationError("file", "already submitted")
	}
	handle := s.handle
	s.handle = nil
	if handle != nil {
		s.pre.Outcome = poller.OutcomeUnavailable
		s.pre.Reason = "abandoned"
	}
	token := s.token
	s.stage = StageSubmitting
	s.mu.Unlock()

	if handle != nil {
		handle.Stop()
		s.markReady()
		logger.Info("Submitting before pre-analysis finished", "task_id", handle.TaskID())
	}

	content, err := o.api.Submit(ctx, s.Kind, s.file.Path, caption, token)
	if err != nil {
		s.setStage(StageSubmitReady)
		cliErr := cerrors.CategorizeError(err)
		result := "failed"
		if cliErr.Type == cerrors.ErrorTypeModeration {
			result = "rejected"
		}
		metrics.UploadsTotal.WithLabelValues(string(s.Kind), result).Inc()
		logger.Warn("Submission failed", "kind", s.Kind, "type", cliErr.Type, "error", cliErr)
		return nil, cliErr
	}
	metrics.UploadsTotal.WithLabelValues(string(s.Kind), "submitted").Inc()

	s.file.Cleanup()
	o.forget(s)

	job, err := o.track(ctx, pending.Record{
		Kind:      s.Kind,
		ContentID: content.ID,
		Caption:   caption,
		CreatedAt: o.clock.Now(),
	}, s)
	if err != nil {
		return content, err
	}

	s.mu.Lock()
	s.job = job
	// The job may already have finished.
	if s.stage == StageSubmitting {
		s.stage = StageTracked
	}
	s.mu.Unlock()
	return content, nil
}

// Track follows already submitted content. It is a no-op returning the
// existing job when the id is tracked.
func (o *Orchestrator) Track(ctx context.Context, kind api.ContentKind, contentID string) (*Job, error) {
	return o.track(ctx, pending.Record{Kind: kind, ContentID: contentID, CreatedAt: o.clock.Now()}, nil)
}

// Resume tracks every content item left pending by an earlier process.
func (o *Orchestrator) Resume(ctx context.Context) ([]*Job, error) {
	records, err := o.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending content: %w", err)
	}

	jobs := make([]*Job, 0, len(records))
	for _, rec := range records {
		job, err := o.track(ctx, rec, nil)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	logger.Debug("Resumed pending content", "count", len(jobs))
	return jobs, nil
}

func (o *Orchestrator) track(ctx context.Context, rec pending.Record, s *Session) (*Job, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if job, ok := o.jobs[rec.ContentID]; ok {
		o.mu.Unlock()
		logger.Info("Content already tracked", "content_id", rec.ContentID)
		return job, nil
	}
	job := newJob(rec.Kind, rec.ContentID, rec.CreatedAt, s)
	o.jobs[rec.ContentID] = job
	o.mu.Unlock()

	if err := o.store.Save(ctx, rec); err != nil {
		logger.Warn("Could not remember pending content", "content_id", rec.ContentID, "error", err)
	}

	if o.queue != nil {
		o.queue.BeginJob(rec.ContentID, rec.Kind, "Waiting for processing to start")
	}

	if !o.registry.Track(rec.Kind, rec.ContentID, o.cfg.Credential, &jobObserver{orch: o, job: job}) {
		o.release(job)
		if o.queue != nil {
			o.queue.RemoveProgressNotice(rec.ContentID)
		}
		return nil, fmt.Errorf("track %s %s: registry refused", rec.Kind, rec.ContentID)
	}
	return job, nil
}

// Jobs returns the jobs currently followed.
func (o *Orchestrator) Jobs() []*Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Job, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, job)
	}
	return out
}

func (o *Orchestrator) release(job *Job) {
	o.mu.Lock()
	if o.jobs[job.ContentID] == job {
		delete(o.jobs, job.ContentID)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) forget(s *Session) {
	o.mu.Lock()
	delete(o.sessions, s.ID)
	o.mu.Unlock()
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// contentURL is where a finished item can be viewed.
func (o *Orchestrator) contentURL(kind api.ContentKind, contentID string) string {
	if o.cfg.WebBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(o.cfg.WebBaseURL, "/"), kind.Collection(), contentID)
}

// Close removes every selected session and releases waiters of unfinished
// jobs with ErrClosed. Trackers stay with the registry.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	sessions := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	jobs := make([]*Job, 0, len(o.jobs))
	for _, job := range o.jobs {
		jobs = append(jobs, job)
	}
	o.jobs = make(map[string]*Job)
	o.mu.Unlock()

	for _, s := range sessions {
		s.Remove()
	}
	for _, job := range jobs {
		job.finish(Completion{Err: ErrClosed})
	}
}
