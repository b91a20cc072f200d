package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/logger"
	"github.com/factline/cli/pkg/metrics"
	"github.com/factline/cli/pkg/stream"
	"github.com/jonboulle/clockwork"
)

// TrackedJob is the registry's snapshot of one content item's processing.
type TrackedJob struct {
	ContentID          string
	Kind               api.ContentKind
	State              api.JobState
	Progress           int
	Message            string
	Step               string
	VerificationStatus string
	StartedAt          time.Time
	UpdatedAt          time.Time
}

// Tracker is a live status source for one content item. Connect must not
// block or call its observer synchronously.
type Tracker interface {
	Connect()
	Disconnect()
}

// Factory builds the tracker for a content item. The registry passes its
// own observer, which forwards to the caller's.
type Factory func(target stream.Target, observer stream.Observer) Tracker

// StreamFactory builds stream clients over transport.
func StreamFactory(transport stream.Transport, opts ...stream.Option) Factory {
	return func(target stream.Target, observer stream.Observer) Tracker {
		return stream.NewClient(target, transport, observer, opts...)
	}
}

type entry struct {
	tracker Tracker
	job     TrackedJob
}

// Registry holds at most one live tracker per content id.
type Registry struct {
	factory Factory
	clock   clockwork.Clock

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock used for snapshot timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

// New creates an empty registry.
func New(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		factory: factory,
		clock:   clockwork.NewRealClock(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Track starts following contentID. It returns false, without touching the
// existing tracker, when the id is already tracked or the registry is torn down.
func (r *Registry) Track(kind api.ContentKind, contentID, credential string, observer stream.Observer) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		logger.Warn("Track after teardown ignored", "content_id", contentID)
		return false
	}
	if _, ok := r.entries[contentID]; ok {
		r.mu.Unlock()
		logger.Info("Content already tracked", "content_id", contentID)
		return false
	}

	now := r.clock.Now()
	e := &entry{job: TrackedJob{
		ContentID: contentID,
		Kind:      kind,
		State:     api.JobPending,
		StartedAt: now,
		UpdatedAt: now,
	}}
	target := stream.Target{Kind: kind, ContentID: contentID, Token: credential}
	e.tracker = r.factory(target, &forwarder{registry: r, entry: e, next: observer})
	r.entries[contentID] = e
	active := len(r.entries)
	// Connected under the lock so a racing Untrack always sees a started tracker.
	e.tracker.Connect()
	r.mu.Unlock()

	metrics.ActiveTrackers.Set(float64(active))
	logger.Debug("Tracking content", "kind", kind, "content_id", contentID)
	return true
}

// Untrack disconnects and forgets contentID. Unknown ids are ignored.
func (r *Registry) Untrack(contentID string) {
	r.mu.Lock()
	e, ok := r.entries[contentID]
	if ok {
		delete(r.entries, contentID)
	}
	active := len(r.entries)
	r.mu.Unlock()

	if !ok {
		return
	}
	metrics.ActiveTrackers.Set(float64(active))
	e.tracker.Disconnect()
	logger.Debug("Untracked content", "content_id", contentID)
}

// Snapshot returns the latest state of a tracked job.
func (r *Registry) Snapshot(contentID string) (TrackedJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[contentID]
	if !ok {
		return TrackedJob{}, false
	}
	return e.job, true
}

// IsTracked reports whether contentID has a live tracker.
func (r *Registry) IsTracked(contentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[contentID]
	return ok
}

// Active returns snapshots of all tracked jobs, oldest first.
func (r *Registry) Active() []TrackedJob {
	r.mu.Lock()
	jobs := make([]TrackedJob, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.job)
	}
	r.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].ContentID < jobs[j].ContentID
		}
		return jobs[i].StartedAt.Before(jobs[j].StartedAt)
	})
	return jobs
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Teardown disconnects every tracker. Later Track calls are ignored.
func (r *Registry) Teardown() {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for id, e := range entries {
		e.tracker.Disconnect()
		logger.Debug("Tracker torn down", "content_id", id)
	}
	metrics.ActiveTrackers.Set(0)
}

// apply folds a frame into the entry's snapshot, if the entry is still live.
func (r *Registry) apply(e *entry, frame api.StatusFrame) (TrackedJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[e.job.ContentID] != e {
		return TrackedJob{}, false
	}

	job := &e.job
	job.State = api.JobStateFromStatus(frame.ProcessingStatus)
	if frame.Progress > job.Progress || job.State.Terminal() {
		job.Progress = frame.Progress
	}
	if frame.Message != "" {
		job.Message = frame.Message
	}
	if frame.Step != "" {
		job.Step = frame.Step
	}
	if frame.VerificationStatus != "" {
		job.VerificationStatus = frame.VerificationStatus
	}
	job.UpdatedAt = r.clock.Now()
	return *job, true
}

// release removes e if it is still the live entry for its id.
func (r *Registry) release(e *entry) bool {
	r.mu.Lock()
	if r.entries[e.job.ContentID] != e {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, e.job.ContentID)
	active := len(r.entries)
	r.mu.Unlock()

	metrics.ActiveTrackers.Set(float64(active))
	return true
}

// forwarder keeps the registry's snapshot current and relays events.
type forwarder struct {
	registry *Registry
	entry    *entry
	next     stream.Observer
}

func (f *forwarder) OnUpdate(frame api.StatusFrame) {
	if _, ok := f.registry.apply(f.entry, frame); !ok {
		return
	}
	if f.next != nil {
		f.next.OnUpdate(frame)
	}
}

func (f *forwarder) OnComplete(frame api.StatusFrame) {
	if !f.registry.release(f.entry) {
		return
	}
	if f.next != nil {
		f.next.OnComplete(frame)
	}
}

func (f *forwarder) OnError(err error) {
	if !f.registry.release(f.entry) {
		return
	}
	if f.next != nil {
		f.next.OnError(err)
	}
}

func (f *forwarder) OnReconnecting(attempt int, delay time.Duration) {
	if f.next != nil {
		f.next.OnReconnecting(attempt, delay)
	}
}
