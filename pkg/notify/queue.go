package notify

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/logger"
	"github.com/factline/cli/pkg/metrics"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DefaultSnackbarDuration is the auto-hide delay when none is given.
const DefaultSnackbarDuration = 6 * time.Second

// maxFinished bounds how many completed job ids are remembered for
// dropping late progress and duplicate terminal notices.
const maxFinished = 256

// Queue owns the snackbar queue and the set of progress notices.
type Queue struct {
	presenter       Presenter
	clock           clockwork.Clock
	defaultDuration time.Duration

	mu        sync.Mutex
	current   *Snackbar
	hideTimer clockwork.Timer
	pending   []Snackbar

	notices  map[string]*ProgressNotice
	expiry   map[string]clockwork.Timer
	seq      map[string]uint64
	finished      map[string]bool
	finishedOrder []string
	closed        bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces the wall clock used for auto-hide timers.
func WithClock(clock clockwork.Clock) Option {
	return func(q *Queue) { q.clock = clock }
}

// WithDefaultDuration sets the auto-hide delay of snackbars.
func WithDefaultDuration(d time.Duration) Option {
	return func(q *Queue) { q.defaultDuration = d }
}

// NewQueue creates an empty queue rendering to presenter.
func NewQueue(presenter Presenter, opts ...Option) *Queue {
	q := &Queue{
		presenter:       presenter,
		clock:           clockwork.NewRealClock(),
		defaultDuration: DefaultSnackbarDuration,
		notices:         make(map[string]*ProgressNotice),
		expiry:          make(map[string]clockwork.Timer),
		seq:             make(map[string]uint64),
		finished:        make(map[string]bool),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnqueueSnackbar appends a snackbar and returns its id. It is shown
// immediately when nothing else is on screen.
func (q *Queue) EnqueueSnackbar(message string, severity Severity, opts ...SnackbarOption) string {
	s := Snackbar{
		ID:       uuid.NewString(),
		Message:  message,
		Severity: severity,
		Duration: q.defaultDuration,
	}
	for _, opt := range opts {
		opt(&s)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return s.ID
	}

	metrics.NotificationsTotal.WithLabelValues(string(severity)).Inc()
	q.pending = append(q.pending, s)
	if q.current == nil {
		q.showNextLocked()
	}
	return s.ID
}

// Dismiss hides snackbar id. Clickaway is ignored. Closing a snackbar that
// is still queued drops it. It reports whether anything changed.
func (q *Queue) Dismiss(id string, reason DismissReason) bool {
	if reason == ReasonClickaway {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dismissLocked(id, reason)
}

// Activate runs the snackbar's action and closes it.
func (q *Queue) Activate(id string) bool {
	q.mu.Lock()
	if q.current == nil || q.current.ID != id || !q.current.Clickable {
		q.mu.Unlock()
		return false
	}
	action := q.current.OnActivate
	q.dismissLocked(id, ReasonClosed)
	q.mu.Unlock()

	if action != nil {
		action()
	}
	return true
}

// Current returns the snackbar on screen.
func (q *Queue) Current() (Snackbar, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Snackbar{}, false
	}
	return *q.current, true
}

// Pending returns the number of snackbars waiting behind the current one.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) dismissLocked(id string, reason DismissReason) bool {
	if q.current == nil || q.current.ID != id {
		for i, s := range q.pending {
			if s.ID == id && reason == ReasonClosed {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				return true
			}
		}
		return false
	}

	if q.hideTimer != nil {
		q.hideTimer.Stop()
		q.hideTimer = nil
	}
	q.current = nil
	q.presenter.HideSnackbar(id, reason)
	q.showNextLocked()
	return true
}

func (q *Queue) showNextLocked() {
	if len(q.pending) == 0 || q.closed {
		return
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	q.current = &next

	if next.Duration > 0 {
		id := next.ID
		q.hideTimer = q.clock.AfterFunc(next.Duration, func() {
			q.Dismiss(id, ReasonTimeout)
		})
	}
	q.presenter.ShowSnackbar(next)
}

// UpsertProgressNotice creates or merges the notice for id. Updates for a
// job that already reached a terminal notice are dropped.
func (q *Queue) UpsertProgressNotice(id string, fields NoticeFields) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if q.finished[id] {
		logger.Debug("Dropping progress for finished job", "content_id", id)
		return
	}
	q.upsertLocked(id, fields)
}

func (q *Queue) upsertLocked(id string, fields NoticeFields) {
	now := q.clock.Now()
	n, ok := q.notices[id]
	if !ok {
		n = &ProgressNotice{ID: id, CreatedAt: now}
		q.notices[id] = n
	}

	if fields.Kind != nil {
		n.Kind = *fields.Kind
	}
	if fields.Title != nil {
		n.Title = *fields.Title
	}
	if fields.Message != nil {
		n.Message = *fields.Message
	}
	if fields.Progress != nil {
		n.Progress = clamp(*fields.Progress)
	}
	if fields.Persistent != nil {
		n.Persistent = *fields.Persistent
	}
	if fields.Duration != nil {
		n.Duration = *fields.Duration
	}
	n.UpdatedAt = now

	if timer, ok := q.expiry[id]; ok {
		timer.Stop()
		delete(q.expiry, id)
	}
	q.seq[id]++
	if n.AutoDismiss() {
		seq := q.seq[id]
		q.expiry[id] = q.clock.AfterFunc(n.Duration, func() { q.expireNotice(id, seq) })
	}

	q.renderLocked()
}

func (q *Queue) expireNotice(id string, seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seq[id] != seq {
		return
	}
	q.removeLocked(id)
}

// RemoveProgressNotice deletes the notice for id, if any.
func (q *Queue) RemoveProgressNotice(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(id)
}

func (q *Queue) removeLocked(id string) bool {
	if _, ok := q.notices[id]; !ok {
		return false
	}
	delete(q.notices, id)
	if timer, ok := q.expiry[id]; ok {
		timer.Stop()
		delete(q.expiry, id)
	}
	delete(q.seq, id)
	q.renderLocked()
	return true
}

// Notice returns the notice for id.
func (q *Queue) Notice(id string) (ProgressNotice, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n, ok := q.notices[id]
	if !ok {
		return ProgressNotice{}, false
	}
	return *n, true
}

// Notices returns all notices, oldest first.
func (q *Queue) Notices() []ProgressNotice {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.noticesLocked()
}

func (q *Queue) noticesLocked() []ProgressNotice {
	out := make([]ProgressNotice, 0, len(q.notices))
	for _, n := range q.notices {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (q *Queue) renderLocked() {
	q.presenter.RenderNotices(q.noticesLocked())
}

// BeginJob opens the persistent notice for a newly tracked job and allows a
// terminal notice for it again.
func (q *Queue) BeginJob(id string, kind api.ContentKind, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if q.finished[id] {
		delete(q.finished, id)
		for i, f := range q.finishedOrder {
			if f == id {
				q.finishedOrder = append(q.finishedOrder[:i], q.finishedOrder[i+1:]...)
				break
			}
		}
	}
	q.upsertLocked(id, NoticeFields{
		Kind:       Kind(kind),
		Title:      String(fmt.Sprintf("Processing %s", kind)),
		Message:    String(message),
		Progress:   Int(0),
		Persistent: Bool(true),
	})
}

// CompleteJob removes the job's notice and enqueues its terminal snackbar.
// Only the first call per job has an effect; it reports whether it did.
func (q *Queue) CompleteJob(o Outcome) bool {
	severity, message, ok := terminalNotice(o)
	if !ok {
		logger.Warn("Ignoring non-terminal outcome", "content_id", o.ContentID, "state", o.State)
		return false
	}

	q.mu.Lock()
	if q.finished[o.ContentID] {
		q.mu.Unlock()
		logger.Debug("Terminal notice already shown", "content_id", o.ContentID)
		return false
	}
	q.markFinishedLocked(o.ContentID)
	q.removeLocked(o.ContentID)
	q.mu.Unlock()

	var opts []SnackbarOption
	if o.State == api.JobSucceeded && (o.Target != "" || o.OnActivate != nil) {
		opts = append(opts, WithAction(o.Target, o.OnActivate))
	}
	q.EnqueueSnackbar(message, severity, opts...)
	return true
}

func (q *Queue) markFinishedLocked(id string) {
	q.finished[id] = true
	q.finishedOrder = append(q.finishedOrder, id)
	for len(q.finishedOrder) > maxFinished {
		oldest := q.finishedOrder[0]
		q.finishedOrder = q.finishedOrder[1:]
		delete(q.finished, oldest)
	}
}

func terminalNotice(o Outcome) (Severity, string, bool) {
	kind := o.Kind
	if kind == "" {
		kind = api.KindPost
	}

	switch o.State {
	case api.JobSucceeded:
		return SeveritySuccess, fmt.Sprintf("Your %s is live!", kind), true
	case api.JobFailed:
		msg := fmt.Sprintf("Processing failed for your %s", kind)
		if o.Message != "" {
			msg += ": " + o.Message
		}
		return SeverityError, msg, true
	case api.JobRejected:
		msg := fmt.Sprintf("Your %s was rejected", kind)
		if o.Message != "" {
			msg += ": " + o.Message
		}
		return SeverityWarning, msg, true
	default:
		return "", "", false
	}
}

// Drain presents every queued snackbar in order, one at a time, without
// waiting for auto-hide. The last one stays on screen. It returns how many
// were presented.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}

	shown := 0
	for len(q.pending) > 0 {
		if q.current == nil {
			q.showNextLocked()
		} else {
			q.dismissLocked(q.current.ID, ReasonTimeout)
		}
		shown++
	}
	return shown
}

// Close stops every timer. The queue ignores further input. Snackbars still
// queued are dropped; call Drain first to present them.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if n := len(q.pending); n > 0 {
		logger.Debug("Dropping queued snackbars", "count", n)
		q.pending = nil
	}
	q.finished = make(map[string]bool)
	q.finishedOrder = nil
	if q.hideTimer != nil {
		q.hideTimer.Stop()
		q.hideTimer = nil
	}
	for id, timer := range q.expiry {
		timer.Stop()
		delete(q.expiry, id)
	}
}

func clamp(progress int) int {
	switch {
	case progress < 0:
		return 0
	case progress > 100:
		return 100
	default:
		return progress
	}
}
