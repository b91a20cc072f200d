package notify

import (
	"time"

	"github.com/factline/cli/pkg/api"
)

// Severity of a snackbar.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// DismissReason says why a snackbar went away.
type DismissReason string

const (
	ReasonTimeout DismissReason = "timeout"
	ReasonClosed  DismissReason = "closed"
	// ReasonClickaway never dismisses.
	ReasonClickaway DismissReason = "clickaway"
)

// Snackbar is a transient notification.
type Snackbar struct {
	ID       string
	Message  string
	Severity Severity
	// Zero means it stays until dismissed.
	Duration   time.Duration
	Clickable  bool
	Target     string
	OnActivate func()
}

// SnackbarOption customizes an enqueued snackbar.
type SnackbarOption func(*Snackbar)

// WithDuration overrides the auto-hide delay. Zero disables auto-hide.
func WithDuration(d time.Duration) SnackbarOption {
	return func(s *Snackbar) { s.Duration = d }
}

// WithAction makes the snackbar clickable; activating it calls fn.
func WithAction(target string, fn func()) SnackbarOption {
	return func(s *Snackbar) {
		s.Clickable = true
		s.Target = target
		s.OnActivate = fn
	}
}

// ProgressNotice is the persistent in-progress indicator of one content item.
type ProgressNotice struct {
	ID         string
	Kind       api.ContentKind
	Title      string
	Message    string
	Progress   int
	Persistent bool
	Duration   time.Duration
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AutoDismiss reports whether the notice hides itself after Duration.
func (n ProgressNotice) AutoDismiss() bool {
	return n.Duration > 0 && !n.Persistent
}

// NoticeFields is a partial update. Nil fields are left unchanged.
type NoticeFields struct {
	Kind       *api.ContentKind
	Title      *string
	Message    *string
	Progress   *int
	Persistent *bool
	Duration   *time.Duration
}

// String, Int, Bool, Duration and Kind build NoticeFields values.
func String(s string) *string { return &s }
func Int(i int) *int { return &i }
func Bool(b bool) *bool { return &b }
func Duration(d time.Duration) *time.Duration { return &d }
func Kind(k api.ContentKind) *api.ContentKind { return &k }

// Outcome is the terminal result of a tracked job.
type Outcome struct {
	ContentID string
	Kind      api.ContentKind
	State     api.JobState
	Message   string
	// Target is where activating the success snackbar navigates.
	Target     string
	OnActivate func()
}

// Presenter renders the queue. It is called with the queue locked, in the
// order changes happen, and must not call back into the queue.
type Presenter interface {
	ShowSnackbar(s Snackbar)
	HideSnackbar(id string, reason DismissReason)
	RenderNotices(notices []ProgressNotice)
}
