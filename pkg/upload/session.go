package upload

import (
	"sync"

	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/media"
	"github.com/factline/cli/pkg/poller"
)

// Stage is where a selected file is in the upload flow.
type Stage int

const (
	StageIdle Stage = iota
	StageValidating
	StagePreAnalyzing
	StageSubmitReady
	StageSubmitting
	StageTracked
	StageTerminal
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageValidating:
		return "validating"
	case StagePreAnalyzing:
		return "pre_analyzing"
	case StageSubmitReady:
		return "submit_ready"
	case StageSubmitting:
		return "submitting"
	case StageTracked:
		return "tracked"
	case StageTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// PreAnalysis is what is known about a file before submission. Outcome is
// empty while the task is still being polled.
type PreAnalysis struct {
	TaskID     string
	Outcome    poller.Outcome
	Reason     string
	Moderation *api.ModerationDetail
}

// Session is one selected file on its way to becoming a post or reel.
type Session struct {
	ID   string
	Kind api.ContentKind
	Path string

	orch      *Orchestrator
	file      media.Result
	ready     chan struct{}
	readyOnce sync.Once

	mu      sync.Mutex
	stage   Stage
	pre     PreAnalysis
	token   string
	handle  *poller.Handle
	job     *Job
	removed bool
}

// Stage returns the current stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// PreAnalysis returns the pre-analysis state.
func (s *Session) PreAnalysis() PreAnalysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pre
}

// Token is the processing token to hand to submission, if pre-analysis succeeded.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// UploadPath is the file that will be sent: the compressed copy, if any.
func (s *Session) UploadPath() string {
	return s.file.Path
}

// Ready is closed once pre-analysis has an outcome or was abandoned.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Job returns the tracked job after a successful submission.
func (s *Session) Job() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// Remove deselects the file: pre-analysis polling stops and temporary
// files are deleted. Removing a submitted session only releases its files.
func (s *Session) Remove() {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	s.removed = true
	handle := s.handle
	s.handle = nil
	if s.stage < StageSubmitting {
		s.stage = StageIdle
	}
	s.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
	s.markReady()
	s.file.Cleanup()
	s.orch.forget(s)
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Session) setStage(stage Stage) {
	s.mu.Lock()
	s.stage = stage
	s.mu.Unlock()
}
