package upload

import (
	"context"
	"sync"
	"time"

	"github.com/factline/cli/pkg/api"
)

// Completion is how tracking of a job ended. Err is set when the live
// stream was lost before a terminal status arrived.
type Completion struct {
	ContentID          string
	Kind               api.ContentKind
	State              api.JobState
	Status             string
	VerificationStatus string
	Message            string
	Target             string
	Err                error
}

// Job is a submitted content item being followed to a terminal status.
type Job struct {
	ContentID string
	Kind      api.ContentKind

	startedAt time.Time
	session   *Session
	done      chan struct{}
	once      sync.Once
	result    Completion
}

func newJob(kind api.ContentKind, contentID string, startedAt time.Time, session *Session) *Job {
	return &Job{
		ContentID: contentID,
		Kind:      kind,
		startedAt: startedAt,
		session:   session,
		done:      make(chan struct{}),
	}
}

// Done is closed when the job reaches a terminal status or tracking is lost.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result is valid once Done is closed.
func (j *Job) Result() Completion {
	<-j.done
	return j.result
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (Completion, error) {
	select {
	case <-j.done:
		return j.result, j.result.Err
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

func (j *Job) finish(c Completion) bool {
	first := false
	j.once.Do(func() {
		first = true
		c.ContentID = j.ContentID
		c.Kind = j.Kind
		j.result = c
		close(j.done)
	})
	if first && j.session != nil {
		j.session.setStage(StageTerminal)
	}
	return first
}
