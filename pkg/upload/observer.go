package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/events"
	"github.com/factline/cli/pkg/logger"
	"github.com/factline/cli/pkg/metrics"
	"github.com/factline/cli/pkg/notify"
)

// jobObserver routes one job's stream events to notices, the pending
// store and the event bus.
type jobObserver struct {
	orch *Orchestrator
	job  *Job
}

func (w *jobObserver) OnUpdate(frame api.StatusFrame) {
	o := w.orch
	if frame.Terminal() || o.queue == nil || o.isClosed() {
		return
	}

	progress := frame.Progress
	if snap, ok := o.registry.Snapshot(w.job.ContentID); ok {
		progress = snap.Progress
	}
	fields := notify.NoticeFields{Progress: notify.Int(progress)}
	if msg := statusMessage(frame); msg != "" {
		fields.Message = notify.String(msg)
	}
	o.queue.UpsertProgressNotice(w.job.ContentID, fields)
}

func (w *jobObserver) OnComplete(frame api.StatusFrame) {
	o := w.orch
	job := w.job
	if o.isClosed() {
		return
	}

	state := api.JobStateFromStatus(frame.ProcessingStatus)
	target := o.contentURL(job.Kind, job.ContentID)

	if o.queue != nil {
		outcome := notify.Outcome{
			ContentID: job.ContentID,
			Kind:      job.Kind,
			State:     state,
			Message:   frame.Message,
			Target:    target,
		}
		if o.navigate != nil && target != "" {
			navigate := o.navigate
			outcome.OnActivate = func() { navigate(target) }
		}
		o.queue.CompleteJob(outcome)
	}

	if err := o.store.Delete(context.Background(), job.Kind, job.ContentID); err != nil {
		logger.Warn("Could not forget pending content", "content_id", job.ContentID, "error", err)
	}

	o.bus.Publish(events.ProcessingComplete{
		ContentID:          job.ContentID,
		ContentType:        job.Kind,
		Status:             frame.ProcessingStatus,
		VerificationStatus: frame.VerificationStatus,
	})

	metrics.UploadsTotal.WithLabelValues(string(job.Kind), string(state)).Inc()
	metrics.UploadDuration.WithLabelValues(string(job.Kind), frame.ProcessingStatus).
		Observe(o.clock.Since(job.startedAt).Seconds())
	logger.Info("Processing finished",
		"kind", job.Kind,
		"content_id", job.ContentID,
		"status", frame.ProcessingStatus,
		"verification_status", frame.VerificationStatus)

	o.release(job)
	job.finish(Completion{
		State:              state,
		Status:             frame.ProcessingStatus,
		VerificationStatus: frame.VerificationStatus,
		Message:            frame.Message,
		Target:             target,
	})
}

// OnError means the stream gave up. The item keeps processing server-side,
// so its pending record stays for a later resume.
func (w *jobObserver) OnError(err error) {
	o := w.orch
	job := w.job
	if o.isClosed() {
		return
	}

	logger.Error("Lost live status", "kind", job.Kind, "content_id", job.ContentID, "error", err)
	metrics.UploadsTotal.WithLabelValues(string(job.Kind), "lost").Inc()

	if o.queue != nil {
		o.queue.RemoveProgressNotice(job.ContentID)
		o.queue.EnqueueSnackbar(
			fmt.Sprintf("Lost connection while tracking your %s. It is still processing.", job.Kind),
			notify.SeverityWarning)
	}

	o.release(job)
	job.finish(Completion{Err: err})
}

func (w *jobObserver) OnReconnecting(attempt int, delay time.Duration) {
	o := w.orch
	if o.queue == nil || o.isClosed() {
		return
	}
	o.queue.UpsertProgressNotice(w.job.ContentID, notify.NoticeFields{
		Message: notify.String(fmt.Sprintf("Connection lost, retrying in %s (attempt %d)", delay, attempt)),
	})
}

func statusMessage(frame api.StatusFrame) string {
	if frame.Message != "" {
		return frame.Message
	}
	return frame.Step
}
