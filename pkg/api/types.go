package api

import (
	"fmt"
	"strings"
)

// ContentKind is the user-facing content type.
type ContentKind string

const (
	KindPost ContentKind = "post"
	KindReel ContentKind = "reel"
)

// MediaKind is the kind of file carried by a content item.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// ParseKind accepts "post"/"reel" and their plurals.
func ParseKind(s string) (ContentKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "post", "posts":
		return KindPost, nil
	case "reel", "reels":
		return KindReel, nil
	default:
		return "", fmt.Errorf("unknown content kind %q (expected post or reel)", s)
	}
}

// Media returns the media kind a content kind carries: posts are images, reels are videos.
func (k ContentKind) Media() MediaKind {
	if k == KindReel {
		return MediaVideo
	}
	return MediaImage
}

// Collection is the plural path segment, e.g. "posts".
func (k ContentKind) Collection() string {
	return string(k) + "s"
}

// TaskState is the state of a pre-analysis task as reported by the server.
type TaskState string

const (
	TaskPending  TaskState = "PENDING"
	TaskProgress TaskState = "PROGRESS"
	TaskSuccess  TaskState = "SUCCESS"
	TaskFailure  TaskState = "FAILURE"
	TaskRetry    TaskState = "RETRY"
)

// JobState is the lifecycle state of a tracked job.
type JobState string

const (
	JobPending    JobState = "pending"
	JobInProgress JobState = "in_progress"
	JobSucceeded  JobState = "succeeded"
	JobFailed     JobState = "failed"
	JobRejected   JobState = "rejected"
)

// Terminal reports whether no further transition can occur from s.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobRejected
}

// Wire values of processing_status.
const (
	StatusPending  = "pending"
	StatusComplete = "complete"
	StatusError    = "error"
	StatusRejected = "rejected"
)

// IsTerminalStatus reports whether a wire processing_status ends the job.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusComplete, StatusError, StatusRejected:
		return true
	default:
		return false
	}
}

// JobStateFromStatus maps a wire processing_status to a job state.
func JobStateFromStatus(status string) JobState {
	switch status {
	case StatusComplete:
		return JobSucceeded
	case StatusError:
		return JobFailed
	case StatusRejected:
		return JobRejected
	case "", StatusPending, "queued":
		return JobPending
	default:
		return JobInProgress
	}
}

// Frame types sent on the live status stream. Ordinary updates carry no type.
const (
	FrameConnected = "connected"
	FrameHeartbeat = "heartbeat"
)

// StatusFrame is one record received on the live status stream.
type StatusFrame struct {
	Type               string `json:"type,omitempty"`
	ContentID          string `json:"content_id,omitempty"`
	ProcessingStatus   string `json:"processing_status,omitempty"`
	Progress           int    `json:"progress,omitempty"`
	Message            string `json:"message,omitempty"`
	Step               string `json:"step,omitempty"`
	VerificationStatus string `json:"verification_status,omitempty"`
}

// Terminal reports whether the frame carries a terminal processing status.
func (f StatusFrame) Terminal() bool {
	return IsTerminalStatus(f.ProcessingStatus)
}

// PreAnalysisStart is returned when a pre-analysis task is started.
type PreAnalysisStart struct {
	Success         bool   `json:"success"`
	TaskID          string `json:"task_id"`
	ProcessingToken string `json:"processing_token"`
	Message         string `json:"message,omitempty"`
}

// PreAnalysisResult is the opaque result payload of a pre-analysis task.
type PreAnalysisResult struct {
	// Success is only present when the server flags an incomplete analysis.
	Success         *bool             `json:"success,omitempty"`
	ModerationError *ModerationDetail `json:"moderation_error,omitempty"`
	ProcessingToken string            `json:"processing_token,omitempty"`
	Message         string            `json:"message,omitempty"`
}

// Incomplete reports the "not actually ready" signal (success: false).
func (r *PreAnalysisResult) Incomplete() bool {
	return r != nil && r.Success != nil && !*r.Success
}

// PreAnalysisStatus is one status response for a pre-analysis task.
type PreAnalysisStatus struct {
	State    TaskState          `json:"state"`
	Status   string             `json:"status"`
	Progress int                `json:"progress,omitempty"`
	Result   *PreAnalysisResult `json:"result,omitempty"`
}

// Content is a created post or reel.
type Content struct {
	ID                 string `json:"id"`
	Caption            string `json:"caption,omitempty"`
	MediaURL           string `json:"media_url,omitempty"`
	ProcessingStatus   string `json:"processing_status,omitempty"`
	VerificationStatus string `json:"verification_status,omitempty"`
	CreatedAt          string `json:"created_at,omitempty"`
}
