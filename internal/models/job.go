package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobLane selects one of the three independent queue lanes.
type JobLane string

const (
	LaneTranscode JobLane = "transcode"
	LaneThumbnail JobLane = "thumbnail"
	LaneMetadata  JobLane = "metadata"
)

// JobState mirrors the queue's view of a job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobDelayed   JobState = "delayed"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// JobPayload is what travels through the queue for every lane.
type JobPayload struct {
	VideoID     uuid.UUID `json:"video_id"`
	ChapterID   uuid.UUID `json:"chapter_id"`
	CourseID    uuid.UUID `json:"course_id"`
	SourceKey   string    `json:"source_key"`
	RequesterID uuid.UUID `json:"requester_id"`
}

// JobPriority selects which of a lane's two lists a job waits in. High jobs
// are always delivered before normal ones.
type JobPriority string

const (
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
)

// Job is the queue wire format. ID doubles as the dedupe key, so at most one
// in-flight job per video exists in a lane at a time.
type Job struct {
	ID         string      `json:"id"`
	Lane       JobLane     `json:"lane"`
	Priority   JobPriority `json:"priority"`
	Payload    JobPayload  `json:"payload"`
	Attempt    int         `json:"attempt"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// JobID builds the per-video dedupe id for a lane, e.g. "video-{id}".
func JobID(lane JobLane, videoID uuid.UUID) string {
	switch lane {
	case LaneThumbnail:
		return fmt.Sprintf("thumbnail-%s", videoID)
	case LaneMetadata:
		return fmt.Sprintf("metadata-%s", videoID)
	default:
		return fmt.Sprintf("video-%s", videoID)
	}
}

// JobStatus is the polling view exposed by the queue.
type JobStatus struct {
	ID            string   `json:"id"`
	Lane          JobLane  `json:"lane"`
	State         JobState `json:"state"`
	Progress      int      `json:"progress"`
	Attempt       int      `json:"attempt"`
	FailureReason *string  `json:"failure_reason,omitempty"`
}

// Processing events published over redis pub/sub and fanned out to
// websocket subscribers.
type ProcessingEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type ProgressUpdate struct {
	VideoID  uuid.UUID `json:"video_id"`
	Lane     JobLane   `json:"lane"`
	Progress int       `json:"progress"`
}

type CompletedEvent struct {
	VideoID      uuid.UUID `json:"video_id"`
	HLSMasterURL string    `json:"hls_master_url"`
}

type FailedEvent struct {
	VideoID      uuid.UUID `json:"video_id"`
	Lane         JobLane   `json:"lane"`
	ErrorMessage string    `json:"error_message"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
