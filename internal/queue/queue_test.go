package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"coursestream-backend/internal/models"
)

func TestBackoffSchedule(t *testing.T) {
	tests := []struct {
		name     string
		lane     models.JobLane
		attempt  int
		expected time.Duration
	}{
		{"transcode first retry", models.LaneTranscode, 1, 2 * time.Second},
		{"transcode second retry", models.LaneTranscode, 2, 4 * time.Second},
		{"thumbnail retry is fixed", models.LaneThumbnail, 1, 5 * time.Second},
		{"metadata retry is fixed", models.LaneMetadata, 1, 5 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			policy := defaultPolicies[tc.lane]
			if got := policy.BackoffFor(tc.attempt); got != tc.expected {
				t.Errorf("Expected backoff %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestAttemptLimits(t *testing.T) {
	if defaultPolicies[models.LaneTranscode].MaxAttempts != 3 {
		t.Error("Transcode lane must allow 3 attempts")
	}
	if defaultPolicies[models.LaneThumbnail].MaxAttempts != 2 {
		t.Error("Thumbnail lane must allow 2 attempts")
	}
	if defaultPolicies[models.LaneMetadata].MaxAttempts != 2 {
		t.Error("Metadata lane must allow 2 attempts")
	}
}

func TestIsFinalAttempt(t *testing.T) {
	q := New(nil)

	job := &models.Job{Lane: models.LaneTranscode, Attempt: 2}
	if q.IsFinalAttempt(job) {
		t.Error("Attempt 2 of 3 is not final")
	}
	job.Attempt = 3
	if !q.IsFinalAttempt(job) {
		t.Error("Attempt 3 of 3 is final")
	}

	job = &models.Job{Lane: models.LaneThumbnail, Attempt: 2}
	if !q.IsFinalAttempt(job) {
		t.Error("Attempt 2 of 2 is final for the thumbnail lane")
	}
}

func TestJobIDFormat(t *testing.T) {
	videoID := uuid.MustParse("33333333-3333-3333-3333-333333333333")

	tests := []struct {
		lane     models.JobLane
		expected string
	}{
		{models.LaneTranscode, "video-33333333-3333-3333-3333-333333333333"},
		{models.LaneThumbnail, "thumbnail-33333333-3333-3333-3333-333333333333"},
		{models.LaneMetadata, "metadata-33333333-3333-3333-3333-333333333333"},
	}

	for _, tc := range tests {
		if got := models.JobID(tc.lane, videoID); got != tc.expected {
			t.Errorf("Expected %q, got %q", tc.expected, got)
		}
	}
}

func TestClampProgress(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{-10, 0},
		{0, 0},
		{55, 55},
		{100, 100},
		{140, 100},
	}

	for _, tc := range tests {
		if got := clampProgress(tc.input); got != tc.expected {
			t.Errorf("clampProgress(%d): expected %d, got %d", tc.input, tc.expected, got)
		}
	}
}

func TestLaneKeys(t *testing.T) {
	if laneKey(models.LaneTranscode) != "queue:transcode" {
		t.Errorf("Unexpected lane key %q", laneKey(models.LaneTranscode))
	}
	if priorityLaneKey(models.LaneTranscode) != "queue:transcode:high" {
		t.Errorf("Unexpected priority lane key %q", priorityLaneKey(models.LaneTranscode))
	}
	if inflightKey("video-x") != "job:inflight:video-x" {
		t.Errorf("Unexpected inflight key %q", inflightKey("video-x"))
	}
	if stateKey("video-x") != "job:state:video-x" {
		t.Errorf("Unexpected state key %q", stateKey("video-x"))
	}
}

func TestListFor(t *testing.T) {
	tests := []struct {
		name     string
		job      models.Job
		expected string
	}{
		{"normal priority", models.Job{Lane: models.LaneTranscode, Priority: models.PriorityNormal}, "queue:transcode"},
		{"high priority", models.Job{Lane: models.LaneTranscode, Priority: models.PriorityHigh}, "queue:transcode:high"},
		{"zero value defaults to normal list", models.Job{Lane: models.LaneThumbnail}, "queue:thumbnail"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := listFor(&tc.job); got != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, got)
			}
		})
	}
}
