package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus is the lifecycle of a video asset. Transitions only move
// forward: pending → processing → completed|failed.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Quality identifies one rung of the HLS rendition ladder.
type Quality string

const (
	Quality480p  Quality = "480p"
	Quality720p  Quality = "720p"
	Quality1080p Quality = "1080p"
)

type VideoAsset struct {
	ID               uuid.UUID        `json:"id"`
	ChapterID        uuid.UUID        `json:"chapter_id"`
	CourseID         uuid.UUID        `json:"course_id"`
	OriginalFilename string           `json:"original_filename"`
	FileSize         int64            `json:"file_size"`
	MimeType         string           `json:"mime_type"`
	StorageKey       string           `json:"storage_key"`
	Bucket           string           `json:"bucket"`
	Status           ProcessingStatus `json:"status"`
	Progress         int              `json:"progress"`
	ProcessingError  *string          `json:"processing_error"`
	HLSMasterURL     *string          `json:"hls_master_url"`
	HLS480pURL       *string          `json:"hls_480p_url"`
	HLS720pURL       *string          `json:"hls_720p_url"`
	HLS1080pURL      *string          `json:"hls_1080p_url"`
	DurationSeconds  *float64         `json:"duration_seconds"`
	Width            *int             `json:"width"`
	Height           *int             `json:"height"`
	Codec            *string          `json:"codec"`
	FrameRate        *float64         `json:"frame_rate"`
	Bitrate          *int             `json:"bitrate"`
	EncryptionKey    []byte           `json:"-"`
	EncryptionIV     []byte           `json:"-"`
	KeyRotationAt    *time.Time       `json:"key_rotation_at"`
	CreatedAt        time.Time        `json:"created_at"`
	CompletedAt      *time.Time       `json:"completed_at"`
}

type Thumbnail struct {
	ID         uuid.UUID `json:"id"`
	VideoID    uuid.UUID `json:"video_id"`
	StorageKey string    `json:"storage_key"`
	URL        string    `json:"url"`
	TimeOffset int       `json:"time_offset"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CreatedAt  time.Time `json:"created_at"`
}
