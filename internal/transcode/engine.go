package transcode

import (
	"context"

	"github.com/google/uuid"

	"coursestream-backend/internal/models"
	"coursestream-backend/internal/storage"
)

// MediaInfo is what a probe learns about a source file.
type MediaInfo struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	BitrateBps      int     `json:"bitrate_bps"`
	Codec           string  `json:"codec"`
	FrameRate       float64 `json:"frame_rate"`
}

// TranscodeRequest describes one full HLS run. KeyURI is the playlist-facing
// URI that clients fetch the AES key from; EncryptionKey/IV may be nil to
// produce unencrypted segments.
type TranscodeRequest struct {
	InputPath     string
	VideoID       uuid.UUID
	ChapterID     uuid.UUID
	CourseID      uuid.UUID
	EncryptionKey []byte
	EncryptionIV  []byte
	KeyURI        string
	OnProgress    func(pct int)
}

// RenditionSet is the outcome of a successful transcode.
type RenditionSet struct {
	Info       *MediaInfo
	Renditions []Rendition
	MasterURL  string
	RungURLs   map[models.Quality]string
}

// ThumbnailRequest asks for one JPEG per interval across the source.
type ThumbnailRequest struct {
	InputPath       string
	VideoID         uuid.UUID
	ChapterID       uuid.UUID
	CourseID        uuid.UUID
	IntervalSeconds int
}

type ThumbnailArtifact struct {
	StorageKey string
	URL        string
	TimeOffset int
	Width      int
	Height     int
}

// Engine turns one source file into streaming assets. The orchestrator only
// sees this interface; how the encoding happens (subprocess, library, remote
// service) stays behind it.
type Engine interface {
	Probe(ctx context.Context, path string) (*MediaInfo, error)
	Transcode(ctx context.Context, req TranscodeRequest) (*RenditionSet, error)
	GenerateThumbnails(ctx context.Context, req ThumbnailRequest) ([]ThumbnailArtifact, error)
}

// FFmpegEngine shells out to ffmpeg/ffprobe and uploads its output through
// the object store.
type FFmpegEngine struct {
	ffmpegPath     string
	ffprobePath    string
	store          storage.ObjectStore
	segmentSeconds int
}

func NewFFmpegEngine(ffmpegPath, ffprobePath string, store storage.ObjectStore, segmentSeconds int) *FFmpegEngine {
	if segmentSeconds <= 0 {
		segmentSeconds = 6
	}
	return &FFmpegEngine{
		ffmpegPath:     ffmpegPath,
		ffprobePath:    ffprobePath,
		store:          store,
		segmentSeconds: segmentSeconds,
	}
}
