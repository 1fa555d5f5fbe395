package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"coursestream-backend/internal/models"
	"coursestream-backend/internal/services"
	"coursestream-backend/internal/storage"
	"coursestream-backend/internal/transcode"
)

// JobQueue is the slice of the queue the pool drives; implemented by
// queue.Queue.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration, lanes ...models.JobLane) (*models.Job, error)
	Enqueue(ctx context.Context, lane models.JobLane, payload models.JobPayload, priority models.JobPriority) (string, error)
	Complete(ctx context.Context, job *models.Job)
	Fail(ctx context.Context, job *models.Job, jobErr error)
	SetProgress(ctx context.Context, id string, pct int)
	IsFinalAttempt(job *models.Job) bool
}

// VideoStore is the video persistence the pool needs; implemented by
// repository.VideoRepo.
type VideoStore interface {
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	UpdateProgress(ctx context.Context, id uuid.UUID, pct int) error
	MarkCompleted(ctx context.Context, id uuid.UUID, urls map[models.Quality]string, masterURL string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	UpdateEncryptionKey(ctx context.Context, id uuid.UUID, key, iv []byte, rotationAt time.Time) error
	UpdateMediaInfo(ctx context.Context, id uuid.UUID, duration float64, width, height int, codec string, frameRate float64, bitrate int) error
}

// ThumbnailStore is implemented by repository.ThumbnailRepo.
type ThumbnailStore interface {
	Create(ctx context.Context, t *models.Thumbnail) error
	DeleteByVideo(ctx context.Context, videoID uuid.UUID) error
}

// TokenRevoker is the slice of the token service the pool needs.
type TokenRevoker interface {
	RevokeAllForVideo(ctx context.Context, videoID uuid.UUID) (int64, error)
}

// EventPublisher is implemented by events.Publisher.
type EventPublisher interface {
	Progress(ctx context.Context, userID uuid.UUID, update models.ProgressUpdate)
	Completed(ctx context.Context, userID uuid.UUID, event models.CompletedEvent)
	Failed(ctx context.Context, userID uuid.UUID, event models.FailedEvent)
}

// Pool runs the worker goroutines that drain the three queue lanes. Each lane
// re-downloads the source independently so a thumbnail retry never depends on
// scratch files left by the transcode run.
type Pool struct {
	queue         JobQueue
	store         storage.ObjectStore
	engine        transcode.Engine
	videoRepo     VideoStore
	thumbRepo     ThumbnailStore
	tokens        TokenRevoker
	publisher     EventPublisher
	scratchDir    string
	thumbInterval int
	workerCount   int
	stopChan      chan struct{}
}

func NewPool(
	q JobQueue,
	store storage.ObjectStore,
	engine transcode.Engine,
	videoRepo VideoStore,
	thumbRepo ThumbnailStore,
	tokens TokenRevoker,
	publisher EventPublisher,
	scratchDir string,
	thumbInterval int,
	workerCount int,
) *Pool {
	return &Pool{
		queue:         q,
		store:         store,
		engine:        engine,
		videoRepo:     videoRepo,
		thumbRepo:     thumbRepo,
		tokens:        tokens,
		publisher:     publisher,
		scratchDir:    scratchDir,
		thumbInterval: thumbInterval,
		workerCount:   workerCount,
		stopChan:      make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}
	log.Printf("Started %d worker goroutines", p.workerCount)
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

func (p *Pool) worker(id int) {
	lanes := []models.JobLane{models.LaneTranscode, models.LaneThumbnail, models.LaneMetadata}

	for {
		select {
		case <-p.stopChan:
			log.Printf("Worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		job, err := p.queue.Dequeue(ctx, 30*time.Second, lanes...)
		if err != nil {
			log.Printf("Worker %d: dequeue failed: %v", id, err)
			continue
		}
		if job == nil {
			continue // Timeout, poll again
		}

		log.Printf("Worker %d: processing job %s (lane: %s, attempt: %d)", id, job.ID, job.Lane, job.Attempt)

		var processErr error
		switch job.Lane {
		case models.LaneTranscode:
			processErr = p.processTranscode(ctx, job)
		case models.LaneThumbnail:
			processErr = p.processThumbnail(ctx, job)
		case models.LaneMetadata:
			processErr = p.processMetadata(ctx, job)
		default:
			processErr = fmt.Errorf("unknown job lane: %s", job.Lane)
		}

		if processErr != nil {
			p.handleFailure(ctx, job, processErr)
		} else {
			p.queue.Complete(ctx, job)
			log.Printf("Worker %d: job %s completed", id, job.ID)
		}
	}
}

// downloadSource fetches the job's source object into a per-job scratch dir.
// The returned cleanup removes the whole dir.
func (p *Pool) downloadSource(ctx context.Context, job *models.Job) (string, func(), error) {
	dir, err := os.MkdirTemp(p.scratchDir, "job-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	inputPath := filepath.Join(dir, "source"+filepath.Ext(job.Payload.SourceKey))
	if err := p.store.Download(ctx, job.Payload.SourceKey, inputPath); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to download source %s: %w", job.Payload.SourceKey, err)
	}
	return inputPath, cleanup, nil
}

func (p *Pool) processTranscode(ctx context.Context, job *models.Job) error {
	videoID := job.Payload.VideoID

	if err := p.videoRepo.MarkProcessing(ctx, videoID); err != nil {
		return fmt.Errorf("failed to mark video processing: %w", err)
	}

	inputPath, cleanup, err := p.downloadSource(ctx, job)
	if err != nil {
		return err
	}
	defer cleanup()

	// Fresh key material per encode run. Rotating here revokes any tokens
	// issued against a previous encode of the same video (replace flow).
	key, iv, err := services.GenerateKeyIV()
	if err != nil {
		return err
	}
	rotationAt := time.Now().Add(services.KeyRotationPeriod)
	if err := p.videoRepo.UpdateEncryptionKey(ctx, videoID, key, iv, rotationAt); err != nil {
		return fmt.Errorf("failed to store encryption key: %w", err)
	}
	if revoked, err := p.tokens.RevokeAllForVideo(ctx, videoID); err != nil {
		log.Printf("Failed to revoke stale tokens for video %s: %v", videoID, err)
	} else if revoked > 0 {
		log.Printf("Revoked %d stale tokens for video %s before re-encode", revoked, videoID)
	}

	set, err := p.engine.Transcode(ctx, transcode.TranscodeRequest{
		InputPath:     inputPath,
		VideoID:       videoID,
		ChapterID:     job.Payload.ChapterID,
		CourseID:      job.Payload.CourseID,
		EncryptionKey: key,
		EncryptionIV:  iv,
		// Placeholder only. The stream handler rewrites the key URI per
		// request with the caller's playback token.
		KeyURI: fmt.Sprintf("/api/v1/videos/%s/hls-key", videoID),
		OnProgress: func(pct int) {
			p.queue.SetProgress(ctx, job.ID, pct)
			if err := p.videoRepo.UpdateProgress(ctx, videoID, pct); err != nil {
				log.Printf("Failed to persist progress for video %s: %v", videoID, err)
			}
			p.publisher.Progress(ctx, job.Payload.RequesterID, models.ProgressUpdate{
				VideoID:  videoID,
				Lane:     job.Lane,
				Progress: pct,
			})
		},
	})
	if err != nil {
		return fmt.Errorf("transcode failed: %w", err)
	}

	if err := p.videoRepo.MarkCompleted(ctx, videoID, set.RungURLs, set.MasterURL); err != nil {
		return fmt.Errorf("failed to mark video completed: %w", err)
	}

	// Downstream lanes are best-effort: a thumbnail failure never takes a
	// playable video back out of completed.
	if _, err := p.queue.Enqueue(ctx, models.LaneThumbnail, job.Payload, models.PriorityNormal); err != nil {
		log.Printf("Failed to enqueue thumbnail job for video %s: %v", videoID, err)
	}
	if _, err := p.queue.Enqueue(ctx, models.LaneMetadata, job.Payload, models.PriorityNormal); err != nil {
		log.Printf("Failed to enqueue metadata job for video %s: %v", videoID, err)
	}

	p.publisher.Completed(ctx, job.Payload.RequesterID, models.CompletedEvent{
		VideoID:      videoID,
		HLSMasterURL: set.MasterURL,
	})
	return nil
}

func (p *Pool) processThumbnail(ctx context.Context, job *models.Job) error {
	inputPath, cleanup, err := p.downloadSource(ctx, job)
	if err != nil {
		return err
	}
	defer cleanup()

	artifacts, err := p.engine.GenerateThumbnails(ctx, transcode.ThumbnailRequest{
		InputPath:       inputPath,
		VideoID:         job.Payload.VideoID,
		ChapterID:       job.Payload.ChapterID,
		CourseID:        job.Payload.CourseID,
		IntervalSeconds: p.thumbInterval,
	})
	if err != nil {
		return fmt.Errorf("thumbnail generation failed: %w", err)
	}

	// Clear first so a retried job never leaves duplicate rows.
	if err := p.thumbRepo.DeleteByVideo(ctx, job.Payload.VideoID); err != nil {
		return fmt.Errorf("failed to clear old thumbnails: %w", err)
	}
	for _, a := range artifacts {
		t := &models.Thumbnail{
			VideoID:    job.Payload.VideoID,
			StorageKey: a.StorageKey,
			URL:        a.URL,
			TimeOffset: a.TimeOffset,
			Width:      a.Width,
			Height:     a.Height,
		}
		if err := p.thumbRepo.Create(ctx, t); err != nil {
			return fmt.Errorf("failed to save thumbnail at offset %d: %w", a.TimeOffset, err)
		}
	}

	log.Printf("Generated %d thumbnails for video %s", len(artifacts), job.Payload.VideoID)
	return nil
}

func (p *Pool) processMetadata(ctx context.Context, job *models.Job) error {
	inputPath, cleanup, err := p.downloadSource(ctx, job)
	if err != nil {
		return err
	}
	defer cleanup()

	info, err := p.engine.Probe(ctx, inputPath)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	if err := p.videoRepo.UpdateMediaInfo(ctx, job.Payload.VideoID,
		info.DurationSeconds, info.Width, info.Height, info.Codec, info.FrameRate, info.BitrateBps); err != nil {
		return fmt.Errorf("failed to save media info: %w", err)
	}
	return nil
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, jobErr error) {
	// The video only goes to failed when the transcode lane is out of
	// retries; thumbnail and metadata failures leave playback untouched.
	if job.Lane == models.LaneTranscode && p.queue.IsFinalAttempt(job) {
		if err := p.videoRepo.MarkFailed(ctx, job.Payload.VideoID, jobErr.Error()); err != nil {
			log.Printf("Failed to mark video %s failed: %v", job.Payload.VideoID, err)
		}
		p.publisher.Failed(ctx, job.Payload.RequesterID, models.FailedEvent{
			VideoID:      job.Payload.VideoID,
			Lane:         job.Lane,
			ErrorMessage: jobErr.Error(),
		})
	}

	p.queue.Fail(ctx, job, jobErr)
}
