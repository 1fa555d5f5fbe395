package handlers

import (
	"context"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"coursestream-backend/internal/middleware"
	"coursestream-backend/internal/models"
	"coursestream-backend/internal/queue"
	"coursestream-backend/internal/repository"
	"coursestream-backend/internal/services"
	"coursestream-backend/internal/storage"
)

// JobQueue is the slice of the queue the handlers drive; implemented by
// queue.Queue.
type JobQueue interface {
	Enqueue(ctx context.Context, lane models.JobLane, payload models.JobPayload, priority models.JobPriority) (string, error)
	Status(ctx context.Context, id string) (*models.JobStatus, error)
	Cancel(ctx context.Context, lane models.JobLane, id string) error
}

type VideoHandler struct {
	videoRepo *repository.VideoRepo
	thumbRepo *repository.ThumbnailRepo
	queue     JobQueue
	store     storage.ObjectStore
	tokens    *services.TokenService
	bucket    string
	maxBytes  int64
}

func NewVideoHandler(
	videoRepo *repository.VideoRepo,
	thumbRepo *repository.ThumbnailRepo,
	q JobQueue,
	store storage.ObjectStore,
	tokens *services.TokenService,
	bucket string,
	maxBytes int64,
) *VideoHandler {
	return &VideoHandler{
		videoRepo: videoRepo,
		thumbRepo: thumbRepo,
		queue:     q,
		store:     store,
		tokens:    tokens,
		bucket:    bucket,
		maxBytes:  maxBytes,
	}
}

// Upload receives a multipart source video, stores it and enqueues the
// transcode job. The response returns immediately; processing is async.
func (h *VideoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", "File size exceeds the upload limit", r))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	chapterID, err := uuid.Parse(r.FormValue("chapter_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"chapter_id": "must be a valid UUID"}, r))
		return
	}
	courseID, err := uuid.Parse(r.FormValue("course_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"course_id": "must be a valid UUID"}, r))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "No file provided", r))
		return
	}
	defer file.Close()

	mimeType, ok := sniffVideoType(file, header.Filename)
	if !ok {
		writeJSON(w, http.StatusUnsupportedMediaType, errorResp("UNSUPPORTED_FORMAT", "File type not supported", r))
		return
	}

	key := storage.SourceKey(courseID, chapterID, header.Filename, time.Now())
	if _, err := h.store.Put(r.Context(), key, file, mimeType); err != nil {
		log.Printf("Source upload failed for %s: %v", key, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to store upload", r))
		return
	}

	video := &models.VideoAsset{
		ChapterID:        chapterID,
		CourseID:         courseID,
		OriginalFilename: header.Filename,
		FileSize:         header.Size,
		MimeType:         mimeType,
		StorageKey:       key,
		Bucket:           h.bucket,
	}
	if err := h.videoRepo.Create(r.Context(), video); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to create video record", r))
		return
	}

	jobID, err := h.queue.Enqueue(r.Context(), models.LaneTranscode, models.JobPayload{
		VideoID:     video.ID,
		ChapterID:   chapterID,
		CourseID:    courseID,
		SourceKey:   key,
		RequesterID: middleware.GetUserID(r.Context()),
	}, models.PriorityNormal)
	if err != nil {
		log.Printf("Failed to enqueue transcode for video %s: %v", video.ID, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to schedule processing", r))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"video_id": video.ID,
		"job_id":   jobID,
		"status":   video.Status,
	})
}

// GetStatus merges the persisted lifecycle with the queue's live view.
func (h *VideoHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid video ID", r))
		return
	}

	video, err := h.videoRepo.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"video_id":         video.ID,
		"status":           video.Status,
		"progress":         video.Progress,
		"processing_error": video.ProcessingError,
		"hls_master_url":   video.HLSMasterURL,
	}
	if job, err := h.queue.Status(r.Context(), models.JobID(models.LaneTranscode, id)); err == nil {
		resp["job"] = job
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get returns the full asset with its thumbnails.
func (h *VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid video ID", r))
		return
	}

	video, err := h.videoRepo.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	thumbs, err := h.thumbRepo.ListByVideo(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load thumbnails", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"video":      video,
		"thumbnails": thumbs,
	})
}

// Delete removes the asset everywhere: outstanding tokens first so playback
// dies immediately, then storage objects, then the row (thumbnails and token
// rows cascade).
func (h *VideoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid video ID", r))
		return
	}

	video, err := h.videoRepo.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if _, err := h.tokens.RevokeAllForVideo(r.Context(), id); err != nil {
		log.Printf("Failed to revoke tokens while deleting video %s: %v", id, err)
	}

	// A still-waiting job is pulled from the queue; an active one just fails
	// later when the row is gone.
	if err := h.queue.Cancel(r.Context(), models.LaneTranscode, models.JobID(models.LaneTranscode, id)); err != nil &&
		err != queue.ErrJobNotFound && err != queue.ErrJobActive {
		log.Printf("Failed to cancel job for video %s: %v", id, err)
	}

	if err := h.store.Delete(r.Context(), video.StorageKey); err != nil {
		log.Printf("Failed to delete source %s: %v", video.StorageKey, err)
	}
	if err := h.store.DeletePrefix(r.Context(), storage.HLSPrefix(video.CourseID, video.ChapterID, id)); err != nil {
		log.Printf("Failed to delete HLS objects for video %s: %v", id, err)
	}
	if err := h.store.DeletePrefix(r.Context(), storage.ThumbnailPrefix(video.CourseID, video.ChapterID, id)); err != nil {
		log.Printf("Failed to delete thumbnails for video %s: %v", id, err)
	}

	if err := h.videoRepo.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Video deleted"})
}

// Replace swaps the source file of an existing video and restarts processing.
// The old rendition set stays live until the new encode completes, but all
// outstanding tokens are revoked up front.
func (h *VideoHandler) Replace(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid video ID", r))
		return
	}

	// A still-waiting job is pulled off the queue (releasing the dedupe
	// guard) so the re-enqueue below carries the new source. An active or
	// delayed encode cannot be safely replaced mid-run.
	switch err := h.queue.Cancel(r.Context(), models.LaneTranscode, models.JobID(models.LaneTranscode, id)); err {
	case nil, queue.ErrJobNotFound:
	case queue.ErrJobActive:
		writeJSON(w, http.StatusConflict, errorResp("CONFLICT", "Video is currently being processed", r))
		return
	default:
		log.Printf("Failed to cancel job for video %s: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Something went wrong", r))
		return
	}

	video, err := h.videoRepo.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if r.ContentLength > h.maxBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", "File size exceeds the upload limit", r))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "No file provided", r))
		return
	}
	defer file.Close()

	mimeType, ok := sniffVideoType(file, header.Filename)
	if !ok {
		writeJSON(w, http.StatusUnsupportedMediaType, errorResp("UNSUPPORTED_FORMAT", "File type not supported", r))
		return
	}

	oldKey := video.StorageKey
	newKey := storage.SourceKey(video.CourseID, video.ChapterID, header.Filename, time.Now())
	if _, err := h.store.Put(r.Context(), newKey, file, mimeType); err != nil {
		log.Printf("Replacement upload failed for %s: %v", newKey, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to store upload", r))
		return
	}

	if err := h.videoRepo.ReplaceSource(r.Context(), id, newKey, header.Filename, mimeType, header.Size); err != nil {
		handleServiceError(w, r, err)
		return
	}

	if _, err := h.tokens.RevokeAllForVideo(r.Context(), id); err != nil {
		log.Printf("Failed to revoke tokens while replacing video %s: %v", id, err)
	}
	if err := h.store.Delete(r.Context(), oldKey); err != nil {
		log.Printf("Failed to delete old source %s: %v", oldKey, err)
	}

	jobID, err := h.queue.Enqueue(r.Context(), models.LaneTranscode, models.JobPayload{
		VideoID:     id,
		ChapterID:   video.ChapterID,
		CourseID:    video.CourseID,
		SourceKey:   newKey,
		RequesterID: middleware.GetUserID(r.Context()),
	}, models.PriorityHigh)
	if err != nil {
		log.Printf("Failed to enqueue transcode for replaced video %s: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to schedule processing", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"video_id": id,
		"job_id":   jobID,
		"status":   models.StatusPending,
	})
}

// sniffVideoType checks the magic bytes against the supported container
// formats, falling back to the extension for containers http.DetectContentType
// cannot tell apart. The reader is rewound afterwards.
func sniffVideoType(file io.ReadSeeker, filename string) (string, bool) {
	buf := make([]byte, 512)
	n, _ := file.Read(buf)
	file.Seek(0, io.SeekStart)

	allowed := map[string]bool{
		"video/mp4":        true,
		"video/quicktime":  true,
		"video/x-matroska": true,
		"video/webm":       true,
	}

	mimeType := http.DetectContentType(buf[:n])
	if allowed[mimeType] {
		return mimeType, true
	}

	byExt := map[string]string{
		".mp4":  "video/mp4",
		".mov":  "video/quicktime",
		".mkv":  "video/x-matroska",
		".webm": "video/webm",
	}
	if mt, ok := byExt[strings.ToLower(filepath.Ext(filename))]; ok && mimeType == "application/octet-stream" {
		return mt, true
	}
	return mimeType, false
}
