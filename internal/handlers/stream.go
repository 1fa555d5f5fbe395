package handlers

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"coursestream-backend/internal/middleware"
	"coursestream-backend/internal/models"
	"coursestream-backend/internal/repository"
	"coursestream-backend/internal/services"
	"coursestream-backend/internal/storage"
)

// presignTTL keeps signed segment URLs shorter-lived than the token that
// obtained them.
const presignTTL = 15 * time.Minute

var keyURIAttrRe = regexp.MustCompile(`URI="[^"]*"`)

type StreamHandler struct {
	tokens    *services.TokenService
	videoRepo *repository.VideoRepo
	store     storage.ObjectStore
}

func NewStreamHandler(tokens *services.TokenService, videoRepo *repository.VideoRepo, store storage.ObjectStore) *StreamHandler {
	return &StreamHandler{tokens: tokens, videoRepo: videoRepo, store: store}
}

// IssueToken mints a short-lived playback credential bound to the caller's IP.
func (h *StreamHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid video ID", r))
		return
	}

	video, err := h.videoRepo.GetByID(r.Context(), videoID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	issued, err := h.tokens.Issue(r.Context(),
		videoID,
		middleware.GetUserID(r.Context()),
		video.ChapterID,
		video.CourseID,
		middleware.ClientIP(r),
	)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, issued)
}

// Stream validates the playback token and serves the master playlist with
// every rung reference rebound to this API, so follow-up playlist and key
// fetches carry the caller's token. Every failure is the same generic 403 so
// probing the endpoint reveals nothing about why access was denied.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.denyAccess(w, r)
		return
	}

	token := r.URL.Query().Get("token")
	verdict := h.tokens.Validate(r.Context(), token, middleware.ClientIP(r))
	if !verdict.OK || verdict.VideoID != videoID {
		h.denyAccess(w, r)
		return
	}

	video, err := h.videoRepo.GetByID(r.Context(), videoID)
	if err != nil || video.Status != models.StatusCompleted || video.HLSMasterURL == nil {
		h.denyAccess(w, r)
		return
	}

	content, err := h.readPlaylist(r, storage.MasterPlaylistKey(video.CourseID, video.ChapterID, videoID))
	if err != nil {
		log.Printf("Failed to read master playlist for video %s: %v", videoID, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Something went wrong", r))
		return
	}

	servePlaylist(w, rewriteMasterPlaylist(content, videoID, token))
}

// RungPlaylist serves one rendition's media playlist: the key URI is rebound
// to the caller's token and every segment reference becomes a presigned URL.
func (h *StreamHandler) RungPlaylist(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.denyAccess(w, r)
		return
	}

	quality := models.Quality(chi.URLParam(r, "quality"))
	switch quality {
	case models.Quality480p, models.Quality720p, models.Quality1080p:
	default:
		h.denyAccess(w, r)
		return
	}

	token := r.URL.Query().Get("token")
	verdict := h.tokens.Validate(r.Context(), token, middleware.ClientIP(r))
	if !verdict.OK || verdict.VideoID != videoID {
		h.denyAccess(w, r)
		return
	}

	video, err := h.videoRepo.GetByID(r.Context(), videoID)
	if err != nil || video.Status != models.StatusCompleted {
		h.denyAccess(w, r)
		return
	}

	content, err := h.readPlaylist(r, storage.RungPlaylistKey(video.CourseID, video.ChapterID, videoID, quality))
	if err != nil {
		log.Printf("Failed to read %s playlist for video %s: %v", quality, videoID, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Something went wrong", r))
		return
	}

	rewritten, err := rewriteRungPlaylist(content, videoID, token, func(segment string) (string, error) {
		key := storage.HLSKey(video.CourseID, video.ChapterID, videoID, string(quality), segment)
		return h.store.Presign(r.Context(), key, presignTTL)
	})
	if err != nil {
		log.Printf("Failed to sign segments for video %s: %v", videoID, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Something went wrong", r))
		return
	}

	servePlaylist(w, rewritten)
}

// HLSKey serves the AES-128 segment key. Players reach this through the URI
// in the served rung playlist, which carries the session's playback token.
func (h *StreamHandler) HLSKey(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.denyAccess(w, r)
		return
	}

	verdict := h.tokens.Validate(r.Context(), r.URL.Query().Get("token"), middleware.ClientIP(r))
	if !verdict.OK || verdict.VideoID != videoID {
		h.denyAccess(w, r)
		return
	}

	video, err := h.videoRepo.GetByID(r.Context(), videoID)
	if err != nil || len(video.EncryptionKey) == 0 {
		h.denyAccess(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(video.EncryptionKey)
}

// TokenDiagnostics exposes the typed verdict for authenticated callers. The
// public stream path never reveals this detail.
func (h *StreamHandler) TokenDiagnostics(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid video ID", r))
		return
	}

	verdict := h.tokens.Validate(r.Context(), r.URL.Query().Get("token"), middleware.ClientIP(r))
	if verdict.OK && verdict.VideoID != videoID {
		verdict = models.TokenVerdict{Reason: models.TokenInvalid}
	}

	writeJSON(w, http.StatusOK, verdict)
}

// RevokeTokens terminates every outstanding credential for the video.
func (h *StreamHandler) RevokeTokens(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid video ID", r))
		return
	}

	revoked, err := h.tokens.RevokeAllForVideo(r.Context(), videoID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"revoked": revoked})
}

// RotateKey forces an immediate encryption key rotation for the video.
func (h *StreamHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid video ID", r))
		return
	}

	if _, err := h.videoRepo.GetByID(r.Context(), videoID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := h.tokens.RotateEncryptionKey(r.Context(), videoID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Encryption key rotated"})
}

func (h *StreamHandler) readPlaylist(r *http.Request, key string) (string, error) {
	body, err := h.store.Get(r.Context(), key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	content, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func servePlaylist(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(content))
}

// rewriteMasterPlaylist points each rung entry at this API's playlist route
// so every follow-up request carries the caller's token.
func rewriteMasterPlaylist(content string, videoID uuid.UUID, token string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		// "../480p/playlist.m3u8" → "480p"
		quality := path.Base(path.Dir(trimmed))
		lines[i] = fmt.Sprintf("/api/v1/stream/%s/%s/playlist.m3u8?token=%s",
			videoID, quality, url.QueryEscape(token))
	}
	return strings.Join(lines, "\n")
}

// rewriteRungPlaylist rebinds the stored key URI to the caller's token and
// signs every segment reference. The encode-time URI is only a placeholder;
// this is where it becomes fetchable.
func rewriteRungPlaylist(content string, videoID uuid.UUID, token string, signSegment func(segment string) (string, error)) (string, error) {
	keyURI := fmt.Sprintf("/api/v1/videos/%s/hls-key?token=%s", videoID, url.QueryEscape(token))

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#EXT-X-KEY"):
			lines[i] = keyURIAttrRe.ReplaceAllString(line, fmt.Sprintf("URI=%q", keyURI))
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
		default:
			signed, err := signSegment(trimmed)
			if err != nil {
				return "", err
			}
			lines[i] = signed
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (h *StreamHandler) denyAccess(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusForbidden, errorResp("ACCESS_DENIED", "Access denied", r))
}
