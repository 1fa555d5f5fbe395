package storage

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"coursestream-backend/internal/models"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename strips path separators and anything outside the safe
// character set so user-supplied names cannot escape their key prefix.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeKeyChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		name = "upload"
	}
	return name
}

// SourceKey places the raw upload under its course/chapter prefix with a
// timestamp so re-uploads never collide.
func SourceKey(courseID, chapterID uuid.UUID, filename string, now time.Time) string {
	return fmt.Sprintf("courses/%s/chapters/%s/videos/%d_%s",
		courseID, chapterID, now.Unix(), SanitizeFilename(filename))
}

// HLSKey addresses one playlist or segment of a rendition. quality is one of
// the ladder rungs or "master".
func HLSKey(courseID, chapterID, videoID uuid.UUID, quality, file string) string {
	return fmt.Sprintf("courses/%s/chapters/%s/hls/%s/%s/%s",
		courseID, chapterID, videoID, quality, file)
}

// HLSPrefix is the common prefix of every HLS object for a video.
func HLSPrefix(courseID, chapterID, videoID uuid.UUID) string {
	return fmt.Sprintf("courses/%s/chapters/%s/hls/%s/", courseID, chapterID, videoID)
}

// MasterPlaylistKey is where the top-level manifest lives.
func MasterPlaylistKey(courseID, chapterID, videoID uuid.UUID) string {
	return HLSKey(courseID, chapterID, videoID, "master", "playlist.m3u8")
}

// RungPlaylistKey is the per-quality manifest.
func RungPlaylistKey(courseID, chapterID, videoID uuid.UUID, q models.Quality) string {
	return HLSKey(courseID, chapterID, videoID, string(q), "playlist.m3u8")
}

// ThumbnailKey numbers thumbnails in capture order.
func ThumbnailKey(courseID, chapterID, videoID uuid.UUID, n int) string {
	return fmt.Sprintf("courses/%s/chapters/%s/thumbnails/%s/thumb_%d.jpg",
		courseID, chapterID, videoID, n)
}

// ThumbnailPrefix is the common prefix of every thumbnail for a video.
func ThumbnailPrefix(courseID, chapterID, videoID uuid.UUID) string {
	return fmt.Sprintf("courses/%s/chapters/%s/thumbnails/%s/", courseID, chapterID, videoID)
}
