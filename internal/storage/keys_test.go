package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"coursestream-backend/internal/models"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain name", "lecture.mp4", "lecture.mp4"},
		{"spaces replaced", "my lecture 01.mp4", "my_lecture_01.mp4"},
		{"path stripped", "../../etc/passwd", "passwd"},
		{"windows path stripped", `C:\videos\intro.mov`, "intro.mov"},
		{"unicode replaced", "видео§final.mp4", "_final.mp4"},
		{"empty falls back", "", "upload"},
		{"dot-dot falls back", "..", "upload"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := SanitizeFilename(tc.input)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestSourceKey(t *testing.T) {
	courseID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	chapterID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	now := time.Unix(1700000000, 0)

	key := SourceKey(courseID, chapterID, "intro video.mp4", now)
	expected := "courses/11111111-1111-1111-1111-111111111111/chapters/22222222-2222-2222-2222-222222222222/videos/1700000000_intro_video.mp4"
	if key != expected {
		t.Errorf("Expected %q, got %q", expected, key)
	}
}

func TestHLSKeyLayout(t *testing.T) {
	courseID := uuid.New()
	chapterID := uuid.New()
	videoID := uuid.New()

	key := HLSKey(courseID, chapterID, videoID, "720p", "segment_003.ts")
	wantSuffix := "/hls/" + videoID.String() + "/720p/segment_003.ts"
	if !strings.HasSuffix(key, wantSuffix) {
		t.Errorf("Expected suffix %q in %q", wantSuffix, key)
	}
	if !strings.HasPrefix(key, "courses/"+courseID.String()+"/chapters/"+chapterID.String()+"/") {
		t.Errorf("Unexpected prefix in %q", key)
	}

	master := MasterPlaylistKey(courseID, chapterID, videoID)
	if !strings.HasSuffix(master, "/master/playlist.m3u8") {
		t.Errorf("Expected master playlist key, got %q", master)
	}

	rung := RungPlaylistKey(courseID, chapterID, videoID, models.Quality480p)
	if !strings.HasSuffix(rung, "/480p/playlist.m3u8") {
		t.Errorf("Expected 480p playlist key, got %q", rung)
	}

	if !strings.HasPrefix(master, HLSPrefix(courseID, chapterID, videoID)) {
		t.Error("Master playlist key must live under the video's HLS prefix")
	}
}

func TestThumbnailKey(t *testing.T) {
	courseID := uuid.New()
	chapterID := uuid.New()
	videoID := uuid.New()

	key := ThumbnailKey(courseID, chapterID, videoID, 4)
	if !strings.HasSuffix(key, "/thumbnails/"+videoID.String()+"/thumb_4.jpg") {
		t.Errorf("Unexpected thumbnail key %q", key)
	}
	if !strings.HasPrefix(key, ThumbnailPrefix(courseID, chapterID, videoID)) {
		t.Error("Thumbnail key must live under the video's thumbnail prefix")
	}
}
