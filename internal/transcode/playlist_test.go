package transcode

import (
	"strings"
	"testing"
)

func TestBuildMasterPlaylist_720pSource(t *testing.T) {
	// 1280×720 source: exactly the 480p and 720p rungs.
	renditions := SelectLadder(720)
	playlist := BuildMasterPlaylist(renditions)

	if !strings.HasPrefix(playlist, "#EXTM3U\n#EXT-X-VERSION:3\n") {
		t.Fatalf("Missing playlist header:\n%s", playlist)
	}

	if got := strings.Count(playlist, "#EXT-X-STREAM-INF"); got != 2 {
		t.Errorf("Expected 2 STREAM-INF entries, got %d", got)
	}

	expectedLines := []string{
		"#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=854x480",
		"../480p/playlist.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720",
		"../720p/playlist.m3u8",
	}
	for _, line := range expectedLines {
		if !strings.Contains(playlist, line+"\n") {
			t.Errorf("Expected line %q in playlist:\n%s", line, playlist)
		}
	}

	if strings.Contains(playlist, "1080p") {
		t.Error("720p source must not list a 1080p rendition")
	}
}

func TestBuildMasterPlaylist_BandwidthFromBitrate(t *testing.T) {
	playlist := BuildMasterPlaylist(SelectLadder(1080))
	if !strings.Contains(playlist, "BANDWIDTH=5000000,RESOLUTION=1920x1080") {
		t.Errorf("1080p bandwidth should derive from the configured 5000kbps:\n%s", playlist)
	}
}
