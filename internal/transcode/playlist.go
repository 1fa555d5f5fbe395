package transcode

import (
	"fmt"
	"strings"
)

// BuildMasterPlaylist synthesizes the top-level HLS manifest. BANDWIDTH is
// the configured video bitrate, not a measured value, and rung playlists are
// referenced relative to the master's own directory.
func BuildMasterPlaylist(renditions []Rendition) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range renditions {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
			r.BitrateKbps*1000, r.Width, r.Height)
		fmt.Fprintf(&b, "../%s/playlist.m3u8\n", r.Quality)
	}
	return b.String()
}
