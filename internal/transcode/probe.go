package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

// Probe runs ffprobe and extracts the fields the pipeline needs. A source
// with no video stream is an error; the whole job must fail rather than
// produce an empty ladder.
func (e *FFmpegEngine) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var video *probeStream
	for i := range probed.Streams {
		if probed.Streams[i].CodecType == "video" {
			video = &probed.Streams[i]
			break
		}
	}
	if video == nil {
		return nil, fmt.Errorf("no video stream in %s", path)
	}

	duration, _ := strconv.ParseFloat(probed.Format.Duration, 64)
	bitrate, _ := strconv.Atoi(probed.Format.BitRate)

	return &MediaInfo{
		DurationSeconds: duration,
		Width:           video.Width,
		Height:          video.Height,
		BitrateBps:      bitrate,
		Codec:           video.CodecName,
		FrameRate:       ParseFrameRate(video.RFrameRate),
	}, nil
}

// ParseFrameRate converts ffprobe's rational frame-rate string ("30000/1001")
// to a float. Plain numbers pass through; malformed or zero-denominator input
// yields 0.
func ParseFrameRate(rate string) float64 {
	rate = strings.TrimSpace(rate)
	if rate == "" {
		return 0
	}

	parts := strings.SplitN(rate, "/", 2)
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	if len(parts) == 1 {
		return num
	}

	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0
	}
	return num / den
}
