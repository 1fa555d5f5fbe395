package transcode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"coursestream-backend/internal/storage"
)

const thumbnailWidth = 320

// thumbnailOffsets returns the capture times: one per interval starting at
// zero, floor(duration/interval) in total. A zero duration yields no
// offsets, which is not an error.
func thumbnailOffsets(durationSeconds float64, intervalSeconds int) []int {
	if intervalSeconds <= 0 || durationSeconds <= 0 {
		return nil
	}
	count := int(durationSeconds) / intervalSeconds
	offsets := make([]int, 0, count)
	for i := 0; i < count; i++ {
		offsets = append(offsets, i*intervalSeconds)
	}
	return offsets
}

// GenerateThumbnails captures one frame per interval across the source and
// uploads each as a JPEG. Scratch files are removed on every path.
func (e *FFmpegEngine) GenerateThumbnails(ctx context.Context, req ThumbnailRequest) ([]ThumbnailArtifact, error) {
	info, err := e.Probe(ctx, req.InputPath)
	if err != nil {
		return nil, err
	}

	offsets := thumbnailOffsets(info.DurationSeconds, req.IntervalSeconds)
	if len(offsets) == 0 {
		return nil, nil
	}

	outDir, err := os.MkdirTemp(filepath.Dir(req.InputPath), "thumbs-")
	if err != nil {
		return nil, fmt.Errorf("failed to create thumbnail dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	height := thumbnailHeight(info.Width, info.Height)
	artifacts := make([]ThumbnailArtifact, 0, len(offsets))

	for n, offset := range offsets {
		outPath := filepath.Join(outDir, fmt.Sprintf("thumb_%d.jpg", n))
		cmd := exec.CommandContext(ctx, e.ffmpegPath,
			"-ss", strconv.Itoa(offset),
			"-i", req.InputPath,
			"-vframes", "1",
			"-vf", fmt.Sprintf("scale=%d:-2", thumbnailWidth),
			"-y", outPath,
		)
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("thumbnail at %ds failed: %w", offset, err)
		}

		file, err := os.Open(outPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open thumbnail: %w", err)
		}

		key := storage.ThumbnailKey(req.CourseID, req.ChapterID, req.VideoID, n)
		url, err := e.store.Put(ctx, key, file, "image/jpeg")
		file.Close()
		if err != nil {
			return nil, err
		}

		artifacts = append(artifacts, ThumbnailArtifact{
			StorageKey: key,
			URL:        url,
			TimeOffset: offset,
			Width:      thumbnailWidth,
			Height:     height,
		})
	}

	return artifacts, nil
}

func thumbnailHeight(srcWidth, srcHeight int) int {
	if srcWidth <= 0 || srcHeight <= 0 {
		return thumbnailWidth * 9 / 16
	}
	h := thumbnailWidth * srcHeight / srcWidth
	if h%2 == 1 {
		h++
	}
	return h
}
