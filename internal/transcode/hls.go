package transcode

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"coursestream-backend/internal/models"
	"coursestream-backend/internal/storage"
)

var timeProgressRe = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)

// Transcode produces the full rendition ladder, uploads every playlist and
// segment, and synthesizes the master playlist. Any stage failure aborts the
// whole run: a master playlist with missing renditions is worse than a
// retried job. Local artifacts are removed on every path.
func (e *FFmpegEngine) Transcode(ctx context.Context, req TranscodeRequest) (*RenditionSet, error) {
	info, err := e.Probe(ctx, req.InputPath)
	if err != nil {
		return nil, err
	}

	renditions := SelectLadder(info.Height)

	outDir, err := os.MkdirTemp(filepath.Dir(req.InputPath), "hls-")
	if err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	keyInfoPath := ""
	if len(req.EncryptionKey) > 0 {
		keyInfoPath, err = writeKeyInfo(outDir, req.KeyURI, req.EncryptionKey, req.EncryptionIV)
		if err != nil {
			return nil, err
		}
	}

	for i, r := range renditions {
		rungDir := filepath.Join(outDir, string(r.Quality))
		if err := os.MkdirAll(rungDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create rung dir: %w", err)
		}

		base := i * 100 / len(renditions)
		span := 100 / len(renditions)
		onRung := func(pct int) {
			if req.OnProgress != nil {
				req.OnProgress(base + pct*span/100)
			}
		}

		if err := e.encodeRendition(ctx, req.InputPath, rungDir, r, info, keyInfoPath, onRung); err != nil {
			return nil, fmt.Errorf("encode %s failed: %w", r.Quality, err)
		}
	}

	rungURLs, err := e.uploadRenditions(ctx, outDir, renditions, req)
	if err != nil {
		return nil, err
	}

	master := BuildMasterPlaylist(renditions)
	masterKey := storage.MasterPlaylistKey(req.CourseID, req.ChapterID, req.VideoID)
	masterURL, err := e.store.Put(ctx, masterKey, strings.NewReader(master), "application/vnd.apple.mpegurl")
	if err != nil {
		return nil, fmt.Errorf("failed to upload master playlist: %w", err)
	}

	if req.OnProgress != nil {
		req.OnProgress(100)
	}

	return &RenditionSet{
		Info:       info,
		Renditions: renditions,
		MasterURL:  masterURL,
		RungURLs:   rungURLs,
	}, nil
}

// encodeRendition runs one ffmpeg pass: fixed-length segments with the GOP
// closed on the segment boundary so every segment starts on a keyframe.
func (e *FFmpegEngine) encodeRendition(ctx context.Context, input, rungDir string, r Rendition, info *MediaInfo, keyInfoPath string, onProgress func(pct int)) error {
	gop := int(math.Round(info.FrameRate * float64(e.segmentSeconds)))
	if gop <= 0 {
		gop = 25 * e.segmentSeconds
	}

	args := []string{
		"-y",
		"-i", input,
		"-vf", fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease", r.Width, r.Height),
		"-c:v", "libx264",
		"-profile:v", "main",
		"-sc_threshold", "0",
		"-g", strconv.Itoa(gop),
		"-keyint_min", strconv.Itoa(gop),
		"-b:v", fmt.Sprintf("%dk", r.BitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", r.BitrateKbps*110/100),
		"-bufsize", fmt.Sprintf("%dk", r.BitrateKbps*3/2),
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "48000",
		"-f", "hls",
		"-hls_time", strconv.Itoa(e.segmentSeconds),
		"-hls_playlist_type", "vod",
	}
	if keyInfoPath != "" {
		args = append(args, "-hls_key_info_file", keyInfoPath)
	}
	args = append(args,
		"-hls_segment_filename", filepath.Join(rungDir, "segment_%03d.ts"),
		filepath.Join(rungDir, "playlist.m3u8"),
	)

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg failed to start: %w", err)
	}

	go watchEncodeProgress(stderr, info.DurationSeconds, onProgress)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg exited: %w", err)
	}
	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

// watchEncodeProgress scans ffmpeg's stderr for time= markers and converts
// them to a percentage of the known duration.
func watchEncodeProgress(stream io.ReadCloser, duration float64, onProgress func(pct int)) {
	scanner := bufio.NewScanner(stream)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		if duration <= 0 || onProgress == nil {
			continue
		}
		matches := timeProgressRe.FindStringSubmatch(scanner.Text())
		if len(matches) < 4 {
			continue
		}
		hours, _ := strconv.ParseFloat(matches[1], 64)
		mins, _ := strconv.ParseFloat(matches[2], 64)
		secs, _ := strconv.ParseFloat(matches[3], 64)
		elapsed := hours*3600 + mins*60 + secs
		onProgress(int(elapsed / duration * 100))
	}
}

// writeKeyInfo lays down the AES-128 key file plus the ffmpeg key-info
// sidecar: the playlist-facing key URI, the local key path, and the IV.
func writeKeyInfo(dir, keyURI string, key, iv []byte) (string, error) {
	keyPath := filepath.Join(dir, "enc.key")
	if err := os.WriteFile(keyPath, key, 0o600); err != nil {
		return "", fmt.Errorf("failed to write key file: %w", err)
	}

	keyInfoPath := filepath.Join(dir, "enc.keyinfo")
	content := fmt.Sprintf("%s\n%s\n%s\n", keyURI, keyPath, hex.EncodeToString(iv))
	if err := os.WriteFile(keyInfoPath, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("failed to write key info file: %w", err)
	}
	return keyInfoPath, nil
}

// uploadRenditions pushes every rung's playlist and segments to the object
// store. A single upload failure aborts the run.
func (e *FFmpegEngine) uploadRenditions(ctx context.Context, outDir string, renditions []Rendition, req TranscodeRequest) (map[models.Quality]string, error) {
	rungURLs := make(map[models.Quality]string, len(renditions))

	for _, r := range renditions {
		rungDir := filepath.Join(outDir, string(r.Quality))
		entries, err := os.ReadDir(rungDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read rung dir %s: %w", r.Quality, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			contentType := "application/octet-stream"
			switch filepath.Ext(entry.Name()) {
			case ".m3u8":
				contentType = "application/vnd.apple.mpegurl"
			case ".ts":
				contentType = "video/mp2t"
			}

			file, err := os.Open(filepath.Join(rungDir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", entry.Name(), err)
			}

			key := storage.HLSKey(req.CourseID, req.ChapterID, req.VideoID, string(r.Quality), entry.Name())
			url, err := e.store.Put(ctx, key, file, contentType)
			file.Close()
			if err != nil {
				return nil, err
			}

			if entry.Name() == "playlist.m3u8" {
				rungURLs[r.Quality] = url
			}
		}
		log.Printf("Uploaded %d files for rendition %s of video %s", len(entries), r.Quality, req.VideoID)
	}

	return rungURLs, nil
}
