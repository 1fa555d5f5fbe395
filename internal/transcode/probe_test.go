package transcode

import (
	"math"
	"testing"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
	}{
		{"NTSC rational", "30000/1001", 29.97002997},
		{"exact rational", "25/1", 25},
		{"plain number", "24", 24},
		{"zero denominator", "30/0", 0},
		{"empty", "", 0},
		{"garbage", "abc/def", 0},
		{"film rate", "24000/1001", 23.976023976},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseFrameRate(tc.input)
			if math.Abs(got-tc.expected) > 0.0001 {
				t.Errorf("ParseFrameRate(%q): expected %.6f, got %.6f", tc.input, tc.expected, got)
			}
		})
	}
}

func TestThumbnailOffsets(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		interval int
		expected []int
	}{
		{"60s at 10s interval", 60, 10, []int{0, 10, 20, 30, 40, 50}},
		{"59s rounds down", 59, 10, []int{0, 10, 20, 30, 40}},
		{"zero duration yields none", 0, 10, nil},
		{"shorter than interval yields none", 7, 10, nil},
		{"zero interval yields none", 60, 0, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := thumbnailOffsets(tc.duration, tc.interval)
			if len(got) != len(tc.expected) {
				t.Fatalf("Expected %d offsets, got %d (%v)", len(tc.expected), len(got), got)
			}
			for i := range tc.expected {
				if got[i] != tc.expected[i] {
					t.Errorf("Offset %d: expected %d, got %d", i, tc.expected[i], got[i])
				}
			}
		})
	}
}

func TestThumbnailHeightKeepsAspect(t *testing.T) {
	if h := thumbnailHeight(1920, 1080); h != 180 {
		t.Errorf("Expected 180 for 16:9 source, got %d", h)
	}
	// Odd results are bumped to even for the encoder.
	if h := thumbnailHeight(1000, 525); h%2 != 0 {
		t.Errorf("Expected even height, got %d", h)
	}
	if h := thumbnailHeight(0, 0); h != 180 {
		t.Errorf("Expected 16:9 fallback for unknown dimensions, got %d", h)
	}
}
