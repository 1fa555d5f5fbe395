package transcode

import "coursestream-backend/internal/models"

// Rendition is one rung of the quality ladder.
type Rendition struct {
	Quality     models.Quality
	Width       int
	Height      int
	BitrateKbps int
}

// Ladder is the fixed rung list, lowest first. Selection never upscales.
var Ladder = []Rendition{
	{Quality: models.Quality480p, Width: 854, Height: 480, BitrateKbps: 1000},
	{Quality: models.Quality720p, Width: 1280, Height: 720, BitrateKbps: 2500},
	{Quality: models.Quality1080p, Width: 1920, Height: 1080, BitrateKbps: 5000},
}

// SelectLadder returns every rung whose height fits the source. Sources
// below 480p still get the lowest rung so at least one playable rendition
// exists.
func SelectLadder(sourceHeight int) []Rendition {
	var selected []Rendition
	for _, r := range Ladder {
		if r.Height <= sourceHeight {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		selected = []Rendition{Ladder[0]}
	}
	return selected
}
