// Package scene holds the dream timeline contract produced by scene analysis:
// the narration text plus a timed list of spatial sound cues.
package scene

// Coordinate and timing bounds shared by the analysis contract.
const (
	MinCoord = -10.0
	MaxCoord = 10.0

	MinCues = 2
	MaxCues = 5

	MinTotalDuration = 20.0  // seconds
	MaxTotalDuration = 180.0 // seconds

	MinFade = 0.5 // seconds
	MaxFade = 5.0 // seconds

	MinCueDuration = 0.5 // seconds
)

// Position3D is a point in scene space. Negative Z is behind the listener.
type Position3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Cue is a single timed, spatially animated sound event.
type Cue struct {
	ID            string     `json:"id"`
	Prompt        string     `json:"prompt,omitempty"`
	Loop          bool       `json:"loop"`
	Volume        float64    `json:"volume"`
	StartSec      float64    `json:"start_sec"`
	EndSec        float64    `json:"end_sec"`
	FadeInSec     *float64   `json:"fade_in_sec,omitempty"`
	FadeOutSec    *float64   `json:"fade_out_sec,omitempty"`
	PositionStart Position3D `json:"position_start"`
	PositionEnd   Position3D `json:"position_end"`
}

// Duration is the length of the cue's active window.
func (c Cue) Duration() float64 {
	return c.EndSec - c.StartSec
}

// Timeline is the cue schedule spanning TotalDurationSec.
type Timeline struct {
	TotalDurationSec float64 `json:"total_duration_sec"`
	Cues             []Cue   `json:"cues"`
}

// Analysis is what the scene analysis call returns.
type Analysis struct {
	Narrative string   `json:"narrative"`
	Timeline  Timeline `json:"timeline"`
}

// Seconds returns a pointer to v, for the optional fade fields.
func Seconds(v float64) *float64 {
	return &v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
