package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// ErrInvalidJSON is returned when model output holds no parseable JSON object.
var ErrInvalidJSON = errors.New("model output was not valid JSON")

var fencedJSON = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

// rawAnalysis mirrors Analysis with optional fields so missing values can be
// told apart from zero values.
type rawAnalysis struct {
	Narrative *string      `json:"narrative"`
	Timeline  *rawTimeline `json:"timeline"`
}

type rawTimeline struct {
	TotalDurationSec *float64 `json:"total_duration_sec"`
	Cues             []rawCue `json:"cues"`
}

type rawCue struct {
	ID            *string      `json:"id"`
	Prompt        *string      `json:"prompt"`
	Loop          *bool        `json:"loop"`
	Volume        *float64     `json:"volume"`
	StartSec      *float64     `json:"start_sec"`
	EndSec        *float64     `json:"end_sec"`
	FadeInSec     *float64     `json:"fade_in_sec"`
	FadeOutSec    *float64     `json:"fade_out_sec"`
	PositionStart *rawPosition `json:"position_start"`
	PositionEnd   *rawPosition `json:"position_end"`
}

type rawPosition struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

// ExtractJSON pulls the JSON object out of free-form model output. It tries
// the whole text, then a fenced code block, then the outermost braces.
func ExtractJSON(content string) ([]byte, error) {
	content = strings.TrimSpace(content)
	if json.Valid([]byte(content)) {
		return []byte(content), nil
	}

	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		fenced := strings.TrimSpace(m[1])
		if json.Valid([]byte(fenced)) {
			return []byte(fenced), nil
		}
	}

	first := strings.Index(content, "{")
	last := strings.LastIndex(content, "}")
	if first >= 0 && last > first {
		cropped := content[first : last+1]
		if json.Valid([]byte(cropped)) {
			return []byte(cropped), nil
		}
	}

	return nil, ErrInvalidJSON
}

// ParseAnalysis decodes and normalizes a scene analysis document. Values are
// range-clamped; structurally missing fields are errors.
func ParseAnalysis(data []byte) (Analysis, error) {
	var raw rawAnalysis
	if err := json.Unmarshal(data, &raw); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}

	narrative, err := readString(raw.Narrative, "narrative")
	if err != nil {
		return Analysis{}, err
	}
	if raw.Timeline == nil {
		return Analysis{}, errors.New("timeline must be an object")
	}

	tl, err := parseTimeline(raw.Timeline)
	if err != nil {
		return Analysis{}, err
	}

	return Analysis{Narrative: narrative, Timeline: tl}, nil
}

func parseTimeline(raw *rawTimeline) (Timeline, error) {
	total, err := readNumber(raw.TotalDurationSec, "timeline.total_duration_sec")
	if err != nil {
		return Timeline{}, err
	}
	total = clamp(total, MinTotalDuration, MaxTotalDuration)

	if len(raw.Cues) < MinCues || len(raw.Cues) > MaxCues {
		return Timeline{}, fmt.Errorf("timeline.cues must contain between %d and %d items", MinCues, MaxCues)
	}

	cues := make([]Cue, 0, len(raw.Cues))
	seen := make(map[string]bool, len(raw.Cues))
	for i, rc := range raw.Cues {
		c, err := parseCue(rc, i, total)
		if err != nil {
			return Timeline{}, err
		}
		if seen[c.ID] {
			return Timeline{}, fmt.Errorf("timeline.cues[%d].id %q is not unique", i, c.ID)
		}
		seen[c.ID] = true
		cues = append(cues, c)
	}

	return Timeline{TotalDurationSec: total, Cues: cues}, nil
}

func parseCue(rc rawCue, i int, total float64) (Cue, error) {
	field := func(name string) string {
		return fmt.Sprintf("timeline.cues[%d].%s", i, name)
	}

	id, err := readString(rc.ID, field("id"))
	if err != nil {
		return Cue{}, err
	}
	prompt, err := readString(rc.Prompt, field("prompt"))
	if err != nil {
		return Cue{}, err
	}
	if rc.Loop == nil {
		return Cue{}, fmt.Errorf("%s must be a boolean", field("loop"))
	}
	volume, err := readNumber(rc.Volume, field("volume"))
	if err != nil {
		return Cue{}, err
	}
	start, err := readNumber(rc.StartSec, field("start_sec"))
	if err != nil {
		return Cue{}, err
	}
	end, err := readNumber(rc.EndSec, field("end_sec"))
	if err != nil {
		return Cue{}, err
	}
	posStart, err := parsePosition(rc.PositionStart, field("position_start"))
	if err != nil {
		return Cue{}, err
	}
	posEnd, err := parsePosition(rc.PositionEnd, field("position_end"))
	if err != nil {
		return Cue{}, err
	}

	start, end = NormalizeWindow(start, end, total)

	c := Cue{
		ID:            id,
		Prompt:        prompt,
		Loop:          *rc.Loop,
		Volume:        clamp(volume, 0, 1),
		StartSec:      start,
		EndSec:        end,
		PositionStart: posStart,
		PositionEnd:   posEnd,
	}
	if rc.FadeInSec != nil && isFinite(*rc.FadeInSec) {
		c.FadeInSec = Seconds(clamp(*rc.FadeInSec, MinFade, MaxFade))
	}
	if rc.FadeOutSec != nil && isFinite(*rc.FadeOutSec) {
		c.FadeOutSec = Seconds(clamp(*rc.FadeOutSec, MinFade, MaxFade))
	}
	return c, nil
}

// NormalizeWindow clamps a cue window into [0, total] and widens windows
// shorter than MinCueDuration.
func NormalizeWindow(start, end, total float64) (float64, float64) {
	start = clamp(start, 0, total)
	end = clamp(end, 0, total)

	if end-start < MinCueDuration {
		start = math.Min(start, math.Max(0, total-MinCueDuration))
		end = math.Min(total, start+MinCueDuration)
	}
	if end <= start {
		start = 0
		end = math.Min(total, MinCueDuration)
	}
	return start, end
}

func parsePosition(p *rawPosition, path string) (Position3D, error) {
	if p == nil {
		return Position3D{}, fmt.Errorf("%s must be an object", path)
	}
	x, err := readNumber(p.X, path+".x")
	if err != nil {
		return Position3D{}, err
	}
	y, err := readNumber(p.Y, path+".y")
	if err != nil {
		return Position3D{}, err
	}
	z, err := readNumber(p.Z, path+".z")
	if err != nil {
		return Position3D{}, err
	}
	return ClampPosition(Position3D{X: x, Y: y, Z: z}), nil
}

// ClampPosition clamps every axis to [MinCoord, MaxCoord].
func ClampPosition(p Position3D) Position3D {
	return Position3D{
		X: clamp(p.X, MinCoord, MaxCoord),
		Y: clamp(p.Y, MinCoord, MaxCoord),
		Z: clamp(p.Z, MinCoord, MaxCoord),
	}
}

func readString(v *string, field string) (string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "", fmt.Errorf("%s must be a non-empty string", field)
	}
	return strings.TrimSpace(*v), nil
}

func readNumber(v *float64, field string) (float64, error) {
	if v == nil || !isFinite(*v) {
		return 0, fmt.Errorf("%s must be a finite number", field)
	}
	return *v, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
