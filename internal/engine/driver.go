package engine

import (
	"math"

	"github.com/charmbracelet/log"
	"github.com/satindergrewal/lucid/internal/spatial"
)

// Levels are the user-controlled volume multipliers read on every tick.
type Levels struct {
	Master float64
	Cue    map[string]float64
}

// override returns the user multiplier for a cue, defaulting to 1.
func (l Levels) override(id string) float64 {
	if v, ok := l.Cue[id]; ok {
		return v
	}
	return 1
}

// Driver applies the cue timeline to a graph. It holds no per-graph state;
// everything it decides is recorded on the graph's tracks.
type Driver struct {
	// Grace keeps a one-shot's tail alive this long past its window end so
	// frame jitter does not truncate it.
	Grace float64
	// DriftThreshold is the circular offset error that forces a looping cue
	// to restart at its expected offset.
	DriftThreshold float64
	// MaxGain caps the per-cue node gain.
	MaxGain float64
}

// TimelineTime maps the graph's narration position onto the cue schedule.
func (d Driver) TimelineTime(g *Graph) float64 {
	return spatial.TimelineTime(g.Narration.Position(), g.Narration.Duration(), g.Timeline.TotalDurationSec)
}

// Apply sets every cue's gain and position for timeline time t without
// touching playback presence.
func (d Driver) Apply(g *Graph, t float64, lv Levels) {
	g.Bus.Set(math.Max(lv.Master, 0))
	for _, tr := range g.Tracks {
		tr.Gain.Set(spatial.Gain(tr.Cue, t, lv.override(tr.Cue.ID), d.MaxGain))
		tr.Spatializer.SetPosition(spatial.ToListener(spatial.Position(tr.Cue, t)))
	}
}

// Tick runs one driver step at engine time now and returns the timeline time
// it acted on.
func (d Driver) Tick(g *Graph, now float64, lv Levels) float64 {
	t := d.TimelineTime(g)
	d.Apply(g, t, lv)
	for _, tr := range g.Tracks {
		d.schedule(tr, t, now)
	}
	return t
}

func (d Driver) schedule(tr *CueTrack, t, now float64) {
	c := tr.Cue
	audible := c.Duration() > 0
	inCore := audible && t >= c.StartSec && t <= c.EndSec
	inHold := audible && t >= c.StartSec && t <= c.EndSec+d.Grace

	switch {
	case !inHold:
		if tr.Active != nil {
			log.Debug("Cue stopped", "cue", c.ID, "t", t)
			tr.stop()
		}
	case inCore && tr.Active == nil:
		d.start(tr, t, now)
	case inCore && c.Loop:
		d.correctDrift(tr, t, now)
	}
}

// start creates a fresh source at the offset the timeline expects.
func (d Driver) start(tr *CueTrack, t, now float64) {
	bufDur := tr.Clip.Duration()
	offset := spatial.BufferOffset(tr.Cue, t, bufDur)

	stopAt := -1.0
	if !tr.Cue.Loop {
		remaining := math.Min(tr.Cue.EndSec-t, bufDur-offset)
		if remaining <= 0 {
			// Nothing left of the one-shot to play.
			return
		}
		stopAt = now + remaining
	}

	src := newSource(tr.Clip, tr.Cue.Loop)
	src.Start(offset, stopAt)
	tr.Active = &Playback{Source: src, StartTime: now, StartOffset: offset}
	log.Debug("Cue started", "cue", tr.Cue.ID, "t", t, "offset", offset)
}

// correctDrift restarts a looping instance whose real offset has wandered
// more than DriftThreshold from the timeline's expected offset.
func (d Driver) correctDrift(tr *CueTrack, t, now float64) {
	bufDur := tr.Clip.Duration()
	if bufDur <= 0 {
		return
	}
	expected := spatial.BufferOffset(tr.Cue, t, bufDur)
	actual := spatial.Wrap(tr.Active.StartOffset+(now-tr.Active.StartTime), bufDur)
	drift := spatial.CircularDistance(expected, actual, bufDur)
	if drift <= d.DriftThreshold {
		return
	}
	log.Debug("Loop drift corrected", "cue", tr.Cue.ID, "drift", drift, "expected", expected)
	tr.stop()
	d.start(tr, t, now)
}
