package spatial

import (
	"math"

	"github.com/satindergrewal/lucid/internal/scene"
)

// Progress is how far through its window the cue is at time t, in [0,1].
func Progress(c scene.Cue, t float64) float64 {
	d := c.Duration()
	if d <= 0 {
		if t >= c.EndSec {
			return 1
		}
		return 0
	}
	return clamp((t-c.StartSec)/d, 0, 1)
}

// Position linearly interpolates the cue between its endpoints at time t.
// The result stays in scene convention (negative Z is behind).
func Position(c scene.Cue, t float64) scene.Position3D {
	p := Progress(c, t)
	a, b := c.PositionStart, c.PositionEnd
	return scene.ClampPosition(scene.Position3D{
		X: a.X + (b.X-a.X)*p,
		Y: a.Y + (b.Y-a.Y)*p,
		Z: a.Z + (b.Z-a.Z)*p,
	})
}

// ToListener maps a scene position into the spatializer's frame, where the
// listener faces -Z. Scene "behind" (negative Z) becomes positive Z.
func ToListener(p scene.Position3D) scene.Position3D {
	p = scene.ClampPosition(p)
	return scene.Position3D{X: p.X, Y: p.Y, Z: clamp(-p.Z, scene.MinCoord, scene.MaxCoord)}
}

// TimelineTime maps the narration play position onto the cue schedule.
// Narration synthesis may run longer or shorter than the designed total, so
// progress through the narration is scaled onto totalSec. With an unknown
// narration duration the raw position is used, clamped to totalSec.
func TimelineTime(narratorPos, narratorDur, totalSec float64) float64 {
	if math.IsNaN(narratorPos) || narratorPos < 0 {
		narratorPos = 0
	}
	if narratorDur > 0 && !math.IsInf(narratorDur, 0) {
		return clamp(narratorPos/narratorDur, 0, 1) * totalSec
	}
	return clamp(narratorPos, 0, totalSec)
}

// BufferOffset is where in a clip of length bufferDur a cue's playback should
// be at timeline time t. Looping cues wrap into [0, bufferDur); one-shots
// clamp to [0, bufferDur].
func BufferOffset(c scene.Cue, t, bufferDur float64) float64 {
	if bufferDur <= 0 {
		return 0
	}
	elapsed := t - c.StartSec
	if c.Loop {
		return Wrap(elapsed, bufferDur)
	}
	return clamp(elapsed, 0, bufferDur)
}

// Wrap reduces v into [0, period).
func Wrap(v, period float64) float64 {
	if period <= 0 {
		return 0
	}
	w := math.Mod(v, period)
	if w < 0 {
		w += period
	}
	if w >= period {
		w = 0
	}
	return w
}

// CircularDistance is the shortest distance between two offsets on a loop of
// the given period.
func CircularDistance(a, b, period float64) float64 {
	if period <= 0 {
		return math.Abs(a - b)
	}
	d := Wrap(a-b, period)
	return math.Min(d, period-d)
}
