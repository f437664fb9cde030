package spatial

import (
	"math"

	"github.com/satindergrewal/lucid/internal/scene"
)

// Panner turns a listener-space position into left/right channel gains using
// an inverse distance model and equal-power azimuth panning.
type Panner struct {
	RefDistance float64
	MaxDistance float64
	Rolloff     float64
}

// DefaultPanner matches the scene's coordinate range: full level within one
// unit, attenuation capped at 30 units.
var DefaultPanner = Panner{RefDistance: 1, MaxDistance: 30, Rolloff: 1}

// DistanceGain is the inverse-distance attenuation for distance d.
func (p Panner) DistanceGain(d float64) float64 {
	ref := p.RefDistance
	if ref <= 0 {
		ref = 1
	}
	if p.MaxDistance > 0 && d > p.MaxDistance {
		d = p.MaxDistance
	}
	if d < ref {
		d = ref
	}
	return ref / (ref + p.Rolloff*(d-ref))
}

// Gains returns left and right gains for a listener-space position.
func (p Panner) Gains(pos scene.Position3D) (left, right float64) {
	horiz := math.Hypot(pos.X, pos.Z)
	dist := math.Sqrt(horiz*horiz + pos.Y*pos.Y)

	pan := 0.0
	if horiz > 0 {
		// sin(azimuth), scaled down as the source rises above or below the
		// listener.
		pan = (pos.X / horiz) * (horiz / dist)
	}

	theta := (pan + 1) * math.Pi / 4
	g := p.DistanceGain(dist)
	return math.Cos(theta) * g, math.Sin(theta) * g
}
