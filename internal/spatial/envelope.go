// Package spatial computes the time-varying gain and position of a cue.
// Everything here is a pure function of the cue and a timeline instant.
package spatial

import (
	"math"

	"github.com/satindergrewal/lucid/internal/scene"
)

// DefaultMaxGain caps a node's instantaneous gain so user boost cannot clip
// catastrophically.
const DefaultMaxGain = 3.0

// Fades returns the effective fade-in and fade-out lengths of a cue. Requested
// values are clamped to [MinFade, MaxFade] (absent means MinFade) and then
// capped at half the cue's duration so the ramps never overlap.
func Fades(c scene.Cue) (fadeIn, fadeOut float64) {
	half := c.Duration() / 2
	if half <= 0 {
		return 0, 0
	}
	return fadeLength(c.FadeInSec, half), fadeLength(c.FadeOutSec, half)
}

func fadeLength(requested *float64, half float64) float64 {
	v := scene.MinFade
	if requested != nil && !math.IsNaN(*requested) {
		v = clamp(*requested, scene.MinFade, scene.MaxFade)
	}
	return math.Min(v, half)
}

// Envelope is the cue's fade multiplier in [0,1] at timeline time t.
// Outside [StartSec, EndSec] it is 0.
func Envelope(c scene.Cue, t float64) float64 {
	if c.Duration() <= 0 || t < c.StartSec || t > c.EndSec {
		return 0
	}

	fadeIn, fadeOut := Fades(c)
	env := 1.0
	if fadeIn > 0 {
		env = math.Min(env, (t-c.StartSec)/fadeIn)
	}
	if fadeOut > 0 {
		env = math.Min(env, (c.EndSec-t)/fadeOut)
	}
	return clamp(env, 0, 1)
}

// Gain is the instantaneous node gain: envelope x base volume x user
// override, where override is floored at 0 and the product is capped at
// maxGain. A silent envelope or volume is 0 whatever the override.
func Gain(c scene.Cue, t, override, maxGain float64) float64 {
	if math.IsNaN(override) || override < 0 {
		override = 0
	}
	base := Envelope(c, t) * c.Volume
	if base <= 0 || override == 0 || math.IsNaN(base) {
		return 0
	}
	g := base * override
	if maxGain > 0 && g > maxGain {
		g = maxGain
	}
	return g
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
