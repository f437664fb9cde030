package audio

import "math"

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Ramp multiplies an interleaved stereo buffer by a gain that moves linearly
// from `from` to `to` across the buffer's frames. Per-sample ramps keep
// 20ms gain updates from producing zipper noise.
func Ramp(buf []float32, from, to float32) {
	frames := len(buf) / Channels
	if frames == 0 {
		return
	}
	if from == to {
		for i := range buf {
			buf[i] *= to
		}
		return
	}
	step := (to - from) / float32(frames)
	g := from
	for i := 0; i < frames; i++ {
		g += step
		buf[i*Channels] *= g
		buf[i*Channels+1] *= g
	}
}

// Mix adds src into dst sample by sample.
func Mix(dst, src []float32) {
	for i := range src {
		dst[i] += src[i]
	}
}

// ToPCM16 converts float samples to int16, clipping to the int16 range.
// NaN samples become silence.
func ToPCM16(dst []int16, src []float32) {
	for i, s := range src {
		v := float64(s) * 32768
		if math.IsNaN(v) {
			v = 0
		}
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		dst[i] = int16(v)
	}
}
