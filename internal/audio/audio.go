package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Clip is a fully decoded sound: interleaved stereo float samples at
// SampleRate, nominally in [-1, 1].
type Clip struct {
	Samples []float32
}

// NewClip wraps interleaved stereo samples. A trailing odd sample is dropped.
func NewClip(samples []float32) *Clip {
	if len(samples)%Channels != 0 {
		samples = samples[:len(samples)-len(samples)%Channels]
	}
	return &Clip{Samples: samples}
}

// Frames returns the number of stereo frames in the clip.
func (c *Clip) Frames() int {
	if c == nil {
		return 0
	}
	return len(c.Samples) / Channels
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	return float64(c.Frames()) / SampleRate
}

// At returns the left and right samples of frame i.
func (c *Clip) At(i int) (float32, float32) {
	return c.Samples[i*Channels], c.Samples[i*Channels+1]
}
