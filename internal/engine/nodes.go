package engine

import (
	"math"

	"github.com/satindergrewal/lucid/internal/audio"
	"github.com/satindergrewal/lucid/internal/scene"
	"github.com/satindergrewal/lucid/internal/spatial"
)

// attackFrames is the declick ramp applied when a source starts mid-buffer.
const attackFrames = audio.SampleRate * 5 / 1000

// node tracks whether a graph element is wired into the output.
type node struct {
	connected bool
}

// Gain scales a signal. Target changes are ramped over the next frame.
type Gain struct {
	node
	current float32
	target  float32
}

func newGain(v float64) *Gain {
	return &Gain{current: float32(v), target: float32(v)}
}

// Set changes the target gain.
func (g *Gain) Set(v float64) {
	g.target = float32(v)
}

// Value returns the target gain.
func (g *Gain) Value() float64 {
	return float64(g.target)
}

func (g *Gain) process(buf []float32) {
	audio.Ramp(buf, g.current, g.target)
	g.current = g.target
}

// settle jumps to the target without processing audio.
func (g *Gain) settle() {
	g.current = g.target
}

// Spatializer positions a signal around the listener. Positions are in
// listener space (see spatial.ToListener).
type Spatializer struct {
	node
	panner      spatial.Panner
	position    scene.Position3D
	left, right float32
}

func newSpatializer(p spatial.Panner, pos scene.Position3D) *Spatializer {
	s := &Spatializer{panner: p}
	s.SetPosition(pos)
	s.settle()
	return s
}

// SetPosition moves the source.
func (s *Spatializer) SetPosition(pos scene.Position3D) {
	s.position = pos
}

// Position returns the current listener-space position.
func (s *Spatializer) Position() scene.Position3D {
	return s.position
}

func (s *Spatializer) gains() (float32, float32) {
	l, r := s.panner.Gains(s.position)
	return float32(l), float32(r)
}

func (s *Spatializer) settle() {
	s.left, s.right = s.gains()
}

// process sums buf to mono and pans it back out to stereo in place.
func (s *Spatializer) process(buf []float32) {
	tl, tr := s.gains()
	frames := len(buf) / audio.Channels
	if frames == 0 {
		return
	}
	stepL := (tl - s.left) / float32(frames)
	stepR := (tr - s.right) / float32(frames)
	l, r := s.left, s.right
	for i := 0; i < frames; i++ {
		l += stepL
		r += stepR
		mono := (buf[i*2] + buf[i*2+1]) / 2
		buf[i*2] = mono * l
		buf[i*2+1] = mono * r
	}
	s.left, s.right = tl, tr
}

// Source plays a decoded clip once from an offset. A fresh Source is created
// for every start; it is never restarted.
type Source struct {
	node
	clip   *audio.Clip
	loop   bool
	cursor int
	stopAt float64 // engine time; negative means never
	attack int
	done   bool
}

func newSource(clip *audio.Clip, loop bool) *Source {
	return &Source{clip: clip, loop: loop, stopAt: -1}
}

// Start positions the source at offset seconds and schedules it to stop at
// engine time stopAt (negative for no scheduled stop).
func (s *Source) Start(offset, stopAt float64) {
	frames := s.clip.Frames()
	s.cursor = int(math.Round(offset * audio.SampleRate))
	if s.cursor < 0 {
		s.cursor = 0
	}
	if s.cursor > frames {
		s.cursor = frames
	}
	s.stopAt = stopAt
	if s.cursor == 0 {
		s.attack = attackFrames
	}
	s.connected = true
}

// Stop halts the source and disconnects it.
func (s *Source) Stop() {
	s.done = true
	s.connected = false
}

// Done reports whether the source has finished or been stopped.
func (s *Source) Done() bool {
	return s.done
}

// read renders the next len(dst)/2 frames at engine time now.
func (s *Source) read(dst []float32, now float64) {
	clear(dst)
	if s.done {
		return
	}

	n := len(dst) / audio.Channels
	limited := false
	if s.stopAt >= 0 {
		remain := int(math.Round((s.stopAt - now) * audio.SampleRate))
		if remain < n {
			n = max(remain, 0)
			limited = true
		}
	}

	frames := s.clip.Frames()
	for i := 0; i < n; i++ {
		if s.cursor >= frames {
			if !s.loop || frames == 0 {
				s.done = true
				return
			}
			s.cursor = 0
		}
		l, r := s.clip.At(s.cursor)
		if s.attack < attackFrames {
			g := float32(audio.Smoothstep(float64(s.attack) / attackFrames))
			l, r = l*g, r*g
			s.attack++
		}
		dst[i*2] = l
		dst[i*2+1] = r
		s.cursor++
	}
	if limited {
		s.done = true
	}
}

// Narration is the narrator bed: a decoded clip with a play cursor.
type Narration struct {
	node
	Text    string
	clip    *audio.Clip
	gain    *Gain
	cursor  int
	playing bool
	ended   bool
}

func newNarration(clip *audio.Clip, text string, gain float64) *Narration {
	return &Narration{Text: text, clip: clip, gain: newGain(gain)}
}

// Duration is the narration length in seconds, 0 when unknown.
func (n *Narration) Duration() float64 {
	return n.clip.Duration()
}

// Position is the play position in seconds.
func (n *Narration) Position() float64 {
	return float64(n.cursor) / audio.SampleRate
}

// SetPosition moves the play cursor, clamped to the clip.
func (n *Narration) SetPosition(sec float64) {
	c := int(math.Round(sec * audio.SampleRate))
	n.cursor = min(max(c, 0), n.clip.Frames())
	n.ended = false
}

// Ended reports whether playback ran off the end of the clip.
func (n *Narration) Ended() bool { return n.ended }

// Play starts the narration on actx.
func (n *Narration) Play(actx *Context) error {
	if actx == nil || actx.State() == ContextClosed {
		return ErrPlaybackRejected
	}
	if n.clip.Frames() == 0 || !n.connected {
		return ErrPlaybackRejected
	}
	n.playing = true
	n.ended = false
	return nil
}

// Pause stops the narration where it is.
func (n *Narration) Pause() {
	n.playing = false
}

func (n *Narration) read(dst []float32) {
	clear(dst)
	if !n.playing {
		return
	}
	frames := n.clip.Frames()
	for i := 0; i < len(dst)/audio.Channels; i++ {
		if n.cursor >= frames {
			n.playing = false
			n.ended = true
			break
		}
		dst[i*2], dst[i*2+1] = n.clip.At(n.cursor)
		n.cursor++
	}
	if n.cursor >= frames && n.playing {
		n.playing = false
		n.ended = true
	}
	n.gain.process(dst)
}

// Dispose releases the narration's decoded audio.
func (n *Narration) Dispose() {
	n.playing = false
	n.connected = false
	n.gain.connected = false
	n.clip = nil
}
