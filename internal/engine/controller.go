package engine

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/satindergrewal/lucid/internal/audio"
	"github.com/satindergrewal/lucid/internal/scene"
	"github.com/satindergrewal/lucid/internal/spatial"
)

// State is the controller's playback state.
type State int

const (
	StateIdle State = iota
	StateReady
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	default:
		return "idle"
	}
}

// Options configures a Controller.
type Options struct {
	Decoder           Decoder
	GraceSec          float64
	DriftThresholdSec float64
	MaxGain           float64
	NarratorGain      float64
	Panner            spatial.Panner
}

// DefaultOptions returns the stock tuning with the built-in decoders.
func DefaultOptions() Options {
	return Options{
		Decoder:           DecoderFunc(audio.DecodeBytes),
		GraceSec:          0.12,
		DriftThresholdSec: 0.45,
		MaxGain:           spatial.DefaultMaxGain,
		NarratorGain:      1.05,
		Panner:            spatial.DefaultPanner,
	}
}

// CueLevel is a cue's instantaneous mix state.
type CueLevel struct {
	ID       string           `json:"id"`
	Gain     float64          `json:"gain"`
	Volume   float64          `json:"volume"`
	Active   bool             `json:"active"`
	Position scene.Position3D `json:"position"`
}

// Status is a point-in-time snapshot for the UI.
type Status struct {
	State              string     `json:"state"`
	CurrentTimeSeconds float64    `json:"current_time_seconds"`
	DurationSeconds    float64    `json:"duration_seconds"`
	Error              string     `json:"error,omitempty"`
	Narrative          string     `json:"narrative,omitempty"`
	MasterVolume       float64    `json:"master_volume"`
	Cues               []CueLevel `json:"cues,omitempty"`
}

// Controller owns the mixing context and at most one live graph. All methods
// are safe to call from any goroutine.
type Controller struct {
	mu     sync.Mutex
	opts   Options
	driver Driver

	actx     *Context
	graph    *Graph
	state    State
	current  float64
	duration float64
	errMsg   string
	levels   Levels
	out      []float32
	closed   bool

	generation  uint64
	cancelSetup context.CancelFunc

	wake  func()
	built func(*Graph) // called with every graph Build returns, live or not
}

// NewController creates an idle controller. Zero-valued option fields fall
// back to DefaultOptions.
func NewController(opts Options) *Controller {
	def := DefaultOptions()
	if opts.Decoder == nil {
		opts.Decoder = def.Decoder
	}
	if opts.GraceSec <= 0 {
		opts.GraceSec = def.GraceSec
	}
	if opts.DriftThresholdSec <= 0 {
		opts.DriftThresholdSec = def.DriftThresholdSec
	}
	if opts.MaxGain <= 0 {
		opts.MaxGain = def.MaxGain
	}
	if opts.NarratorGain <= 0 {
		opts.NarratorGain = def.NarratorGain
	}
	if opts.Panner == (spatial.Panner{}) {
		opts.Panner = def.Panner
	}
	return &Controller{
		opts: opts,
		driver: Driver{
			Grace:          opts.GraceSec,
			DriftThreshold: opts.DriftThresholdSec,
			MaxGain:        opts.MaxGain,
		},
		levels: Levels{Master: 1, Cue: make(map[string]float64)},
		out:    make([]float32, audio.FrameSamples),
	}
}

// SetWakeFunc registers a callback invoked whenever playback starts, so a
// paced renderer can leave its idle state.
func (c *Controller) SetWakeFunc(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wake = fn
}

// ensureContextLocked lazily creates the shared mixing context.
func (c *Controller) ensureContextLocked() {
	if c.actx == nil {
		c.actx = NewContext()
	}
}

// Setup tears down any current graph and builds a new one from assets.
// A Setup superseded by a later call (or whose ctx is cancelled) returns
// ErrStale and never connects its graph.
func (c *Controller) Setup(ctx context.Context, assets Assets) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.generation++
	gen := c.generation
	if c.cancelSetup != nil {
		c.cancelSetup()
	}
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancelSetup = cancel
	c.teardownLocked()
	c.errMsg = ""
	c.ensureContextLocked()
	dec, opts, built := c.opts.Decoder, c.opts, c.built
	c.mu.Unlock()

	log.Debug("Decoding scene audio", "generation", gen, "cues", len(assets.Cues))
	g, err := Build(sctx, assets, dec, opts)
	if g != nil && built != nil {
		built(g)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || sctx.Err() != nil || c.closed {
		if g != nil {
			g.Teardown()
		}
		log.Debug("Discarded stale setup", "generation", gen)
		return ErrStale
	}
	c.cancelSetup = nil

	if err != nil {
		c.errMsg = fmt.Sprintf("%s: %v", ErrSetupFailed, err)
		log.Error("Setup failed", "generation", gen, "err", err)
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}

	g.Connect()
	c.graph = g
	c.state = StateReady
	c.current = 0
	c.duration = g.Narration.Duration()
	c.levels.Cue = make(map[string]float64)
	c.driver.Apply(g, 0, c.levels)
	log.Info("Graph installed", "generation", gen, "cues", len(g.Tracks), "duration", fmt.Sprintf("%.1fs", c.duration))
	return nil
}

// teardownLocked disposes the live graph and returns to Idle.
func (c *Controller) teardownLocked() {
	if c.graph != nil {
		c.graph.Teardown()
		c.graph = nil
	}
	if c.actx != nil {
		c.actx.Suspend()
	}
	c.state = StateIdle
	c.current = 0
	c.duration = 0
}

// Play starts or resumes playback.
func (c *Controller) Play() error {
	c.mu.Lock()
	if c.graph == nil {
		c.errMsg = ErrNotReady.Error()
		c.mu.Unlock()
		return ErrNotReady
	}
	if c.state == StatePlaying {
		c.mu.Unlock()
		return nil
	}

	if err := c.actx.Resume(); err != nil {
		c.errMsg = fmt.Sprintf("%s: %v", ErrPlaybackRejected, err)
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrPlaybackRejected, err)
	}
	n := c.graph.Narration
	if n.Ended() {
		n.SetPosition(0)
	}
	if err := n.Play(c.actx); err != nil {
		c.actx.Suspend()
		c.errMsg = err.Error()
		c.mu.Unlock()
		return err
	}

	c.errMsg = ""
	c.state = StatePlaying
	c.current = n.Position()
	if len(c.graph.Tracks) > 0 {
		c.driver.Tick(c.graph, c.actx.CurrentTime(), c.levels)
	}
	wake := c.wake
	c.mu.Unlock()

	if wake != nil {
		wake()
	}
	return nil
}

// Pause stops the driver and every cue instance, keeping the position.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseLocked()
}

func (c *Controller) pauseLocked() {
	if c.graph == nil {
		return
	}
	c.graph.StopAll()
	c.graph.Narration.Pause()
	c.state = StateReady
	c.actx.Suspend()
	c.current = c.graph.Narration.Position()
}

// Stop pauses and rewinds to the start.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = 0
	if c.graph == nil {
		return
	}
	c.pauseLocked()
	c.graph.Narration.SetPosition(0)
	c.current = 0
	c.driver.Apply(c.graph, 0, c.levels)
}

// Seek moves narration to sec, clamped to [0, duration]. Active cues are
// stopped; while playing the next tick restarts them at the right offset.
func (c *Controller) Seek(sec float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if math.IsNaN(sec) || sec < 0 {
		sec = 0
	}
	sec = math.Min(sec, c.duration)
	c.current = sec
	if c.graph == nil {
		return
	}
	c.graph.Narration.SetPosition(sec)
	c.graph.StopAll()
	c.driver.Apply(c.graph, c.driver.TimelineTime(c.graph), c.levels)
}

// RenderFrame renders the next 20ms frame into dst. It reports false, leaving
// dst untouched, when not playing.
func (c *Controller) RenderFrame(dst []int16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying || c.graph == nil {
		return false
	}

	g := c.graph
	now := c.actx.CurrentTime()
	if len(g.Tracks) > 0 {
		c.driver.Tick(g, now, c.levels)
	}
	g.render(now, c.out)
	audio.ToPCM16(dst, c.out)
	c.actx.advance(audio.FrameSize)
	c.current = g.Narration.Position()

	if g.Narration.Ended() {
		c.finishLocked()
	}
	return true
}

// finishLocked handles narration running off its end.
func (c *Controller) finishLocked() {
	c.graph.StopAll()
	c.state = StateReady
	c.current = c.duration
	log.Info("Narration finished", "duration", fmt.Sprintf("%.1fs", c.duration))
}

// SetMasterVolume sets the cue-bus multiplier, floored at 0. Non-finite
// values are ignored.
func (c *Controller) SetMasterVolume(v float64) {
	if !finite(v) {
		log.Warn("Ignoring non-finite master volume", "volume", v)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels.Master = math.Max(v, 0)
	c.reapplyLocked()
}

// SetCueVolume sets a per-cue multiplier, floored at 0 and otherwise
// unclamped upward. Non-finite values are ignored.
func (c *Controller) SetCueVolume(id string, v float64) {
	if !finite(v) {
		log.Warn("Ignoring non-finite cue volume", "cue", id, "volume", v)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels.Cue[id] = math.Max(v, 0)
	c.reapplyLocked()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (c *Controller) reapplyLocked() {
	if c.graph != nil {
		c.driver.Apply(c.graph, c.driver.TimelineTime(c.graph), c.levels)
	}
}

// CurrentTimeSeconds is the narration position last reported.
func (c *Controller) CurrentTimeSeconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// DurationSeconds is the narration length, 0 with no graph.
func (c *Controller) DurationSeconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// Err returns the last user-facing failure, or "" if none.
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// State returns the playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CueLevels reports every cue's current gain and listener-space position.
func (c *Controller) CueLevels() []CueLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cueLevelsLocked()
}

func (c *Controller) cueLevelsLocked() []CueLevel {
	if c.graph == nil {
		return nil
	}
	levels := make([]CueLevel, len(c.graph.Tracks))
	for i, t := range c.graph.Tracks {
		levels[i] = CueLevel{
			ID:       t.Cue.ID,
			Gain:     t.Gain.Value(),
			Volume:   c.levels.override(t.Cue.ID),
			Active:   t.Active != nil,
			Position: t.Spatializer.Position(),
		}
	}
	return levels
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		State:              c.state.String(),
		CurrentTimeSeconds: c.current,
		DurationSeconds:    c.duration,
		Error:              c.errMsg,
		MasterVolume:       c.levels.Master,
		Cues:               c.cueLevelsLocked(),
	}
	if c.graph != nil {
		s.Narrative = c.graph.Narration.Text
	}
	return s
}

// Close cancels any pending setup, tears down the graph and closes the
// mixing context. The controller cannot be used afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.generation++
	if c.cancelSetup != nil {
		c.cancelSetup()
		c.cancelSetup = nil
	}
	c.teardownLocked()
	if c.actx != nil {
		c.actx.Close()
	}
}
