package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/lucid/internal/audio"
	"github.com/satindergrewal/lucid/internal/scene"
)

func twoCueTimeline() scene.Timeline {
	return scene.Timeline{TotalDurationSec: 20, Cues: []scene.Cue{
		loopCue("rain", 0, 12),
		loopCue("air", 4, 18),
	}}
}

func renderFrames(c *Controller, n int) int {
	buf := make([]int16, audio.FrameSamples)
	rendered := 0
	for i := 0; i < n; i++ {
		if !c.RenderFrame(buf) {
			break
		}
		rendered++
	}
	return rendered
}

func TestPlayWithoutSetup(t *testing.T) {
	c := NewController(testOptions())
	defer c.Close()

	if err := c.Play(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Play() = %v, want ErrNotReady", err)
	}
	if got := c.Err(); got != "audio not ready" {
		t.Errorf("Err() = %q, want %q", got, "audio not ready")
	}
	if c.State() != StateIdle {
		t.Errorf("State = %v, want idle", c.State())
	}
}

func TestSetupReady(t *testing.T) {
	c := newTestController(t, testAssets("a dream", 2, 1, twoCueTimeline()))

	if c.State() != StateReady {
		t.Errorf("State = %v, want ready", c.State())
	}
	if got := c.DurationSeconds(); got != 2 {
		t.Errorf("DurationSeconds = %v, want 2", got)
	}
	if !c.graph.Connected() {
		t.Error("installed graph not connected")
	}
	for _, l := range c.CueLevels() {
		if l.Gain != 0 || l.Active {
			t.Errorf("cue %s: gain %v active %v before play", l.ID, l.Gain, l.Active)
		}
	}
	if got := c.Status().Narrative; got != "a dream" {
		t.Errorf("Narrative = %q", got)
	}
}

func TestSetupDecodeFailure(t *testing.T) {
	c := NewController(testOptions())
	defer c.Close()

	assets := testAssets("", 2, 1, twoCueTimeline())
	assets.Cues[1] = []byte("not audio")

	err := c.Setup(context.Background(), assets)
	if !errors.Is(err, ErrSetupFailed) {
		t.Fatalf("Setup() = %v, want ErrSetupFailed", err)
	}
	if !strings.HasPrefix(c.Err(), "failed to initialize spatial audio") {
		t.Errorf("Err() = %q", c.Err())
	}
	if c.State() != StateIdle || c.graph != nil {
		t.Error("failed setup left a graph installed")
	}
}

func TestSetupClipCountMismatch(t *testing.T) {
	c := NewController(testOptions())
	defer c.Close()

	assets := testAssets("", 2, 1, twoCueTimeline())
	assets.Cues = assets.Cues[:1]
	if err := c.Setup(context.Background(), assets); !errors.Is(err, ErrSetupFailed) {
		t.Fatalf("Setup() = %v, want ErrSetupFailed", err)
	}
}

func TestSetupSupersededIsStale(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	opts := testOptions()
	opts.Decoder = DecoderFunc(func(ctx context.Context, data []byte) (*audio.Clip, error) {
		if string(data) == "slow" {
			once.Do(func() { close(entered) })
			<-release // resolves late, ignoring cancellation
			return secondsDecoder(ctx, []byte("1"))
		}
		return secondsDecoder(ctx, data)
	})
	c := NewController(opts)
	defer c.Close()

	var (
		mu    sync.Mutex
		built []*Graph
	)
	c.built = func(g *Graph) {
		mu.Lock()
		built = append(built, g)
		mu.Unlock()
	}

	a := testAssets("A", 2, 1, twoCueTimeline())
	a.Narration = []byte("slow")
	errA := make(chan error, 1)
	go func() { errA <- c.Setup(context.Background(), a) }()
	<-entered

	b := testAssets("B", 2, 1, twoCueTimeline())
	if err := c.Setup(context.Background(), b); err != nil {
		t.Fatalf("Setup(B) = %v", err)
	}
	close(release)

	select {
	case err := <-errA:
		if !errors.Is(err, ErrStale) {
			t.Fatalf("Setup(A) = %v, want ErrStale", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Setup(A) never returned")
	}

	if c.graph == nil || c.graph.Narration.Text != "B" {
		t.Fatal("live graph is not B")
	}
	if c.Err() != "" {
		t.Errorf("stale setup surfaced error %q", c.Err())
	}
	mu.Lock()
	defer mu.Unlock()
	for _, g := range built {
		if g != c.graph && g.Connected() {
			t.Error("stale graph was connected")
		}
	}
}

func TestSetupCancelledContextIsStale(t *testing.T) {
	c := NewController(testOptions())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Setup(ctx, testAssets("", 2, 1, twoCueTimeline())); !errors.Is(err, ErrStale) {
		t.Fatalf("Setup() = %v, want ErrStale", err)
	}
	if c.graph != nil {
		t.Error("cancelled setup installed a graph")
	}
}

func TestSetupReplacesGraph(t *testing.T) {
	c := newTestController(t, testAssets("first", 2, 1, twoCueTimeline()))
	old := c.graph
	if err := c.Play(); err != nil {
		t.Fatal(err)
	}

	if err := c.Setup(context.Background(), testAssets("second", 2, 1, twoCueTimeline())); err != nil {
		t.Fatal(err)
	}
	if old.Connected() {
		t.Error("previous graph still connected")
	}
	if c.State() != StateReady {
		t.Errorf("State = %v, want ready", c.State())
	}
}

func TestPlayStartsCuesImmediately(t *testing.T) {
	c := newTestController(t, testAssets("", 2, 1, twoCueTimeline()))

	if err := c.Play(); err != nil {
		t.Fatalf("Play() = %v", err)
	}
	if c.State() != StatePlaying {
		t.Fatalf("State = %v, want playing", c.State())
	}
	levels := c.CueLevels()
	if !levels[0].Active {
		t.Error("cue in window at t=0 not started on play")
	}
	if levels[1].Active {
		t.Error("cue starting at 4s started at t=0")
	}
}

func TestRenderFrame(t *testing.T) {
	c := newTestController(t, testAssets("", 2, 1, twoCueTimeline()))
	buf := make([]int16, audio.FrameSamples)

	if c.RenderFrame(buf) {
		t.Fatal("RenderFrame reported audio while ready")
	}
	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	if !c.RenderFrame(buf) {
		t.Fatal("RenderFrame reported silence while playing")
	}
	nonZero := false
	for _, s := range buf {
		if s != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Error("rendered frame is silent")
	}
	if got, want := c.CurrentTimeSeconds(), audio.FrameDuration.Seconds(); math.Abs(got-want) > 1e-9 {
		t.Errorf("CurrentTimeSeconds = %v, want %v", got, want)
	}
}

func TestSeek(t *testing.T) {
	c := newTestController(t, testAssets("", 2, 1, twoCueTimeline()))

	tests := []struct {
		seek, want float64
	}{
		{0.5, 0.5},
		{-3, 0},
		{2, 2},
		{100, 2},
		{math.NaN(), 0},
		{1.25, 1.25},
	}
	for _, tt := range tests {
		c.Seek(tt.seek)
		if got := c.CurrentTimeSeconds(); got != tt.want {
			t.Errorf("Seek(%v): CurrentTimeSeconds = %v, want %v", tt.seek, got, tt.want)
		}
	}
}

func TestSeekStopsActiveCues(t *testing.T) {
	c := newTestController(t, testAssets("", 2, 1, twoCueTimeline()))
	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	renderFrames(c, 5)

	c.Seek(1)
	for _, l := range c.CueLevels() {
		if l.Active {
			t.Errorf("cue %s still active after seek", l.ID)
		}
	}
	// Timeline 10s: both cues audible, restarted on the next tick.
	renderFrames(c, 1)
	for _, l := range c.CueLevels() {
		if !l.Active {
			t.Errorf("cue %s not restarted after seek", l.ID)
		}
	}
}

func TestStopResets(t *testing.T) {
	c := newTestController(t, testAssets("", 2, 1, twoCueTimeline()))
	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	c.Seek(1)
	renderFrames(c, 10)

	c.Stop()
	if got := c.CurrentTimeSeconds(); got != 0 {
		t.Errorf("CurrentTimeSeconds = %v, want 0", got)
	}
	if c.State() != StateReady {
		t.Errorf("State = %v, want ready", c.State())
	}
	for _, l := range c.CueLevels() {
		if l.Gain != 0 {
			t.Errorf("cue %s gain = %v after stop, want 0", l.ID, l.Gain)
		}
		if l.Active {
			t.Errorf("cue %s active after stop", l.ID)
		}
	}
}

func TestPauseIdempotent(t *testing.T) {
	c := newTestController(t, testAssets("", 2, 1, twoCueTimeline()))
	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	renderFrames(c, 7)

	c.Pause()
	once := c.Status()
	c.Pause()
	twice := c.Status()
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second Pause changed state:\n%+v\n%+v", once, twice)
	}
	if once.State != "ready" {
		t.Errorf("State = %q, want ready", once.State)
	}
	if c.actx.State() != ContextSuspended {
		t.Errorf("context %v after pause, want suspended", c.actx.State())
	}
	if once.CurrentTimeSeconds == 0 {
		t.Error("pause lost the play position")
	}
}

func TestNarrationEndCompletes(t *testing.T) {
	c := newTestController(t, testAssets("", 0.1, 1, twoCueTimeline()))
	if err := c.Play(); err != nil {
		t.Fatal(err)
	}

	if n := renderFrames(c, 100); n != 5 {
		t.Errorf("rendered %d frames of a 0.1s narration, want 5", n)
	}
	if c.State() != StateReady {
		t.Errorf("State = %v, want ready", c.State())
	}
	if got := c.CurrentTimeSeconds(); got != c.DurationSeconds() {
		t.Errorf("CurrentTimeSeconds = %v, want duration %v", got, c.DurationSeconds())
	}
	for _, l := range c.CueLevels() {
		if l.Active {
			t.Errorf("cue %s active after narration ended", l.ID)
		}
	}

	// Playing again rewinds.
	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	if got := c.CurrentTimeSeconds(); got != 0 {
		t.Errorf("replay CurrentTimeSeconds = %v, want 0", got)
	}
}

func TestVolumes(t *testing.T) {
	c := newTestController(t, testAssets("", 2, 1, twoCueTimeline()))
	c.Seek(1) // timeline 10s

	c.SetCueVolume("rain", -2)
	c.SetMasterVolume(0.5)
	levels := c.CueLevels()
	if levels[0].Volume != 0 || levels[0].Gain != 0 {
		t.Errorf("rain volume %v gain %v, want 0 for negative override", levels[0].Volume, levels[0].Gain)
	}
	if levels[1].Volume != 1 || levels[1].Gain == 0 {
		t.Errorf("air volume %v gain %v, want default override", levels[1].Volume, levels[1].Gain)
	}
	if got := c.Status().MasterVolume; got != 0.5 {
		t.Errorf("MasterVolume = %v, want 0.5", got)
	}

	c.SetCueVolume("air", 10)
	if got := c.CueLevels()[1].Gain; got != 3 {
		t.Errorf("boosted gain = %v, want capped at 3", got)
	}
}

func TestNonFiniteVolumesIgnored(t *testing.T) {
	c := newTestController(t, testAssets("", 2, 1, twoCueTimeline()))
	c.Seek(1)
	c.SetMasterVolume(0.5)
	c.SetCueVolume("rain", 2)

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		c.SetMasterVolume(v)
		c.SetCueVolume("rain", v)
		c.SetCueVolume("air", v)
	}

	s := c.Status()
	if s.MasterVolume != 0.5 {
		t.Errorf("MasterVolume = %v, want 0.5", s.MasterVolume)
	}
	if s.Cues[0].Volume != 2 || s.Cues[1].Volume != 1 {
		t.Errorf("cue volumes = %v, %v, want 2, 1", s.Cues[0].Volume, s.Cues[1].Volume)
	}
	if _, err := json.Marshal(s); err != nil {
		t.Errorf("status does not encode: %v", err)
	}

	c.Stop()
	for _, l := range c.CueLevels() {
		if math.IsNaN(l.Gain) || l.Gain < 0 || l.Gain > 3 {
			t.Errorf("cue %s gain = %v after Stop", l.ID, l.Gain)
		}
	}
}

func TestClose(t *testing.T) {
	c := NewController(testOptions())
	if err := c.Setup(context.Background(), testAssets("", 2, 1, twoCueTimeline())); err != nil {
		t.Fatal(err)
	}
	g := c.graph
	c.Close()
	c.Close()

	if g.Connected() {
		t.Error("graph connected after Close")
	}
	if err := c.Setup(context.Background(), testAssets("", 2, 1, twoCueTimeline())); !errors.Is(err, ErrClosed) {
		t.Errorf("Setup after Close = %v, want ErrClosed", err)
	}
	if err := c.Play(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Play after Close = %v, want ErrNotReady", err)
	}
}
