package audio

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Renderer produces mixed PCM one frame at a time.
type Renderer interface {
	// RenderFrame fills dst (FrameSamples interleaved samples) with the next
	// frame. It returns false when playback is not running; dst is then
	// left untouched.
	RenderFrame(dst []int16) bool
}

// Pipeline paces a Renderer at real-time rate and outputs its PCM frames.
// It only ticks while the renderer is producing audio; once RenderFrame
// reports false it idles until Wake is called.
type Pipeline struct {
	frameCh chan []int16
	wakeCh  chan struct{}

	mu       sync.RWMutex
	running  bool
	rendered time.Duration
}

// NewPipeline creates an idle pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		frameCh: make(chan []int16, 100),
		wakeCh:  make(chan struct{}, 1),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// Wake resumes ticking after the renderer has gone idle.
func (p *Pipeline) Wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// Status reports whether the pipeline is ticking and how much audio it has
// sent in total.
func (p *Pipeline) Status() (running bool, rendered time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running, p.rendered
}

// Run drives r until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, r Renderer) {
	defer close(p.frameCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wakeCh:
		}

		p.setRunning(true)
		log.Debug("Pipeline ticking")
		ok := p.tick(ctx, r)
		p.setRunning(false)
		if !ok {
			return
		}
		log.Debug("Pipeline idle")
	}
}

// tick renders frames until the renderer stops. Returns false on cancel.
func (p *Pipeline) tick(ctx context.Context, r Renderer) bool {
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		frame := make([]int16, FrameSamples)
		if !r.RenderFrame(frame) {
			return true
		}

		select {
		case p.frameCh <- frame:
			p.mu.Lock()
			p.rendered += FrameDuration
			p.mu.Unlock()
		case <-ctx.Done():
			return false
		}
	}
}

func (p *Pipeline) setRunning(v bool) {
	p.mu.Lock()
	p.running = v
	p.mu.Unlock()
}
