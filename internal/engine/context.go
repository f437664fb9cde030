package engine

import (
	"github.com/satindergrewal/lucid/internal/audio"
)

// ContextState is the run state of the mixing context.
type ContextState int

const (
	ContextSuspended ContextState = iota
	ContextRunning
	ContextClosed
)

func (s ContextState) String() string {
	switch s {
	case ContextRunning:
		return "running"
	case ContextClosed:
		return "closed"
	default:
		return "suspended"
	}
}

// Context is the shared mixing clock. Engine time only advances while the
// context is running and frames are being rendered.
//
// A Context is owned by a Controller and is not safe for concurrent use.
type Context struct {
	state  ContextState
	frames int64
}

// NewContext returns a suspended context at time zero.
func NewContext() *Context {
	return &Context{}
}

// State returns the current run state.
func (c *Context) State() ContextState {
	return c.state
}

// CurrentTime is the engine clock in seconds.
func (c *Context) CurrentTime() float64 {
	return float64(c.frames) / audio.SampleRate
}

// Resume starts the clock.
func (c *Context) Resume() error {
	if c.state == ContextClosed {
		return ErrClosed
	}
	c.state = ContextRunning
	return nil
}

// Suspend halts the clock. It is a no-op on a closed context.
func (c *Context) Suspend() {
	if c.state == ContextRunning {
		c.state = ContextSuspended
	}
}

// Close releases the context. It cannot be resumed afterwards.
func (c *Context) Close() {
	c.state = ContextClosed
}

// advance moves the clock forward by n frames if running.
func (c *Context) advance(n int) {
	if c.state == ContextRunning {
		c.frames += int64(n)
	}
}
