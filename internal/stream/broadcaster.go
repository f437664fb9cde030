package stream

import (
	"context"
	"sync"
	"time"

	"github.com/satindergrewal/lucid/internal/audio"
)

// defaultIdleFill is how long the source may be quiet before silence is sent.
const defaultIdleFill = 5 * audio.FrameDuration

// Broadcaster fans out PCM frames from one source to N listeners. The engine
// only renders while a scene is playing, so when the source goes quiet the
// broadcaster fills with silence to keep encoders and peers alive.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	idleFill  time.Duration
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C    chan []int16 // buffered channel of 20ms PCM frames
	done chan struct{}
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
		idleFill:  defaultIdleFill,
	}
}

// SetIdleFill sets how long the source may be quiet before silence frames
// are sent. Zero disables filling. Must be called before Run.
func (b *Broadcaster) SetIdleFill(d time.Duration) {
	b.idleFill = d
}

// Subscribe registers a new listener. Returns a Listener that receives frames.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, 150), // ~3 seconds of buffer at 20ms/frame
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	close(l.done)
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than blocking the broadcast.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	var idle <-chan time.Time
	if b.idleFill > 0 {
		ticker := time.NewTicker(audio.FrameDuration)
		defer ticker.Stop()
		idle = ticker.C
	}
	silence := make([]int16, audio.FrameSamples)
	lastFrame := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			lastFrame = time.Now()
			b.publish(frame)
		case now := <-idle:
			if now.Sub(lastFrame) >= b.idleFill {
				b.publish(silence)
			}
		}
	}
}

func (b *Broadcaster) publish(frame []int16) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			// listener too slow, drop frame to keep broadcast moving
		}
	}
}
