// Package prepare fetches every clip a scene needs before playback.
package prepare

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/satindergrewal/lucid/internal/engine"
	"github.com/satindergrewal/lucid/internal/scene"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidTimeline is returned for an analysis with too few cues to play.
	ErrInvalidTimeline = errors.New("dream timeline is missing or invalid")
	// ErrEmptyAudio is returned when synthesis succeeds with no bytes.
	ErrEmptyAudio = errors.New("synthesized audio is empty")
)

// Synthesizer produces encoded audio for narration and cues.
type Synthesizer interface {
	Narrate(ctx context.Context, text string) ([]byte, error)
	SoundEffect(ctx context.Context, prompt string, loop bool) ([]byte, error)
}

// Session identifies one Prepare call.
type Session struct {
	ID         string
	Generation uint64
	StartedAt  time.Time
}

// Preparer runs at most one preparation at a time. Starting a new one
// aborts the fetches of the previous.
type Preparer struct {
	synth Synthesizer

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	current    *Session
}

// New creates a Preparer fetching from synth.
func New(synth Synthesizer) *Preparer {
	return &Preparer{synth: synth}
}

// Prepare fetches narration and every cue clip concurrently. Clips are
// returned in timeline order. A call superseded by a later Prepare or Cancel
// returns engine.ErrStale.
func (p *Preparer) Prepare(ctx context.Context, analysis scene.Analysis) (engine.Assets, error) {
	sess, sctx := p.start(ctx)
	defer p.finish(sess)

	tl := analysis.Timeline
	if len(tl.Cues) < scene.MinCues {
		return engine.Assets{}, ErrInvalidTimeline
	}

	log.Info("Preparing scene audio", "session", sess.ID, "cues", len(tl.Cues))

	var narration []byte
	clips := make([][]byte, len(tl.Cues))

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		data, err := p.synth.Narrate(gctx, analysis.Narrative)
		if err != nil {
			return fmt.Errorf("narration: %w", err)
		}
		if len(data) == 0 {
			return fmt.Errorf("narration: %w", ErrEmptyAudio)
		}
		narration = data
		return nil
	})
	for i, cue := range tl.Cues {
		i, cue := i, cue // per-iteration copy for go 1.21 loop semantics
		g.Go(func() error {
			data, err := p.synth.SoundEffect(gctx, cue.Prompt, cue.Loop)
			if err != nil {
				return fmt.Errorf("cue %q: %w", cue.ID, err)
			}
			if len(data) == 0 {
				return fmt.Errorf("cue %q: %w", cue.ID, ErrEmptyAudio)
			}
			clips[i] = data
			return nil
		})
	}
	err := g.Wait()

	if p.stale(sess, sctx) {
		log.Debug("Discarded stale preparation", "session", sess.ID)
		return engine.Assets{}, engine.ErrStale
	}
	if err != nil {
		log.Error("Scene audio failed", "session", sess.ID, "err", err)
		return engine.Assets{}, err
	}
	log.Info("Scene audio ready", "session", sess.ID, "took", time.Since(sess.StartedAt).Round(time.Millisecond))
	return engine.Assets{
		Narrative: analysis.Narrative,
		Narration: narration,
		Cues:      clips,
		Timeline:  tl,
	}, nil
}

// Cancel aborts any preparation in flight.
func (p *Preparer) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.current = nil
}

// Current returns the session in flight, or nil.
func (p *Preparer) Current() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	s := *p.current
	return &s
}

func (p *Preparer) start(ctx context.Context) (*Session, context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	if p.cancel != nil {
		p.cancel()
	}
	sctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.current = &Session{ID: uuid.NewString(), Generation: p.generation, StartedAt: time.Now()}
	return p.current, sctx
}

func (p *Preparer) stale(sess *Session, sctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation != sess.Generation || sctx.Err() != nil
}

// finish releases the session's context if it is still the current one.
func (p *Preparer) finish(sess *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation == sess.Generation {
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.current = nil
	}
}
