package engine

import (
	"context"
	"fmt"

	"github.com/satindergrewal/lucid/internal/audio"
	"github.com/satindergrewal/lucid/internal/scene"
	"github.com/satindergrewal/lucid/internal/spatial"
	"golang.org/x/sync/errgroup"
)

// Decoder turns encoded clip bytes into a playable buffer.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*audio.Clip, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, data []byte) (*audio.Clip, error)

func (f DecoderFunc) Decode(ctx context.Context, data []byte) (*audio.Clip, error) {
	return f(ctx, data)
}

// Assets is everything needed to build a graph: the narration clip and its
// text, one encoded clip per cue (by position, not by id), and the timeline.
type Assets struct {
	Narrative string
	Narration []byte
	Cues      [][]byte
	Timeline  scene.Timeline
}

// Playback is a live cue instance.
type Playback struct {
	Source      *Source
	StartTime   float64 // engine time the source started
	StartOffset float64 // buffer offset it started at, seconds
}

// CueTrack is one cue's path through the graph:
// source -> spatializer -> gain -> cue bus.
type CueTrack struct {
	Cue         scene.Cue
	Clip        *audio.Clip
	Gain        *Gain
	Spatializer *Spatializer
	Active      *Playback
}

// Graph is the live mixing topology for one set of assets.
type Graph struct {
	Timeline  scene.Timeline
	Narration *Narration
	Bus       *Gain
	Tracks    []*CueTrack

	mix, scratch []float32
}

// Build decodes every clip concurrently and wires an unconnected graph.
// Decoding honours ctx; a cancelled build returns ctx.Err().
func Build(ctx context.Context, assets Assets, dec Decoder, opts Options) (*Graph, error) {
	if len(assets.Cues) != len(assets.Timeline.Cues) {
		return nil, fmt.Errorf("got %d cue clips for %d timeline cues", len(assets.Cues), len(assets.Timeline.Cues))
	}

	var narration *audio.Clip
	clips := make([]*audio.Clip, len(assets.Cues))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		clip, err := dec.Decode(gctx, assets.Narration)
		if err != nil {
			return fmt.Errorf("decode narration: %w", err)
		}
		if clip.Frames() == 0 {
			return fmt.Errorf("decode narration: %w", audio.ErrEmptyClip)
		}
		narration = clip
		return nil
	})
	for i, data := range assets.Cues {
		i, data := i, data // per-iteration copy for go 1.21 loop semantics
		g.Go(func() error {
			clip, err := dec.Decode(gctx, data)
			if err != nil {
				return fmt.Errorf("decode cue %q: %w", assets.Timeline.Cues[i].ID, err)
			}
			if clip.Frames() == 0 {
				return fmt.Errorf("decode cue %q: %w", assets.Timeline.Cues[i].ID, audio.ErrEmptyClip)
			}
			clips[i] = clip
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	graph := &Graph{
		Timeline:  assets.Timeline,
		Narration: newNarration(narration, assets.Narrative, opts.NarratorGain),
		Bus:       newGain(1),
		Tracks:    make([]*CueTrack, len(clips)),
		mix:       make([]float32, audio.FrameSamples),
		scratch:   make([]float32, audio.FrameSamples),
	}
	for i, clip := range clips {
		cue := assets.Timeline.Cues[i]
		graph.Tracks[i] = &CueTrack{
			Cue:         cue,
			Clip:        clip,
			Gain:        newGain(0),
			Spatializer: newSpatializer(opts.Panner, spatial.ToListener(cue.PositionStart)),
		}
	}
	return graph, nil
}

// Connect wires every node into the output.
func (g *Graph) Connect() {
	g.Narration.connected = true
	g.Narration.gain.connected = true
	g.Bus.connected = true
	for _, t := range g.Tracks {
		t.Spatializer.connected = true
		t.Gain.connected = true
	}
}

// Connected reports whether the graph has been wired into the output.
func (g *Graph) Connected() bool {
	return g.Bus.connected
}

// Teardown stops every instance, disconnects all nodes and disposes the
// narration.
func (g *Graph) Teardown() {
	g.StopAll()
	for _, t := range g.Tracks {
		t.Spatializer.connected = false
		t.Gain.connected = false
	}
	g.Bus.connected = false
	g.Narration.Dispose()
}

// StopAll stops every active cue instance.
func (g *Graph) StopAll() {
	for _, t := range g.Tracks {
		t.stop()
	}
}

func (t *CueTrack) stop() {
	if t.Active != nil {
		t.Active.Source.Stop()
		t.Active = nil
	}
}

// render mixes one frame at engine time now into out.
func (g *Graph) render(now float64, out []float32) {
	g.Narration.read(out)

	clear(g.mix)
	for _, t := range g.Tracks {
		if t.Active == nil {
			t.Gain.settle()
			t.Spatializer.settle()
			continue
		}
		t.Active.Source.read(g.scratch, now)
		t.Spatializer.process(g.scratch)
		t.Gain.process(g.scratch)
		audio.Mix(g.mix, g.scratch)
	}
	g.Bus.process(g.mix)
	audio.Mix(out, g.mix)
}
