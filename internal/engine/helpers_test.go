package engine

import (
	"context"
	"strconv"
	"testing"

	"github.com/satindergrewal/lucid/internal/audio"
	"github.com/satindergrewal/lucid/internal/scene"
)

// secondsDecoder decodes the ASCII seconds in data into a constant-level clip
// of that length. Anything unparsable is a decode failure.
func secondsDecoder(_ context.Context, data []byte) (*audio.Clip, error) {
	sec, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return nil, err
	}
	samples := make([]float32, int(sec*audio.SampleRate)*audio.Channels)
	for i := range samples {
		samples[i] = 0.25
	}
	return audio.NewClip(samples), nil
}

func secs(v float64) []byte {
	return []byte(strconv.FormatFloat(v, 'f', -1, 64))
}

func loopCue(id string, start, end float64) scene.Cue {
	return scene.Cue{ID: id, Loop: true, Volume: 0.8, StartSec: start, EndSec: end}
}

func oneShotCue(id string, start, end float64) scene.Cue {
	return scene.Cue{ID: id, Volume: 0.8, StartSec: start, EndSec: end}
}

// testAssets gives every cue a clip of clipSec seconds.
func testAssets(narrative string, narrationSec, clipSec float64, tl scene.Timeline) Assets {
	cues := make([][]byte, len(tl.Cues))
	for i := range cues {
		cues[i] = secs(clipSec)
	}
	return Assets{Narrative: narrative, Narration: secs(narrationSec), Cues: cues, Timeline: tl}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Decoder = DecoderFunc(secondsDecoder)
	return opts
}

func buildGraph(t *testing.T, assets Assets) *Graph {
	t.Helper()
	g, err := Build(context.Background(), assets, DecoderFunc(secondsDecoder), testOptions())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	g.Connect()
	return g
}

func newTestController(t *testing.T, assets Assets) *Controller {
	t.Helper()
	c := NewController(testOptions())
	t.Cleanup(c.Close)
	if err := c.Setup(context.Background(), assets); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return c
}
