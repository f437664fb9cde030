package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/satindergrewal/lucid/internal/engine"
	"github.com/satindergrewal/lucid/internal/scene"
)

type sceneAnalyzer interface {
	AnalyzeScene(ctx context.Context, image string) (scene.Analysis, error)
}

type assetPreparer interface {
	Prepare(ctx context.Context, analysis scene.Analysis) (engine.Assets, error)
	Cancel()
}

// director turns an image into a playing scene: analysis, synthesis, then
// graph setup. Only the most recent Load is allowed to install its scene.
type director struct {
	analyzer sceneAnalyzer
	preparer assetPreparer
	ctrl     *engine.Controller

	mu       sync.Mutex
	loads    uint64
	cancel   context.CancelFunc
	stage    string
	analysis *scene.Analysis
	lastErr  string
}

func newDirector(a sceneAnalyzer, p assetPreparer, ctrl *engine.Controller) *director {
	return &director{analyzer: a, preparer: p, ctrl: ctrl, stage: "idle"}
}

// Load analyzes image, synthesizes its audio and installs it. A Load
// superseded by a newer one returns engine.ErrStale.
func (d *director) Load(ctx context.Context, image string, autoplay bool) (scene.Analysis, error) {
	ctx, id := d.begin(ctx)
	defer d.end(id)

	d.setStage(id, "analyzing")
	analysis, err := d.analyzer.AnalyzeScene(ctx, image)
	if err != nil {
		return scene.Analysis{}, d.fail(id, ctx, fmt.Errorf("analyze scene: %w", err))
	}

	d.setStage(id, "synthesizing")
	assets, err := d.preparer.Prepare(ctx, analysis)
	if err != nil {
		return scene.Analysis{}, d.fail(id, ctx, fmt.Errorf("generate audio: %w", err))
	}

	d.setStage(id, "decoding")
	if err := d.ctrl.Setup(ctx, assets); err != nil {
		return scene.Analysis{}, d.fail(id, ctx, err)
	}

	d.mu.Lock()
	current := id == d.loads
	if current {
		d.stage = "ready"
		d.analysis = &analysis
		d.lastErr = ""
	}
	d.mu.Unlock()

	if autoplay && current {
		if err := d.ctrl.Play(); err != nil {
			log.Warnf("Autoplay failed: %v", err)
		}
	}
	return analysis, nil
}

func (d *director) begin(ctx context.Context) (context.Context, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.loads++
	ctx, d.cancel = context.WithCancel(ctx)
	return ctx, d.loads
}

// end releases the load's context once it is no longer needed.
func (d *director) end(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id == d.loads && d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// Cancel aborts the load in flight, if any. It reports whether one was.
func (d *director) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return false
	}
	d.cancel()
	d.cancel = nil
	d.loads++
	d.preparer.Cancel()
	d.stage = "cancelled"
	log.Info("Scene load cancelled")
	return true
}

func (d *director) setStage(id uint64, stage string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id == d.loads {
		d.stage = stage
		log.Debug("Scene load", "load", id, "stage", stage)
	}
}

// fail records err unless the load was superseded, in which case the error
// is swallowed and ErrStale returned.
func (d *director) fail(id uint64, ctx context.Context, err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id != d.loads || ctx.Err() != nil || errors.Is(err, engine.ErrStale) {
		return engine.ErrStale
	}
	d.stage = "failed"
	d.lastErr = err.Error()
	log.Error("Scene load failed", "load", id, "err", err)
	return err
}

// State reports the current load stage, the installed analysis and the last
// load failure.
func (d *director) State() (stage string, analysis *scene.Analysis, lastErr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stage, d.analysis, d.lastErr
}
