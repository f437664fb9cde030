package main

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/satindergrewal/lucid/internal/audio"
	"github.com/satindergrewal/lucid/internal/engine"
)

// api serves the JSON control surface.
type api struct {
	ctrl      *engine.Controller
	director  *director
	pipeline  *audio.Pipeline
	listeners func() map[string]int
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("/api/scene", postOnly(a.handleScene))
	mux.HandleFunc("/api/scene/cancel", postOnly(func(w http.ResponseWriter, r *http.Request) {
		a.director.Cancel()
		a.writeStatus(w, http.StatusOK)
	}))
	mux.HandleFunc("/api/play", postOnly(a.handlePlay))
	mux.HandleFunc("/api/pause", postOnly(func(w http.ResponseWriter, r *http.Request) {
		a.ctrl.Pause()
		a.writeStatus(w, http.StatusOK)
	}))
	mux.HandleFunc("/api/stop", postOnly(func(w http.ResponseWriter, r *http.Request) {
		a.ctrl.Stop()
		a.writeStatus(w, http.StatusOK)
	}))
	mux.HandleFunc("/api/seek", postOnly(a.handleSeek))
	mux.HandleFunc("/api/volume", postOnly(a.handleVolume))
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		a.writeStatus(w, http.StatusOK)
	})
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (a *api) writeStatus(w http.ResponseWriter, code int) {
	status := a.ctrl.Status()
	stage, analysis, loadErr := a.director.State()
	body := map[string]any{
		"engine":     status,
		"load_stage": stage,
	}
	if loadErr != "" {
		body["load_error"] = loadErr
	}
	if analysis != nil {
		body["timeline"] = analysis.Timeline
	}
	if a.listeners != nil {
		body["listeners"] = a.listeners()
	}
	if a.pipeline != nil {
		running, rendered := a.pipeline.Status()
		body["output"] = map[string]any{
			"running":          running,
			"rendered_seconds": rendered.Seconds(),
		}
	}
	writeJSON(w, code, body)
}

func (a *api) handleScene(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageURL string `json:"image_url"`
		Autoplay *bool  `json:"autoplay"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ImageURL == "" {
		http.Error(w, "image_url required", http.StatusBadRequest)
		return
	}
	autoplay := req.Autoplay == nil || *req.Autoplay

	analysis, err := a.director.Load(r.Context(), req.ImageURL, autoplay)
	switch {
	case errors.Is(err, engine.ErrStale):
		writeJSON(w, http.StatusConflict, map[string]any{"superseded": true})
	case err != nil:
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"narrative": analysis.Narrative,
			"timeline":  analysis.Timeline,
			"engine":    a.ctrl.Status(),
		})
	}
}

func (a *api) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.Play(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	a.writeStatus(w, http.StatusOK)
}

func (a *api) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds *float64 `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Seconds == nil {
		http.Error(w, "seconds required", http.StatusBadRequest)
		return
	}
	a.ctrl.Seek(*req.Seconds)
	a.writeStatus(w, http.StatusOK)
}

func (a *api) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Master *float64 `json:"master"`
		CueID  string   `json:"cue_id"`
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Master == nil && req.CueID == "" {
		http.Error(w, "master or cue_id required", http.StatusBadRequest)
		return
	}
	if req.Master != nil {
		if math.IsNaN(*req.Master) {
			http.Error(w, "master must be a number", http.StatusBadRequest)
			return
		}
		a.ctrl.SetMasterVolume(*req.Master)
	}
	if req.CueID != "" {
		if req.Volume == nil {
			http.Error(w, "volume required with cue_id", http.StatusBadRequest)
			return
		}
		a.ctrl.SetCueVolume(req.CueID, *req.Volume)
	}
	a.writeStatus(w, http.StatusOK)
}
