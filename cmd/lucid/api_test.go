package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/lucid/internal/audio"
	"github.com/satindergrewal/lucid/internal/engine"
	"github.com/satindergrewal/lucid/internal/scene"
)

type fakeAnalyzer struct {
	entered chan string
	block   string // images that wait for cancellation
	fail    string
}

func (f *fakeAnalyzer) AnalyzeScene(ctx context.Context, image string) (scene.Analysis, error) {
	if f.entered != nil {
		f.entered <- image
	}
	switch image {
	case f.block:
		<-ctx.Done()
		return scene.Analysis{}, ctx.Err()
	case f.fail:
		return scene.Analysis{}, errors.New("model unavailable")
	}
	return scene.Analysis{
		Narrative: "Rain on a tin roof.",
		Timeline: scene.Timeline{
			TotalDurationSec: 20,
			Cues: []scene.Cue{
				{ID: "rain", Loop: true, Volume: 0.7, StartSec: 0, EndSec: 20},
			},
		},
	}, nil
}

type fakePreparer struct {
	mu      sync.Mutex
	cancels int
}

func (f *fakePreparer) Cancel() {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
}

func (f *fakePreparer) Cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

func (*fakePreparer) Prepare(_ context.Context, a scene.Analysis) (engine.Assets, error) {
	cues := make([][]byte, len(a.Timeline.Cues))
	for i := range cues {
		cues[i] = []byte("cue")
	}
	return engine.Assets{Narrative: a.Narrative, Narration: []byte("narration"), Cues: cues, Timeline: a.Timeline}, nil
}

// oneSecond decodes anything into a second of quiet audio.
func oneSecond(context.Context, []byte) (*audio.Clip, error) {
	samples := make([]float32, audio.SampleRate*audio.Channels)
	for i := range samples {
		samples[i] = 0.1
	}
	return audio.NewClip(samples), nil
}

func newTestAPI(t *testing.T, an *fakeAnalyzer) (*api, http.Handler) {
	t.Helper()
	ctrl := engine.NewController(engine.Options{Decoder: engine.DecoderFunc(oneSecond)})
	t.Cleanup(ctrl.Close)
	a := &api{
		ctrl:      ctrl,
		director:  newDirector(an, &fakePreparer{}, ctrl),
		listeners: func() map[string]int { return map[string]int{"http": 2, "webrtc": 1} },
	}
	mux := http.NewServeMux()
	a.register(mux)
	return a, mux
}

type statusBody struct {
	Engine    engine.Status  `json:"engine"`
	LoadStage string         `json:"load_stage"`
	LoadError string         `json:"load_error"`
	Listeners map[string]int `json:"listeners"`
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) statusBody {
	t.Helper()
	var s statusBody
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return s
}

func TestControlRoutesRequirePost(t *testing.T) {
	_, h := newTestAPI(t, &fakeAnalyzer{})
	for _, path := range []string{"/api/scene", "/api/scene/cancel", "/api/play", "/api/pause", "/api/stop", "/api/seek", "/api/volume"} {
		if rec := do(t, h, http.MethodGet, path, ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s = %d, want 405", path, rec.Code)
		}
	}
}

func TestPlayWithoutScene(t *testing.T) {
	_, h := newTestAPI(t, &fakeAnalyzer{})

	rec := do(t, h, http.MethodPost, "/api/play", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", rec.Code)
	}

	s := decodeStatus(t, do(t, h, http.MethodGet, "/api/status", ""))
	if s.Engine.State != "idle" {
		t.Errorf("state = %q, want idle", s.Engine.State)
	}
	if s.Engine.Error == "" {
		t.Error("expected a not-ready error in status")
	}
	if s.Listeners["http"] != 2 || s.Listeners["webrtc"] != 1 {
		t.Errorf("listeners = %v", s.Listeners)
	}
}

func TestSceneLoadsAndAutoplays(t *testing.T) {
	a, h := newTestAPI(t, &fakeAnalyzer{})

	rec := do(t, h, http.MethodPost, "/api/scene", `{"image_url":"https://example.com/rain.jpg"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body)
	}
	if got := a.ctrl.State(); got != engine.StatePlaying {
		t.Errorf("state = %v, want playing", got)
	}

	s := decodeStatus(t, do(t, h, http.MethodGet, "/api/status", ""))
	if s.LoadStage != "ready" {
		t.Errorf("load_stage = %q, want ready", s.LoadStage)
	}
	if s.Engine.Narrative != "Rain on a tin roof." {
		t.Errorf("narrative = %q", s.Engine.Narrative)
	}
	if len(s.Engine.Cues) != 1 || s.Engine.Cues[0].ID != "rain" {
		t.Errorf("cues = %+v", s.Engine.Cues)
	}
}

func TestSceneWithoutAutoplay(t *testing.T) {
	a, h := newTestAPI(t, &fakeAnalyzer{})

	rec := do(t, h, http.MethodPost, "/api/scene", `{"image_url":"https://example.com/rain.jpg","autoplay":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if got := a.ctrl.State(); got != engine.StateReady {
		t.Errorf("state = %v, want ready", got)
	}
}

func TestSceneErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		code  int
		stage string
	}{
		{"missing image", `{}`, http.StatusBadRequest, "idle"},
		{"bad json", `{`, http.StatusBadRequest, "idle"},
		{"analysis fails", `{"image_url":"https://example.com/broken.jpg"}`, http.StatusBadGateway, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := newTestAPI(t, &fakeAnalyzer{fail: "https://example.com/broken.jpg"})
			if rec := do(t, h, http.MethodPost, "/api/scene", tt.body); rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			s := decodeStatus(t, do(t, h, http.MethodGet, "/api/status", ""))
			if s.LoadStage != tt.stage {
				t.Errorf("load_stage = %q, want %q", s.LoadStage, tt.stage)
			}
			if (tt.stage == "failed") != (s.LoadError != "") {
				t.Errorf("load_error = %q", s.LoadError)
			}
		})
	}
}

func TestSupersededLoadIsQuiet(t *testing.T) {
	an := &fakeAnalyzer{entered: make(chan string, 2), block: "https://example.com/slow.jpg"}
	a, _ := newTestAPI(t, an)

	errc := make(chan error, 1)
	go func() {
		_, err := a.director.Load(context.Background(), "https://example.com/slow.jpg", true)
		errc <- err
	}()
	<-an.entered

	if _, err := a.director.Load(context.Background(), "https://example.com/rain.jpg", false); err != nil {
		t.Fatalf("second load: %v", err)
	}
	<-an.entered

	select {
	case err := <-errc:
		if !errors.Is(err, engine.ErrStale) {
			t.Errorf("first load err = %v, want ErrStale", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first load never returned")
	}

	stage, analysis, lastErr := a.director.State()
	if stage != "ready" || analysis == nil || lastErr != "" {
		t.Errorf("state = %q %v %q, want ready with analysis and no error", stage, analysis, lastErr)
	}
	if got := a.ctrl.State(); got != engine.StateReady {
		t.Errorf("engine state = %v, want ready", got)
	}
}

func TestCancelSceneLoad(t *testing.T) {
	an := &fakeAnalyzer{entered: make(chan string, 1), block: "https://example.com/slow.jpg"}
	a, h := newTestAPI(t, an)

	errc := make(chan error, 1)
	go func() {
		_, err := a.director.Load(context.Background(), "https://example.com/slow.jpg", true)
		errc <- err
	}()
	<-an.entered

	if rec := do(t, h, http.MethodPost, "/api/scene/cancel", ""); rec.Code != http.StatusOK {
		t.Fatalf("cancel code = %d", rec.Code)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, engine.ErrStale) {
			t.Errorf("Load err = %v, want ErrStale", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled load never returned")
	}

	s := decodeStatus(t, do(t, h, http.MethodGet, "/api/status", ""))
	if s.LoadStage != "cancelled" || s.LoadError != "" {
		t.Errorf("load_stage = %q, load_error = %q, want cancelled and no error", s.LoadStage, s.LoadError)
	}
	if got := a.director.preparer.(*fakePreparer).Cancels(); got != 1 {
		t.Errorf("preparer cancels = %d, want 1", got)
	}
	if a.director.Cancel() {
		t.Error("Cancel with nothing in flight reported a load")
	}
}

func TestLoadReleasesContext(t *testing.T) {
	tests := []struct {
		name  string
		image string
	}{
		{"success", "https://example.com/rain.jpg"},
		{"failure", "https://example.com/broken.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAPI(t, &fakeAnalyzer{fail: "https://example.com/broken.jpg"})
			a.director.Load(context.Background(), tt.image, false)

			a.director.mu.Lock()
			held := a.director.cancel != nil
			a.director.mu.Unlock()
			if held {
				t.Error("load context still held after Load returned")
			}
		})
	}
}

func TestSeekAndVolume(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"seek", "/api/seek", `{"seconds":5}`, http.StatusOK},
		{"seek missing", "/api/seek", `{}`, http.StatusBadRequest},
		{"master", "/api/volume", `{"master":0.5}`, http.StatusOK},
		{"cue", "/api/volume", `{"cue_id":"rain","volume":2}`, http.StatusOK},
		{"cue without volume", "/api/volume", `{"cue_id":"rain"}`, http.StatusBadRequest},
		{"nothing", "/api/volume", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, h := newTestAPI(t, &fakeAnalyzer{})
			if _, err := a.director.Load(context.Background(), "https://example.com/rain.jpg", false); err != nil {
				t.Fatalf("load: %v", err)
			}
			if rec := do(t, h, http.MethodPost, tt.path, tt.body); rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
		})
	}

	a, h := newTestAPI(t, &fakeAnalyzer{})
	if _, err := a.director.Load(context.Background(), "https://example.com/rain.jpg", false); err != nil {
		t.Fatalf("load: %v", err)
	}
	do(t, h, http.MethodPost, "/api/seek", `{"seconds":500}`)
	do(t, h, http.MethodPost, "/api/volume", `{"master":0.5,"cue_id":"rain","volume":2}`)
	s := decodeStatus(t, do(t, h, http.MethodGet, "/api/status", ""))
	if s.Engine.CurrentTimeSeconds != s.Engine.DurationSeconds {
		t.Errorf("seek past end: current %v, duration %v", s.Engine.CurrentTimeSeconds, s.Engine.DurationSeconds)
	}
	if s.Engine.MasterVolume != 0.5 {
		t.Errorf("master = %v, want 0.5", s.Engine.MasterVolume)
	}
	if len(s.Engine.Cues) != 1 || s.Engine.Cues[0].Volume != 2 {
		t.Errorf("cues = %+v", s.Engine.Cues)
	}
}

func TestValidateImage(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"https://example.com/a.jpg", true},
		{"  http://example.com/a.jpg ", true},
		{"data:image/png;base64,AAAA", true},
		{"", false},
		{"ftp://example.com/a.jpg", false},
		{"data:text/plain,hi", false},
	}
	for _, tt := range tests {
		if err := validateImage(tt.in); (err == nil) != tt.ok {
			t.Errorf("validateImage(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
		}
	}
}
