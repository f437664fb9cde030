package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/satindergrewal/lucid/internal/audio"
	"github.com/satindergrewal/lucid/internal/config"
	"github.com/satindergrewal/lucid/internal/control"
	"github.com/satindergrewal/lucid/internal/elevenlabs"
	"github.com/satindergrewal/lucid/internal/engine"
	"github.com/satindergrewal/lucid/internal/openrouter"
	"github.com/satindergrewal/lucid/internal/prepare"
	"github.com/satindergrewal/lucid/internal/stream"
)

func main() {
	interactive := flag.Bool("interactive", false, "prompt for an image to dream from on startup")
	image := flag.String("image", "", "image URL to load on startup")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, using system environment variables")
	}
	cfg := config.Load()

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("lucid starting up...")

	// Playback engine, paced in real time by the pipeline
	ctrl := engine.NewController(engine.Options{
		GraceSec:          cfg.GraceSec,
		DriftThresholdSec: cfg.DriftThresholdSec,
		MaxGain:           cfg.MaxGain,
		NarratorGain:      cfg.NarratorGain,
	})
	defer ctrl.Close()

	pipeline := audio.NewPipeline()
	ctrl.SetWakeFunc(pipeline.Wake)
	go pipeline.Run(ctx, ctrl)

	// Broadcaster: fan-out PCM frames to all listeners
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, pipeline.Frames())

	// Upstream collaborators
	if cfg.OpenRouterAPIKey == "" || cfg.ElevenLabsAPIKey == "" {
		log.Warn("OPENROUTER_API_KEY or ELEVENLABS_API_KEY not set; scene loading will fail")
	}
	analyzer := openrouter.NewClient(cfg.OpenRouterAPIURL, cfg.OpenRouterAPIKey, cfg.OpenRouterModel, cfg.RequestTimeout)
	synth := elevenlabs.NewClient(cfg.ElevenLabsAPIURL, cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.RequestTimeout)
	dir := newDirector(analyzer, prepare.New(synth), ctrl)

	// OSC remote control (optional)
	if cfg.OSCAddr != "" {
		oscServer, err := control.NewOSCServer(cfg.OSCAddr, ctrl)
		if err != nil {
			log.Fatalf("OSC setup: %v", err)
		}
		go func() {
			if err := oscServer.ListenAndServe(ctx); err != nil {
				log.Errorf("OSC server error: %v", err)
			}
		}()
	} else {
		log.Info("OSC control disabled (set LUCID_OSC_ADDR to enable)")
	}

	webrtcHandler := stream.NewWebRTCHandler(broadcaster, cfg.OpusBitrate)

	mux := http.NewServeMux()
	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, cfg.MP3Bitrate))
	mux.Handle("/offer", webrtcHandler)
	(&api{
		ctrl:     ctrl,
		director: dir,
		pipeline: pipeline,
		listeners: func() map[string]int {
			return map[string]int{
				"http":   broadcaster.ListenerCount(),
				"webrtc": webrtcHandler.PeerCount(),
			}
		},
	}).register(mux)

	startImage, autoplay := *image, true
	if *interactive {
		startImage, autoplay, err = promptScene()
		if err != nil {
			log.Fatal(err)
		}
	}
	if startImage != "" {
		go func() {
			if _, err := dir.Load(ctx, startImage, autoplay); err != nil {
				log.Errorf("Startup scene failed: %v", err)
			}
		}()
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down...")
		dir.Cancel()
		server.Close()
	}()

	log.Infof("lucid live on %s (stream: /stream, webrtc: /offer)", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}
