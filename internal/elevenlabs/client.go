// Package elevenlabs synthesizes narration and cue sound effects.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	NarratorModel = "eleven_multilingual_v2"
	SoundModel    = "eleven_text_to_sound_v2"
	OutputFormat  = "mp3_44100_128"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("ELEVENLABS_API_KEY is not configured")

// APIError is a non-200 response from the ElevenLabs API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs status %d: %s", e.StatusCode, e.Message)
}

// VoiceSettings tunes narration delivery.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	Speed           float64 `json:"speed"`
}

// NarratorVoice is a slow, steady delivery for hypnotic narration.
var NarratorVoice = VoiceSettings{
	Stability:       0.68,
	SimilarityBoost: 0.75,
	Style:           0.2,
	UseSpeakerBoost: true,
	Speed:           0.9,
}

// Client talks to the ElevenLabs REST API.
type Client struct {
	baseURL    string
	apiKey     string
	voiceID    string
	httpClient *http.Client
}

// NewClient creates an ElevenLabs client narrating with voiceID.
func NewClient(baseURL, apiKey, voiceID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		voiceID:    voiceID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type speechRequest struct {
	Text                   string        `json:"text"`
	ModelID                string        `json:"model_id"`
	ApplyTextNormalization string        `json:"apply_text_normalization"`
	VoiceSettings          VoiceSettings `json:"voice_settings"`
}

// Narrate synthesizes text with the configured voice and returns MP3 bytes.
func (c *Client) Narrate(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("narration text is empty")
	}
	body := speechRequest{
		Text:                   text,
		ModelID:                NarratorModel,
		ApplyTextNormalization: "on",
		VoiceSettings:          NarratorVoice,
	}
	path := "/v1/text-to-speech/" + url.PathEscape(c.voiceID)
	return c.post(ctx, path, body)
}

// SoundParams shapes a sound-effect request.
type SoundParams struct {
	Loop            bool
	DurationSec     float64 // clamped to [0.5, 30]
	PromptInfluence float64 // clamped to [0, 1]
}

// CueSound is the request shape for a timeline cue: looping beds are longer
// and follow the prompt less strictly than one-shots.
func CueSound(loop bool) SoundParams {
	if loop {
		return SoundParams{Loop: true, DurationSec: 12, PromptInfluence: 0.35}
	}
	return SoundParams{DurationSec: 6, PromptInfluence: 0.45}
}

type soundRequest struct {
	Text            string  `json:"text"`
	ModelID         string  `json:"model_id"`
	Loop            bool    `json:"loop"`
	DurationSeconds float64 `json:"duration_seconds"`
	PromptInfluence float64 `json:"prompt_influence"`
}

// SoundEffect synthesizes a cue sound from prompt and returns MP3 bytes.
func (c *Client) SoundEffect(ctx context.Context, prompt string, loop bool) ([]byte, error) {
	return c.Sound(ctx, prompt, CueSound(loop))
}

// Sound synthesizes prompt with explicit parameters.
func (c *Client) Sound(ctx context.Context, prompt string, p SoundParams) ([]byte, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("sound prompt is empty")
	}
	body := soundRequest{
		Text:            prompt,
		ModelID:         SoundModel,
		Loop:            p.Loop,
		DurationSeconds: min(max(p.DurationSec, 0.5), 30),
		PromptInfluence: min(max(p.PromptInfluence, 0), 1),
	}
	return c.post(ctx, "/v1/sound-generation", body)
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	u := c.baseURL + path + "?output_format=" + OutputFormat
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(bodyBytes)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("elevenlabs returned empty audio")
	}
	log.Debug("ElevenLabs synthesis", "path", path, "bytes", len(data), "took", time.Since(start).Round(time.Millisecond))
	return data, nil
}

// errorMessage digs the human message out of an error body, which is either
// {"detail":{"message":...}}, {"detail":"..."} or plain text.
func errorMessage(body []byte) string {
	var parsed struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Detail) > 0 {
		var detail struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(parsed.Detail, &detail) == nil && detail.Message != "" {
			return detail.Message
		}
		var s string
		if json.Unmarshal(parsed.Detail, &s) == nil && s != "" {
			return s
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return "request failed"
}
