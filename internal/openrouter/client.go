// Package openrouter asks a vision-language model to turn an image into a
// narrated, spatially-scored scene.
package openrouter

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/satindergrewal/lucid/internal/scene"
)

//go:embed schema.json
var analysisSchema []byte

const systemPrompt = `You are a Dream Director for Lucid.
Analyze the provided image and produce a hypnotic second-person narrative.
Design a timed dream timeline.
Create between 2 and 5 distinct sound cues with movement over time.
Each cue must define both start and end 3D positions.
Coordinates must be in range -10 to 10 for x, y, z.
Return only valid JSON. Do not include markdown, commentary, or extra keys.`

const userPrompt = `Generate a dream analysis object with this structure:
{
  "narrative": string,
  "timeline": {
    "total_duration_sec": number,
    "cues": [
      {
        "id": string,
        "prompt": string,
        "loop": boolean,
        "volume": number,
        "start_sec": number,
        "end_sec": number,
        "fade_in_sec": number,
        "fade_out_sec": number,
        "position_start": { "x": number, "y": number, "z": number },
        "position_end": { "x": number, "y": number, "z": number }
      }
    ]
  }
}

Requirements:
- narrative: 110-190 words, second-person, hypnotic, sensory.
- timeline.total_duration_sec: 45-120 seconds.
- cues: 2 to 5 items, each distinct and spatially meaningful.
- cue timing must be within total_duration_sec.
- volume: range 0.0 to 1.0.
- fade_in_sec and fade_out_sec: 0.5 to 5 seconds.`

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("OPENROUTER_API_KEY is not configured")
	// ErrBadImage is returned for inputs that are neither http(s) URLs nor
	// data:image URLs.
	ErrBadImage = errors.New("image must be an http(s) URL or a data:image URL")
	// ErrEmptyResponse is returned when the model answers with no text.
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// APIError is a non-200 response from OpenRouter.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openrouter status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the OpenRouter chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates an OpenRouter client using model for analysis.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Stream         bool           `json:"stream"`
	Temperature    float64        `json:"temperature"`
	Messages       []message      `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// AnalyzeScene sends the image to the model and returns the normalized scene.
func (c *Client) AnalyzeScene(ctx context.Context, image string) (scene.Analysis, error) {
	if c.apiKey == "" {
		return scene.Analysis{}, ErrNotConfigured
	}
	image = strings.TrimSpace(image)
	if !validImage(image) {
		return scene.Analysis{}, ErrBadImage
	}

	body := chatRequest{
		Model:       c.model,
		Temperature: 0.8,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: userPrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: image, Detail: "high"}},
			}},
		},
		ResponseFormat: responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchema{
				Name:   "dream_scene_analysis_timeline",
				Strict: true,
				Schema: json.RawMessage(analysisSchema),
			},
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return scene.Analysis{}, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return scene.Analysis{}, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Title", "Lucid")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return scene.Analysis{}, fmt.Errorf("openrouter request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return scene.Analysis{}, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(bodyBytes)}
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return scene.Analysis{}, fmt.Errorf("decode: %w", err)
	}
	if result.Error != nil {
		return scene.Analysis{}, &APIError{StatusCode: resp.StatusCode, Message: result.Error.Message}
	}
	if len(result.Choices) == 0 {
		return scene.Analysis{}, ErrEmptyResponse
	}

	text := contentText(result.Choices[0].Message.Content)
	if text == "" {
		return scene.Analysis{}, ErrEmptyResponse
	}
	raw, err := scene.ExtractJSON(text)
	if err != nil {
		return scene.Analysis{}, err
	}
	analysis, err := scene.ParseAnalysis(raw)
	if err != nil {
		return scene.Analysis{}, fmt.Errorf("invalid analysis: %w", err)
	}

	log.Info("Scene analyzed", "model", c.model, "cues", len(analysis.Timeline.Cues),
		"total", analysis.Timeline.TotalDurationSec, "took", time.Since(start).Round(time.Millisecond))
	return analysis, nil
}

func validImage(s string) bool {
	return strings.HasPrefix(s, "data:image/") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "http://")
}

// contentText flattens message content, which is either a string or a list
// of typed parts, into its text.
func contentText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var parts []contentPart
	if json.Unmarshal(raw, &parts) != nil {
		return ""
	}
	var chunks []string
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			chunks = append(chunks, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(chunks, "\n"))
}

func errorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return "request failed"
}
