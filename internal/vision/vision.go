// Package vision analyzes capture images through an OpenAI-compatible
// chat-completions vision endpoint.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultPrompt = "Describe the subject of this capture in detail. " +
	"The second image is a letterboxed copy of the first, provided for consistent framing."

// Config configures the vision analysis endpoint and HTTP behavior.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Prompt     string
	HTTPClient *http.Client
}

// Client calls the chat-completions vision endpoint.
type Client struct {
	cfg Config
}

// Analysis is the result of analyzing one capture image.
type Analysis struct {
	Model       string `json:"model"`
	Description string `json:"description"`
	AnalyzedAt  string `json:"analyzed_at"`
}

// NewClient builds a vision client, applying endpoint defaults.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o"
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = defaultPrompt
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{cfg: cfg}, nil
}

// Analyze sends the capture image and a letterboxed copy to the vision
// endpoint and returns the text result. The caller decides persistence.
func (c *Client) Analyze(ctx context.Context, imagePath string) (Analysis, error) {
	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return Analysis{}, fmt.Errorf("read image: %w", err)
	}

	decoded, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Analysis{}, fmt.Errorf("decode image: %w", err)
	}

	var letterboxed bytes.Buffer
	if err := jpeg.Encode(&letterboxed, Letterbox(decoded), nil); err != nil {
		return Analysis{}, fmt.Errorf("encode letterboxed image: %w", err)
	}

	requestBody, err := json.Marshal(map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": c.cfg.Prompt},
					{"type": "image_url", "image_url": map[string]any{
						"url": dataURL(format, raw),
					}},
					{"type": "image_url", "image_url": map[string]any{
						"url": dataURL("jpeg", letterboxed.Bytes()),
					}},
				},
			},
		},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return Analysis{}, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Credential material is sent only as an Authorization header and is never
	// echoed in errors or response payloads.
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return Analysis{}, fmt.Errorf("analyze request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
		if err != nil {
			return Analysis{}, fmt.Errorf("read analyze error body: %w", err)
		}
		return Analysis{}, fmt.Errorf("analyze request status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return Analysis{}, fmt.Errorf("decode analyze response: %w", err)
	}

	description := ""
	for _, choice := range payload.Choices {
		if strings.TrimSpace(choice.Message.Content) != "" {
			description = strings.TrimSpace(choice.Message.Content)
			break
		}
	}
	if description == "" {
		return Analysis{}, fmt.Errorf("analyze response missing content")
	}

	return Analysis{
		Model:       c.cfg.Model,
		Description: description,
		AnalyzedAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func dataURL(format string, payload []byte) string {
	mime := "image/png"
	if format == "jpeg" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(payload)
}
