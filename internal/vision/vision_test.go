package vision

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestImage(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "capture_20260314_092653.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create image file: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return path
}

type analyzeRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL struct {
				URL string `json:"url"`
			} `json:"image_url"`
		} `json:"content"`
	} `json:"messages"`
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestAnalyzeSendsRawAndLetterboxedImages(t *testing.T) {
	var got analyzeRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			t.Errorf("request = %s %s, want POST /chat/completions", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"a red test pattern"}}]}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	analysis, err := client.Analyze(context.Background(), writeTestImage(t))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.Description != "a red test pattern" {
		t.Fatalf("description = %q, want model output", analysis.Description)
	}
	if analysis.Model != "gpt-4o" {
		t.Fatalf("model = %q, want gpt-4o", analysis.Model)
	}
	if auth != "Bearer test-key" {
		t.Fatalf("authorization = %q, want bearer key", auth)
	}

	if got.Model != "gpt-4o" {
		t.Fatalf("request model = %q, want gpt-4o", got.Model)
	}
	if len(got.Messages) != 1 || len(got.Messages[0].Content) != 3 {
		t.Fatalf("request shape = %+v, want one message with three content parts", got.Messages)
	}
	if got.Messages[0].Content[0].Type != "text" || got.Messages[0].Content[0].Text == "" {
		t.Fatal("expected leading text prompt")
	}
	if !strings.HasPrefix(got.Messages[0].Content[1].ImageURL.URL, "data:image/png;base64,") {
		t.Fatalf("raw image url = %.40q, want png data url", got.Messages[0].Content[1].ImageURL.URL)
	}
	if !strings.HasPrefix(got.Messages[0].Content[2].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Fatalf("letterboxed image url = %.40q, want jpeg data url", got.Messages[0].Content[2].ImageURL.URL)
	}
}

func TestAnalyzePropagatesEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Analyze(context.Background(), writeTestImage(t)); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("analyze err = %v, want status 429", err)
	}
}

func TestAnalyzeRejectsEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Analyze(context.Background(), writeTestImage(t)); err == nil {
		t.Fatal("expected error for missing content")
	}
}

func TestAnalyzeMissingFile(t *testing.T) {
	client, err := NewClient(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Analyze(context.Background(), filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatal("expected error for missing image file")
	}
}
