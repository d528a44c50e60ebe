package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/complymed/backend/config"
)

func chatServerResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func TestLLMServiceConfigured(t *testing.T) {
	svc := NewLLMService(&config.LLMConfig{APIKey: "key", ChatModel: "model"})
	if !svc.Configured() {
		t.Error("Expected configured with key and model")
	}
	if svc.EmbeddingsEnabled() {
		t.Error("Expected embeddings disabled without embedding model")
	}

	svc = NewLLMService(&config.LLMConfig{ChatModel: "model"})
	if svc.Configured() {
		t.Error("Expected unconfigured without API key")
	}

	svc = NewLLMService(&config.LLMConfig{APIKey: "key", ChatModel: "model", EmbeddingModel: "embed"})
	if !svc.EmbeddingsEnabled() {
		t.Error("Expected embeddings enabled")
	}
}

func TestLLMServiceComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Expected /v1/chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("Expected Authorization header")
		}

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "test-model" {
			t.Errorf("Expected model 'test-model', got '%v'", body["model"])
		}
		messages := body["messages"].([]any)
		if len(messages) != 2 {
			t.Fatalf("Expected 2 messages, got %d", len(messages))
		}

		json.NewEncoder(w).Encode(chatServerResponse("  the answer  "))
	}))
	defer server.Close()

	svc := NewLLMService(&config.LLMConfig{
		BaseURL:   server.URL + "/v1",
		APIKey:    "test-key",
		ChatModel: "test-model",
	})

	out, err := svc.Complete(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out != "the answer" {
		t.Errorf("Expected trimmed content, got '%s'", out)
	}
}

func TestLLMServiceCompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "bad key"}`))
	}))
	defer server.Close()

	svc := NewLLMService(&config.LLMConfig{BaseURL: server.URL, APIKey: "bad", ChatModel: "m"})
	_, err := svc.Complete(context.Background(), "s", "u")
	if err == nil {
		t.Error("Expected error for non-2xx status")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("Expected status in error, got: %v", err)
	}
}

func TestLLMServiceCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	svc := NewLLMService(&config.LLMConfig{BaseURL: server.URL, APIKey: "k", ChatModel: "m"})
	_, err := svc.Complete(context.Background(), "s", "u")
	if err == nil {
		t.Error("Expected error for empty choices")
	}
}

func TestLLMServiceEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("Expected /embeddings, got %s", r.URL.Path)
		}

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "embed-model" {
			t.Errorf("Expected model 'embed-model', got '%v'", body["model"])
		}
		if body["input"] != "some text" {
			t.Errorf("Expected input text, got '%v'", body["input"])
		}
		if body["dimensions"] != float64(768) {
			t.Errorf("Expected dimensions 768, got '%v'", body["dimensions"])
		}

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2, 0.3}},
			},
		})
	}))
	defer server.Close()

	svc := NewLLMService(&config.LLMConfig{
		BaseURL:             server.URL,
		APIKey:              "k",
		ChatModel:           "m",
		EmbeddingModel:      "embed-model",
		EmbeddingDimensions: 768,
	})

	emb, err := svc.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(emb) != 3 {
		t.Errorf("Expected 3 dimensions, got %d", len(emb))
	}
}

func TestLLMServiceEmbedNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer server.Close()

	svc := NewLLMService(&config.LLMConfig{BaseURL: server.URL, APIKey: "k", EmbeddingModel: "e"})
	_, err := svc.Embed(context.Background(), "text")
	if err == nil {
		t.Error("Expected error for empty data")
	}
}

func TestLLMServiceExtractDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "vision-model" {
			t.Errorf("Expected vision model, got '%v'", body["model"])
		}

		// One user message with text part and inline document part
		messages := body["messages"].([]any)
		if len(messages) != 1 {
			t.Fatalf("Expected 1 message, got %d", len(messages))
		}
		parts := messages[0].(map[string]any)["content"].([]any)
		if len(parts) != 2 {
			t.Fatalf("Expected 2 content parts, got %d", len(parts))
		}
		imagePart := parts[1].(map[string]any)
		url := imagePart["image_url"].(map[string]any)["url"].(string)
		if !strings.HasPrefix(url, "data:application/pdf;base64,") {
			t.Errorf("Expected base64 data URL, got prefix '%s'", url[:min(40, len(url))])
		}

		json.NewEncoder(w).Encode(chatServerResponse("Page 1:\nExtracted text"))
	}))
	defer server.Close()

	svc := NewLLMService(&config.LLMConfig{
		BaseURL:     server.URL,
		APIKey:      "k",
		ChatModel:   "m",
		VisionModel: "vision-model",
	})

	text, err := svc.ExtractDocument(context.Background(), []byte("%PDF-1.4 fake"), "application/pdf")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(text, "Extracted text") {
		t.Errorf("Unexpected extraction output: '%s'", text)
	}
}

func TestLLMServiceExtractDocumentDefaultContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		parts := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
		url := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
		if !strings.HasPrefix(url, "data:application/pdf;base64,") {
			t.Error("Expected application/pdf default content type")
		}
		json.NewEncoder(w).Encode(chatServerResponse("NO_TEXT_FOUND"))
	}))
	defer server.Close()

	svc := NewLLMService(&config.LLMConfig{BaseURL: server.URL, APIKey: "k", VisionModel: "v"})
	text, err := svc.ExtractDocument(context.Background(), []byte("bytes"), "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if text != "NO_TEXT_FOUND" {
		t.Errorf("Expected sentinel passed through, got '%s'", text)
	}
}

func TestLLMServiceNetworkError(t *testing.T) {
	svc := NewLLMService(&config.LLMConfig{
		BaseURL:   "http://invalid-host-that-does-not-exist:9999",
		APIKey:    "k",
		ChatModel: "m",
	})
	if _, err := svc.Complete(context.Background(), "s", "u"); err == nil {
		t.Error("Expected error for network failure")
	}
	if _, err := svc.Embed(context.Background(), "text"); err == nil {
		t.Error("Expected error for network failure")
	}
}
