package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/complymed/backend/config"
)

// visionExtractionPrompt instructs the fallback model to return
// page-structured text, or the sentinel token when nothing is extractable.
const visionExtractionPrompt = `Extract all text from the attached document. Return the text organized page by page, preserving headings and tables as plain text. If the document contains no extractable text, respond with exactly NO_TEXT_FOUND and nothing else.`

// LLMService talks to an OpenAI-compatible API for chat completions,
// embeddings and vision-based document extraction.
type LLMService struct {
	config     *config.LLMConfig
	httpClient *http.Client
}

func NewLLMService(cfg *config.LLMConfig) *LLMService {
	return &LLMService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Configured reports whether a credential is present. Without one the
// analyzer skips model-based issues and extraction has no vision fallback.
func (s *LLMService) Configured() bool {
	return s.config.APIKey != "" && s.config.ChatModel != ""
}

// EmbeddingsEnabled reports whether an embedding model is configured
func (s *LLMService) EmbeddingsEnabled() bool {
	return s.Configured() && s.config.EmbeddingModel != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete runs one chat completion and returns the raw assistant text
func (s *LLMService) Complete(ctx context.Context, system, user string) (string, error) {
	body := map[string]any{
		"model":       s.config.ChatModel,
		"temperature": s.config.Temperature,
		"messages": []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	return s.chat(ctx, s.config.ChatModel, body)
}

// ExtractDocument sends the document inline to the vision model and returns
// the extracted text. The caller interprets the NO_TEXT_FOUND sentinel.
func (s *LLMService) ExtractDocument(ctx context.Context, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/pdf"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))

	body := map[string]any{
		"model": s.config.VisionModel,
		"messages": []chatMessage{
			{Role: "user", Content: []map[string]any{
				{"type": "text", "text": visionExtractionPrompt},
				{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
			}},
		},
	}
	return s.chat(ctx, s.config.VisionModel, body)
}

func (s *LLMService) chat(ctx context.Context, model string, body map[string]any) (string, error) {
	start := time.Now()
	raw, err := s.post(ctx, "/chat/completions", body)
	if err != nil {
		slog.Error("llm.chat.http_error",
			"model", model,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("failed to parse chat response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("no choices in chat response")
	}

	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	slog.Info("llm.chat.ok",
		"model", model,
		"content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for one text
func (s *LLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{
		"model": s.config.EmbeddingModel,
		"input": text,
	}
	if s.config.EmbeddingDimensions > 0 {
		body["dimensions"] = s.config.EmbeddingDimensions
	}

	raw, err := s.post(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}

	var er embeddingResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(er.Data) == 0 {
		return nil, fmt.Errorf("no data in embedding response")
	}
	return er.Data[0].Embedding, nil
}

func (s *LLMService) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(s.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llm API status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
