package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/skarimi/docqa/internal/provider"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
)

// Client talks to the OpenAI HTTP API. It implements provider.Provider.
type Client struct {
	apiKey          string
	baseURL         string
	embeddingModel  string
	completionModel string
	httpClient      *http.Client
	// streamClient has no overall timeout; streamed responses are bounded
	// by the request context instead.
	streamClient *http.Client
}

// Config carries the provider settings.
type Config struct {
	APIKey          string
	BaseURL         string
	EmbeddingModel  string
	CompletionModel string
	Timeout         time.Duration
}

// New builds an OpenAI-backed provider.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("openai embedding model is required")
	}
	if cfg.CompletionModel == "" {
		return nil, fmt.Errorf("openai completion model is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		embeddingModel:  cfg.EmbeddingModel,
		completionModel: cfg.CompletionModel,
		httpClient:      &http.Client{Timeout: timeout},
		streamClient:    &http.Client{},
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Embed generates embeddings for the given texts in one batch call.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("embed: no input texts")
	}
	body := map[string]interface{}{
		"model": c.embeddingModel,
		"input": texts,
	}
	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, "/embeddings", body, &parsed); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embed: expected %d vectors, got %d", len(texts), len(parsed.Data))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embed: vector index %d out of range", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("embed: provider returned a zero-length vector")
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("embed: provider returned no vector for input %d", i)
		}
	}
	return vecs, nil
}

// Complete runs a chat completion and returns the full answer text.
func (c *Client) Complete(ctx context.Context, system, user string, opts provider.CompleteOptions) (string, error) {
	body := c.chatRequest(system, user, opts, false)
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, "/chat/completions", body, &parsed); err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("complete: no choices returned")
	}
	return parsed.Choices[0].Message.Content, nil
}

// CompleteStream runs a chat completion with stream=true, decoding SSE
// data lines into fragment events. The goroutine draining the response stops
// when the context is cancelled, closing the provider-side stream.
func (c *Client) CompleteStream(ctx context.Context, system, user string, opts provider.CompleteOptions) (<-chan provider.StreamEvent, error) {
	body := c.chatRequest(system, user, opts, true)
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("stream: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("stream: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("stream: API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	events := make(chan provider.StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				emit(ctx, events, provider.StreamEvent{Done: true})
				return
			}
			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				emit(ctx, events, provider.StreamEvent{Err: fmt.Errorf("stream: decode chunk: %w", err)})
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				if !emit(ctx, events, provider.StreamEvent{Content: content}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			emit(ctx, events, provider.StreamEvent{Err: fmt.Errorf("stream: read response: %w", err)})
			return
		}
		// Stream ended without the [DONE] sentinel; treat as complete.
		emit(ctx, events, provider.StreamEvent{Done: true})
	}()
	return events, nil
}

// emit delivers an event unless the consumer went away.
func emit(ctx context.Context, ch chan<- provider.StreamEvent, ev provider.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) chatRequest(system, user string, opts provider.CompleteOptions, stream bool) map[string]interface{} {
	body := map[string]interface{}{
		"model": c.completionModel,
		"messages": []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		"temperature": opts.Temperature,
		"stream":      stream,
	}
	if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}
	return body
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

var _ provider.Provider = (*Client)(nil)
