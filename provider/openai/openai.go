// Package openai provides a provider adapter for OpenAI-compatible chat
// completion APIs. The streaming protocol is the line-oriented event stream
// terminated by a literal [DONE] sentinel, shared by OpenAI itself and a
// large family of compatible gateways.
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

	"github.com/praxisml/maestro/core"
	"github.com/praxisml/maestro/logging"
	"github.com/praxisml/maestro/provider"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	defaultModel    = "gpt-4o-mini"
	completionsPath = "/chat/completions"
	doneSentinel    = "[DONE]"
)

// Options configures the OpenAI adapter.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      logging.Logger
}

// Provider implements provider.Provider for OpenAI-compatible backends.
type Provider struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      logging.Logger
}

// New creates a new OpenAI adapter.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		BaseURL:     defaultBaseURL,
		Model:       defaultModel,
		MaxTokens:   4096,
		Temperature: 0.7,
		Timeout:     120 * time.Second,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Provider{
		apiKey:      opts.APIKey,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		httpClient:  httpClient,
		logger:      opts.Logger,
	}
}

// Type implements provider.Provider.
func (p *Provider) Type() string { return "openai" }

// ValidateConfig implements provider.Provider.
func (p *Provider) ValidateConfig() bool { return p.apiKey != "" && p.baseURL != "" }

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() core.Capabilities {
	return core.Capabilities{Streaming: true, Vision: true, FunctionCalling: true, MaxTokens: p.maxTokens}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (p *Provider) buildPayload(messages []core.Message, opts provider.ChatOptions, stream bool) map[string]any {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	converted := make([]message, 0, len(messages)+1)
	if opts.System != "" {
		converted = append(converted, message{Role: string(core.RoleSystem), Content: opts.System})
	}
	for _, m := range messages {
		converted = append(converted, message{Role: string(m.Role), Content: m.Content})
	}
	temperature := p.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	return map[string]any{
		"model":       model,
		"messages":    converted,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"stream":      stream,
	}
}

func (p *Provider) newRequest(ctx context.Context, payload map[string]any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return req, nil
}

func (p *Provider) backendError(status int, body []byte) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &core.BackendError{Provider: p.Type(), Status: status, Message: apiErr.Error.Message}
	}
	return &core.BackendError{Provider: p.Type(), Status: status, Message: strings.TrimSpace(string(body))}
}

// Chat implements provider.Provider with a single non-streaming round trip.
func (p *Provider) Chat(ctx context.Context, messages []core.Message, opts provider.ChatOptions) (*provider.ChatResponse, error) {
	req, err := p.newRequest(ctx, p.buildPayload(messages, opts, false))
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, p.backendError(resp.StatusCode, body)
	}

	var apiResp struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, &core.BackendError{Provider: p.Type(), Status: resp.StatusCode, Message: "no choices in response"}
	}

	return &provider.ChatResponse{
		Content:    apiResp.Choices[0].Message.Content,
		Model:      apiResp.Model,
		StopReason: apiResp.Choices[0].FinishReason,
		Usage: core.Usage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
		},
	}, nil
}

// streamChunk is the subset of a streaming frame the adapter surfaces.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream implements provider.Provider. Completion is signaled by the literal
// [DONE] payload rather than a typed event.
func (p *Provider) Stream(ctx context.Context, messages []core.Message, opts provider.ChatOptions) (<-chan core.Chunk, <-chan error, error) {
	req, err := p.newRequest(ctx, p.buildPayload(messages, opts, true))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("openai request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, nil, p.backendError(resp.StatusCode, body)
	}

	chunks := make(chan core.Chunk, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == doneSentinel {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				p.logger.Debug("openai: skipping malformed stream frame: %v", err)
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				select {
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				case chunks <- core.Chunk{Text: text}:
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("read stream: %w", err)
		}
	}()

	return chunks, errs, nil
}
