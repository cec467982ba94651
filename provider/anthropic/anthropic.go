// Package anthropic provides a provider adapter for the Anthropic Messages
// API, normalizing its event-stream wire protocol (typed delta events) into
// maestro's canonical chunk form.
package anthropic

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
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	apiVersion       = "2023-06-01"
	versionHeaderKey = "anthropic-version"
	apiKeyHeaderKey  = "x-api-key"
	messagesPath     = "/messages"
)

// Options configures the Anthropic adapter. Extend via functional options to
// preserve stability.
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

// Provider implements provider.Provider for the Anthropic Messages API.
type Provider struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      logging.Logger
}

// New creates a new Anthropic adapter.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		BaseURL:     defaultBaseURL,
		Model:       defaultModel,
		MaxTokens:   defaultMaxTokens,
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
func (p *Provider) Type() string { return "anthropic" }

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

type apiResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// convertMessages splits system turns out of the transcript; Anthropic takes
// the system instruction as a top-level field rather than a message role.
func convertMessages(messages []core.Message, opts provider.ChatOptions) ([]message, string) {
	var systemParts []string
	if opts.System != "" {
		systemParts = append(systemParts, opts.System)
	}
	converted := make([]message, 0, len(messages))
	for _, m := range messages {
		if m.Role == core.RoleSystem {
			if strings.TrimSpace(m.Content) != "" {
				systemParts = append(systemParts, m.Content)
			}
			continue
		}
		converted = append(converted, message{Role: string(m.Role), Content: m.Content})
	}
	return converted, strings.Join(systemParts, "\n\n")
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
	converted, system := convertMessages(messages, opts)
	payload := map[string]any{
		"model":       model,
		"max_tokens":  maxTokens,
		"messages":    converted,
		"temperature": p.temperature,
	}
	if opts.Temperature > 0 {
		payload["temperature"] = opts.Temperature
	}
	if system != "" {
		payload["system"] = system
	}
	if stream {
		payload["stream"] = true
	}
	return payload
}

func (p *Provider) newRequest(ctx context.Context, payload map[string]any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(versionHeaderKey, apiVersion)
	if p.apiKey != "" {
		req.Header.Set(apiKeyHeaderKey, p.apiKey)
	}
	return req, nil
}

// backendError maps a non-2xx response to a BackendError carrying the
// backend's own message verbatim.
func (p *Provider) backendError(status int, body []byte) error {
	var apiErr apiError
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
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, p.backendError(resp.StatusCode, body)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &provider.ChatResponse{
		Content:    content.String(),
		Model:      apiResp.Model,
		StopReason: apiResp.StopReason,
		Usage: core.Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}, nil
}

// streamEvent is the subset of the event-stream payload the adapter cares
// about. Only content_block_delta text deltas surface as chunks; message_stop
// ends the stream; everything else is skipped.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// Stream implements provider.Provider over the Messages event stream.
func (p *Provider) Stream(ctx context.Context, messages []core.Message, opts provider.ChatOptions) (<-chan core.Chunk, <-chan error, error) {
	req, err := p.newRequest(ctx, p.buildPayload(messages, opts, true))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("anthropic request: %w", err)
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

			var ev streamEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				// Non-JSON event payloads are not an error.
				p.logger.Debug("anthropic: skipping malformed stream frame: %v", err)
				continue
			}

			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
					select {
					case <-ctx.Done():
						errs <- ctx.Err()
						return
					case chunks <- core.Chunk{Text: ev.Delta.Text}:
					}
				}
			case "message_stop":
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("read stream: %w", err)
		}
	}()

	return chunks, errs, nil
}
