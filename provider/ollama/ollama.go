// Package ollama provides a provider adapter for a local Ollama server. The
// streaming protocol is newline-delimited JSON: each line is one
// self-contained object carrying an incremental text field and a done flag.
package ollama

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
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3"
	chatPath       = "/api/chat"
)

// Options configures the Ollama adapter.
type Options struct {
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      logging.Logger
}

// Provider implements provider.Provider against an Ollama server.
type Provider struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      logging.Logger
}

// New creates a new Ollama adapter.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		BaseURL:     defaultBaseURL,
		Model:       defaultModel,
		MaxTokens:   4096,
		Temperature: 0.7,
		Timeout:     60 * time.Second,
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
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		httpClient:  httpClient,
		logger:      opts.Logger,
	}
}

// Type implements provider.Provider.
func (p *Provider) Type() string { return "ollama" }

// ValidateConfig implements provider.Provider. Ollama needs no credentials,
// only a base URL.
func (p *Provider) ValidateConfig() bool { return p.baseURL != "" }

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() core.Capabilities {
	return core.Capabilities{Streaming: true, MaxTokens: p.maxTokens}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is one NDJSON frame (or the whole non-streaming body).
type chatResponse struct {
	Model   string  `json:"model"`
	Message message `json:"message"`
	Done    bool    `json:"done"`
	// DoneReason is only present on the final frame.
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

func (p *Provider) newRequest(ctx context.Context, messages []core.Message, opts provider.ChatOptions, stream bool) (*http.Request, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	converted := make([]message, 0, len(messages)+1)
	if opts.System != "" {
		converted = append(converted, message{Role: string(core.RoleSystem), Content: opts.System})
	}
	for _, m := range messages {
		converted = append(converted, message{Role: string(m.Role), Content: m.Content})
	}

	options := map[string]any{"temperature": p.temperature}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	body, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": converted,
		"stream":   stream,
		"options":  options,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *Provider) backendError(status int, body []byte) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return &core.BackendError{Provider: p.Type(), Status: status, Message: apiErr.Error}
	}
	return &core.BackendError{Provider: p.Type(), Status: status, Message: strings.TrimSpace(string(body))}
}

// Chat implements provider.Provider with a single non-streaming round trip.
func (p *Provider) Chat(ctx context.Context, messages []core.Message, opts provider.ChatOptions) (*provider.ChatResponse, error) {
	req, err := p.newRequest(ctx, messages, opts, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, p.backendError(resp.StatusCode, body)
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != "" {
		return nil, &core.BackendError{Provider: p.Type(), Message: apiResp.Error}
	}

	stopReason := apiResp.DoneReason
	if stopReason == "" {
		stopReason = "stop"
	}
	return &provider.ChatResponse{
		Content:    apiResp.Message.Content,
		Model:      apiResp.Model,
		StopReason: stopReason,
		Usage: core.Usage{
			InputTokens:  apiResp.PromptEvalCount,
			OutputTokens: apiResp.EvalCount,
		},
	}, nil
}

// Stream implements provider.Provider. The stream ends the first time a frame
// carries done=true, even if more bytes follow.
func (p *Provider) Stream(ctx context.Context, messages []core.Message, opts provider.ChatOptions) (<-chan core.Chunk, <-chan error, error) {
	req, err := p.newRequest(ctx, messages, opts, true)
	if err != nil {
		return nil, nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("ollama request: %w", err)
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
			if line == "" {
				continue
			}
			var frame chatResponse
			if err := json.Unmarshal([]byte(line), &frame); err != nil {
				p.logger.Debug("ollama: skipping malformed stream line: %v", err)
				continue
			}
			if frame.Error != "" {
				errs <- &core.BackendError{Provider: p.Type(), Message: frame.Error}
				return
			}
			if text := frame.Message.Content; text != "" {
				select {
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				case chunks <- core.Chunk{Text: text}:
				}
			}
			if frame.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("read stream: %w", err)
		}
	}()

	return chunks, errs, nil
}
