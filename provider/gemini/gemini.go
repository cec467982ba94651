// Package gemini provides a provider adapter for the Google Generative
// Language API. Its streaming endpoint emits one growing JSON array without
// clean frame boundaries, so the adapter decodes elements incrementally and
// tolerates array punctuation split across read boundaries.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/praxisml/maestro/core"
	"github.com/praxisml/maestro/logging"
	"github.com/praxisml/maestro/provider"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"
)

// Options configures the Gemini adapter.
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

// Provider implements provider.Provider for the Generative Language API.
type Provider struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      logging.Logger
}

// New creates a new Gemini adapter.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		BaseURL:     defaultBaseURL,
		Model:       defaultModel,
		MaxTokens:   8192,
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
func (p *Provider) Type() string { return "gemini" }

// ValidateConfig implements provider.Provider.
func (p *Provider) ValidateConfig() bool { return p.apiKey != "" && p.baseURL != "" }

// Capabilities implements provider.Provider.
func (p *Provider) Capabilities() core.Capabilities {
	return core.Capabilities{Streaming: true, Vision: true, FunctionCalling: true, MaxTokens: p.maxTokens}
}

type contentPart struct {
	Text string `json:"text"`
}

type content struct {
	Role  string        `json:"role,omitempty"`
	Parts []contentPart `json:"parts"`
}

// generateResponse is one generateContent response element; the streaming
// endpoint emits an array of these.
type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// convertContents maps the transcript to Gemini contents. System turns fold
// into systemInstruction; assistant turns use the "model" role.
func convertContents(messages []core.Message, opts provider.ChatOptions) ([]content, *content) {
	var systemParts []contentPart
	if opts.System != "" {
		systemParts = append(systemParts, contentPart{Text: opts.System})
	}
	contents := make([]content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				systemParts = append(systemParts, contentPart{Text: m.Content})
			}
		case core.RoleAssistant:
			contents = append(contents, content{Role: "model", Parts: []contentPart{{Text: m.Content}}})
		default:
			contents = append(contents, content{Role: "user", Parts: []contentPart{{Text: m.Content}}})
		}
	}
	if len(systemParts) == 0 {
		return contents, nil
	}
	return contents, &content{Parts: systemParts}
}

func (p *Provider) endpoint(method string, opts provider.ChatOptions) string {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	return fmt.Sprintf("%s/models/%s:%s?key=%s",
		p.baseURL, url.PathEscape(model), method, url.QueryEscape(p.apiKey))
}

func (p *Provider) newRequest(ctx context.Context, method string, messages []core.Message, opts provider.ChatOptions) (*http.Request, error) {
	contents, system := convertContents(messages, opts)
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	temperature := p.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	payload := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"maxOutputTokens": maxTokens,
			"temperature":     temperature,
		},
	}
	if system != nil {
		payload["systemInstruction"] = system
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(method, opts), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *Provider) backendError(status int, body []byte) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &core.BackendError{Provider: p.Type(), Status: status, Message: apiErr.Error.Message}
	}
	return &core.BackendError{Provider: p.Type(), Status: status, Message: strings.TrimSpace(string(body))}
}

func joinParts(resp generateResponse) (string, string) {
	if len(resp.Candidates) == 0 {
		return "", ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), resp.Candidates[0].FinishReason
}

// Chat implements provider.Provider with a single non-streaming round trip.
func (p *Provider) Chat(ctx context.Context, messages []core.Message, opts provider.ChatOptions) (*provider.ChatResponse, error) {
	req, err := p.newRequest(ctx, "generateContent", messages, opts)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, p.backendError(resp.StatusCode, body)
	}

	var apiResp generateResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	text, finishReason := joinParts(apiResp)
	model := opts.Model
	if model == "" {
		model = p.model
	}
	return &provider.ChatResponse{
		Content:    text,
		Model:      model,
		StopReason: finishReason,
		Usage: core.Usage{
			InputTokens:  apiResp.UsageMetadata.PromptTokenCount,
			OutputTokens: apiResp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

// Stream implements provider.Provider over streamGenerateContent. The body is
// one JSON array emitted element by element; json.Decoder buffers until each
// element parses cleanly regardless of where reads were split, including
// across the leading '[', separating ',' and trailing ']' tokens.
func (p *Provider) Stream(ctx context.Context, messages []core.Message, opts provider.ChatOptions) (<-chan core.Chunk, <-chan error, error) {
	req, err := p.newRequest(ctx, "streamGenerateContent", messages, opts)
	if err != nil {
		return nil, nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("gemini request: %w", err)
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

		dec := json.NewDecoder(resp.Body)
		if _, err := dec.Token(); err != nil {
			// No opening bracket at all: fully malformed top-level response.
			errs <- fmt.Errorf("decode stream: %w", err)
			return
		}
		for dec.More() {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				errs <- fmt.Errorf("decode stream element: %w", err)
				return
			}
			var elem generateResponse
			if err := json.Unmarshal(raw, &elem); err != nil {
				// Schema mismatch on one element is not fatal.
				p.logger.Debug("gemini: skipping malformed stream element: %v", err)
				continue
			}
			text, _ := joinParts(elem)
			if text == "" {
				continue
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case chunks <- core.Chunk{Text: text}:
			}
		}
	}()

	return chunks, errs, nil
}
