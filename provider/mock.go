package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/praxisml/maestro/core"
)

// Mock is a lightweight in-memory Provider useful for tests and examples. It
// echoes the last user message (with an optional prefix), serves canned
// responses, and can inject artificial latency or scripted errors to exercise
// scheduling and failure paths.
type Mock struct {
	mu        sync.Mutex
	responses map[string]string
	prefix    string
	latency   func() time.Duration
	failWith  error
	failOn    func(input string) error
	calls     int
}

// MockOptions configures a Mock provider.
type MockOptions struct {
	// EchoPrefix is prepended to the last user message when no canned
	// response matches. Defaults to "ECHO:".
	EchoPrefix string
	// Latency, when set, is invoked per call and the returned duration is
	// slept before responding. Useful for randomized scheduling tests.
	Latency func() time.Duration
	// FailWith, when set, makes every call return this error.
	FailWith error
	// FailOn, when set, is consulted per call with the last user message; a
	// non-nil return fails just that call. Useful for failing a single step
	// of a multi-step run.
	FailOn func(input string) error
}

// NewMock constructs a Mock provider.
func NewMock(optFns ...func(o *MockOptions)) *Mock {
	opts := MockOptions{EchoPrefix: "ECHO:"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Mock{
		responses: make(map[string]string),
		prefix:    opts.EchoPrefix,
		latency:   opts.Latency,
		failWith:  opts.FailWith,
		failOn:    opts.FailOn,
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *Mock) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Calls returns how many chat/stream calls the mock has served.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Type implements Provider.
func (m *Mock) Type() string { return "mock" }

// ValidateConfig implements Provider; the mock is always configured.
func (m *Mock) ValidateConfig() bool { return true }

// Capabilities implements Provider.
func (m *Mock) Capabilities() core.Capabilities {
	return core.Capabilities{Streaming: true, FunctionCalling: false, MaxTokens: 4096}
}

func (m *Mock) respond(ctx context.Context, messages []core.Message) (string, error) {
	m.mu.Lock()
	m.calls++
	failWith := m.failWith
	failOn := m.failOn
	latency := m.latency
	var input string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == core.RoleUser {
			input = messages[i].Content
			break
		}
	}
	full, ok := m.responses[input]
	if !ok {
		full = m.prefix + input
	}
	m.mu.Unlock()

	if latency != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(latency()):
		}
	}
	if failWith != nil {
		return "", failWith
	}
	if failOn != nil {
		if err := failOn(input); err != nil {
			return "", err
		}
	}
	if input == "" && full == m.prefix {
		return "", fmt.Errorf("mock: no user message provided")
	}
	return full, nil
}

// Chat implements Provider.
func (m *Mock) Chat(ctx context.Context, messages []core.Message, _ ChatOptions) (*ChatResponse, error) {
	content, err := m.respond(ctx, messages)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{
		Content:    content,
		Model:      "mock",
		StopReason: "stop",
		Usage:      core.Usage{InputTokens: len(messages), OutputTokens: len(content)},
	}, nil
}

// Stream implements Provider; the canned response is emitted rune by rune.
func (m *Mock) Stream(ctx context.Context, messages []core.Message, _ ChatOptions) (<-chan core.Chunk, <-chan error, error) {
	content, err := m.respond(ctx, messages)
	if err != nil {
		return nil, nil, err
	}

	chunks := make(chan core.Chunk, 16)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, r := range content {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case chunks <- core.Chunk{Text: string(r)}:
			}
		}
	}()
	return chunks, errs, nil
}
