package provider

import (
	"context"

	"github.com/praxisml/maestro/core"
)

// ChatOptions tunes a single chat or stream call. Zero values defer to the
// adapter's configured defaults.
type ChatOptions struct {
	// Model overrides the adapter's default model for this call.
	Model string `json:"model,omitempty"`
	// System is prepended as the system instruction when non-empty.
	System string `json:"system,omitempty"`
	// MaxTokens caps generation length. Informational for backends that do
	// not enforce it client-side; over-limit requests fail at the backend.
	MaxTokens int `json:"max_tokens,omitempty"`
	// Temperature controls sampling randomness.
	Temperature float64 `json:"temperature,omitempty"`
}

// ChatResponse is the normalized result of a single round-trip chat call.
type ChatResponse struct {
	Content    string     `json:"content"`
	Model      string     `json:"model"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      core.Usage `json:"usage"`
}

// Provider is the contract every backend adapter implements. One adapter
// instance owns one wire protocol and one set of credentials.
//
// Stream returns a finite, ordered, non-restartable sequence of chunks: the
// chunk channel carries increments in emission order, the error channel
// carries at most one mid-stream failure, and both close when the stream
// ends. A new call starts a new backend request. The immediate error return
// covers request construction, transport failures and non-2xx status; partial
// output already delivered through the chunk channel is never retracted.
type Provider interface {
	// Type identifies the adapter implementation ("anthropic", "openai", ...).
	Type() string

	// ValidateConfig reports whether credentials/reachability settings are
	// present. It never performs I/O and never fails registration; dispatch
	// is attempted regardless and fails at the backend if misconfigured.
	ValidateConfig() bool

	// Capabilities returns static, informational adapter metadata.
	Capabilities() core.Capabilities

	Chat(ctx context.Context, messages []core.Message, opts ChatOptions) (*ChatResponse, error)
	Stream(ctx context.Context, messages []core.Message, opts ChatOptions) (<-chan core.Chunk, <-chan error, error)
}
