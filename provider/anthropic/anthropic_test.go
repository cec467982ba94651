package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxisml/maestro/core"
	"github.com/praxisml/maestro/provider"
)

func newTestProvider(baseURL string) *Provider {
	return New(func(o *Options) {
		o.APIKey = "test-key"
		o.BaseURL = baseURL
	})
}

func collect(t *testing.T, chunks <-chan core.Chunk, errs <-chan error) ([]string, error) {
	t.Helper()
	var texts []string
	for c := range chunks {
		texts = append(texts, c.Text)
	}
	return texts, <-errs
}

// serveSegmented writes the body in n-byte segments, flushing after each, so
// frame boundaries never line up with read boundaries.
func serveSegmented(w http.ResponseWriter, body string, n int) {
	f, _ := w.(http.Flusher)
	for i := 0; i < len(body); i += n {
		end := i + n
		if end > len(body) {
			end = len(body)
		}
		_, _ = io.WriteString(w, body[i:end])
		if f != nil {
			f.Flush()
		}
	}
}

func TestChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "be brief", payload["system"])
		assert.Len(t, payload["messages"], 1)

		_, _ = io.WriteString(w, `{
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	resp, err := p.Chat(context.Background(), []core.Message{core.NewUserMessage("hi")}, provider.ChatOptions{System: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
}

func TestChatSystemTurnsFoldIntoTopLevelField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			System   string    `json:"system"`
			Messages []message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "you are terse", payload.System)
		require.Len(t, payload.Messages, 1)
		assert.Equal(t, "user", payload.Messages[0].Role)

		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn"}`)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.Chat(context.Background(), []core.Message{
		core.NewSystemMessage("you are terse"),
		core.NewUserMessage("hi"),
	}, provider.ChatOptions{})
	require.NoError(t, err)
}

func TestChatBackendErrorVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"type":"rate_limit_error","message":"Number of requests exceeds your rate limit"}}`)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.Chat(context.Background(), []core.Message{core.NewUserMessage("hi")}, provider.ChatOptions{})
	var backendErr *core.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, http.StatusTooManyRequests, backendErr.Status)
	assert.Equal(t, "Number of requests exceeds your rate limit", backendErr.Message)
}

const streamBody = "event: message_start\n" +
	"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n" +
	"data: not-json-at-all\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n" +
	"event: message_stop\n" +
	"data: {\"type\":\"message_stop\"}\n"

func TestStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		serveSegmented(w, streamBody, len(streamBody))
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	chunks, errs, err := p.Stream(context.Background(), []core.Message{core.NewUserMessage("hi")}, provider.ChatOptions{})
	require.NoError(t, err)

	texts, streamErr := collect(t, chunks, errs)
	require.NoError(t, streamErr)
	assert.Equal(t, []string{"Hel", "lo"}, texts)
}

func TestStreamSegmentationInvariance(t *testing.T) {
	var want []string
	for _, segment := range []int{1, 3, 7, 64, len(streamBody)} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			serveSegmented(w, streamBody, segment)
		}))

		p := newTestProvider(server.URL)
		chunks, errs, err := p.Stream(context.Background(), []core.Message{core.NewUserMessage("hi")}, provider.ChatOptions{})
		require.NoError(t, err, "segment=%d", segment)

		texts, streamErr := collect(t, chunks, errs)
		require.NoError(t, streamErr, "segment=%d", segment)
		if want == nil {
			want = texts
		}
		assert.Equal(t, want, texts, "segment=%d", segment)
		server.Close()
	}
}

func TestStreamNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, _, err := p.Stream(context.Background(), []core.Message{core.NewUserMessage("hi")}, provider.ChatOptions{})
	var backendErr *core.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "invalid x-api-key", backendErr.Message)
}

func TestValidateConfig(t *testing.T) {
	assert.True(t, newTestProvider("http://x").ValidateConfig())
	assert.False(t, New().ValidateConfig())
}
