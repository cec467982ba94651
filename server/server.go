// Package server exposes the orchestrator and provider registry over HTTP.
// Responses are JSON; the two streaming endpoints emit server-sent events
// terminated by a [DONE] sentinel.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/praxisml/maestro/core"
	"github.com/praxisml/maestro/logging"
	"github.com/praxisml/maestro/orchestrator"
	"github.com/praxisml/maestro/provider"
)

const doneSentinel = "[DONE]"

// Options configures the HTTP server.
type Options struct {
	Addr string
	// RequestLogger, when set, enables hlog access logging middleware.
	RequestLogger *zerolog.Logger
	Logger        logging.Logger
}

// Server serves the engine API.
type Server struct {
	registry *provider.Registry
	orch     *orchestrator.Orchestrator
	logger   logging.Logger
	server   *http.Server
}

type chatRequest struct {
	Provider    string         `json:"provider,omitempty"`
	Messages    []core.Message `json:"messages"`
	Model       string         `json:"model,omitempty"`
	System      string         `json:"system,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float64        `json:"temperature,omitempty"`
}

type complexTaskRequest struct {
	Description string         `json:"description"`
	Context     []core.Message `json:"context,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New builds the server with all routes mounted.
func New(registry *provider.Registry, orch *orchestrator.Orchestrator, optFns ...func(o *Options)) *Server {
	opts := Options{Addr: ":8080", Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{registry: registry, orch: orch, logger: opts.Logger}

	r := chi.NewRouter()
	if opts.RequestLogger != nil {
		r.Use(logMiddleware(*opts.RequestLogger))
	}

	r.Get("/providers", s.handleProviders)
	r.Post("/chat", s.handleChat)
	r.Post("/chat/stream", s.handleChatStream)
	r.Post("/agents", s.handleSpawnAgent)
	r.Delete("/agents/{id}", s.handleTerminateAgent)
	r.Post("/tasks", s.handleCreateTask)
	r.Get("/tasks/{id}", s.handleGetTask)
	r.Post("/tasks/complex", s.handleComplexTask)
	r.Post("/tasks/stream", s.handleStreamTask)
	r.Get("/status", s.handleStatus)

	s.server = &http.Server{Addr: opts.Addr, Handler: r}
	return s
}

// Handler returns the mounted router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening addr=%s", s.server.Addr)
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.registry.List())
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := unmarshalBody(r, &req); err != nil {
		badRequest(w, r, "unable to parse body")
		return
	}
	resp, err := s.registry.Chat(r.Context(), req.Provider, req.Messages, provider.ChatOptions{
		Model:       req.Model,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		backendFailure(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := unmarshalBody(r, &req); err != nil {
		badRequest(w, r, "unable to parse body")
		return
	}
	chunks, errs, err := s.registry.Stream(r.Context(), req.Provider, req.Messages, provider.ChatOptions{
		Model:       req.Model,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		backendFailure(w, r, err)
		return
	}
	s.writeEventStream(w, chunks, errs)
}

func (s *Server) handleSpawnAgent(w http.ResponseWriter, r *http.Request) {
	var cfg orchestrator.AgentConfig
	if err := unmarshalBody(r, &cfg); err != nil {
		badRequest(w, r, "unable to parse body")
		return
	}
	agent := s.orch.SpawnAgent(cfg)
	w.WriteHeader(http.StatusCreated)
	render.JSON(w, r, agent)
}

func (s *Server) handleTerminateAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.orch.TerminateAgent(id) {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, errorResponse{Error: fmt.Sprintf("agent %s not found", id)})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var cfg orchestrator.TaskConfig
	if err := unmarshalBody(r, &cfg); err != nil {
		badRequest(w, r, "unable to parse body")
		return
	}
	task := s.orch.CreateTask(cfg)
	w.WriteHeader(http.StatusAccepted)
	render.JSON(w, r, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.orch.GetTask(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, errorResponse{Error: fmt.Sprintf("task %s not found", id)})
		return
	}
	render.JSON(w, r, task)
}

func (s *Server) handleComplexTask(w http.ResponseWriter, r *http.Request) {
	var req complexTaskRequest
	if err := unmarshalBody(r, &req); err != nil {
		badRequest(w, r, "unable to parse body")
		return
	}
	results, err := s.orch.ExecuteComplexTask(r.Context(), req.Description, req.Context)
	if err != nil {
		backendFailure(w, r, err)
		return
	}
	render.JSON(w, r, struct {
		Results []string `json:"results"`
	}{results})
}

func (s *Server) handleStreamTask(w http.ResponseWriter, r *http.Request) {
	var cfg orchestrator.TaskConfig
	if err := unmarshalBody(r, &cfg); err != nil {
		badRequest(w, r, "unable to parse body")
		return
	}
	chunks, errs, err := s.orch.StreamTask(r.Context(), cfg)
	if err != nil {
		backendFailure(w, r, err)
		return
	}
	s.writeEventStream(w, chunks, errs)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.orch.Status())
}

// writeEventStream drains a chunk stream into SSE frames, flushing after each
// one, and closes with the [DONE] sentinel. A mid-stream error becomes an
// error event; bytes already written stay written.
func (s *Server) writeEventStream(w http.ResponseWriter, chunks <-chan core.Chunk, errs <-chan error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	for chunks != nil || errs != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			payload, err := json.Marshal(c)
			if err != nil {
				s.logger.Error("marshal chunk: %v", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flush()
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if e != nil {
				fmt.Fprintf(w, "event: error\ndata: %s\n\n", e.Error())
				flush()
				return
			}
		}
	}
	fmt.Fprintf(w, "data: %s\n\n", doneSentinel)
	flush()
}

func logMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	c := alice.New()
	c = c.Append(hlog.NewHandler(logger))
	c = c.Append(hlog.RemoteAddrHandler("ip"))
	c = c.Append(hlog.UserAgentHandler("agent"))
	c = c.Append(hlog.RequestIDHandler("req_id", "Request-Id"))
	c = c.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("verb", r.Method).
			Stringer("url", r.URL).
			Int("size", size).
			Int("status", status).
			Int64("duration", duration.Milliseconds()).
			Msg("REQ")
	}))
	return c.Then
}

func unmarshalBody(req *http.Request, output any) error {
	if req.Body == nil {
		return errors.New("invalid body in request")
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	if err = req.Body.Close(); err != nil {
		return err
	}
	return json.Unmarshal(body, output)
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	w.WriteHeader(http.StatusBadRequest)
	render.JSON(w, r, errorResponse{Error: msg})
}

// backendFailure maps engine errors to HTTP statuses: unknown providers are
// the caller's mistake, everything else is a bad gateway.
func backendFailure(w http.ResponseWriter, r *http.Request, err error) {
	var notFound *core.ProviderNotFoundError
	status := http.StatusBadGateway
	if errors.As(err, &notFound) {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}
