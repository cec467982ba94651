// Package maestro provides a high-level façade over the provider registry and
// the orchestrator, enabling rapid construction of multi-agent systems backed
// by heterogeneous model providers. Most applications interact with this
// package by:
//  1. Creating a Maestro via New() and registering one or more providers
//  2. Spawning agents and submitting tasks, or letting complex requests be
//     planned and executed as a dependency graph
//  3. Observing lifecycle events through On()
//
// The façade delegates scheduling to orchestrator.Orchestrator while keeping
// setup ergonomics concise. All defaults are safe for local development; the
// zero configuration uses a no-op logger and an empty registry.
package maestro

import (
	"context"
	"time"

	"github.com/praxisml/maestro/core"
	"github.com/praxisml/maestro/logging"
	"github.com/praxisml/maestro/orchestrator"
	"github.com/praxisml/maestro/provider"
)

// Options configures the Maestro instance.
type Options struct {
	// Registry supplies a pre-populated provider registry. A fresh empty
	// registry is created when nil.
	Registry *provider.Registry

	// TaskTimeout bounds each task's provider call.
	TaskTimeout time.Duration

	// ContinueOnDependencyFailure lets dependent plan steps run with a
	// failure marker instead of failing immediately.
	ContinueOnDependencyFailure bool

	// Logger defaults to NoOpLogger when nil.
	Logger logging.Logger
}

// Maestro is the high-level façade aggregating the registry and orchestrator.
type Maestro struct {
	registry *provider.Registry
	orch     *orchestrator.Orchestrator
}

// New creates a new Maestro instance with optional overrides.
func New(optFns ...func(o *Options)) *Maestro {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	registry := opts.Registry
	if registry == nil {
		registry = provider.NewRegistry(opts.Logger)
	}
	orch := orchestrator.New(registry, func(o *orchestrator.Options) {
		o.TaskTimeout = opts.TaskTimeout
		o.ContinueOnDependencyFailure = opts.ContinueOnDependencyFailure
		o.Logger = opts.Logger
	})
	return &Maestro{registry: registry, orch: orch}
}

// RegisterProvider adds a named provider; the first becomes the default.
func (m *Maestro) RegisterProvider(name string, p provider.Provider) {
	m.registry.Register(name, p)
}

// SetDefaultProvider switches the default provider.
func (m *Maestro) SetDefaultProvider(name string) { m.registry.SetDefault(name) }

// Providers lists the registered providers in registration order.
func (m *Maestro) Providers() []provider.Info { return m.registry.List() }

// Registry exposes the underlying registry, e.g. for serving it over HTTP.
func (m *Maestro) Registry() *provider.Registry { return m.registry }

// Orchestrator exposes the underlying orchestrator.
func (m *Maestro) Orchestrator() *orchestrator.Orchestrator { return m.orch }

// Chat performs a single round-trip call on the named-or-default provider.
func (m *Maestro) Chat(ctx context.Context, providerName string, messages []core.Message, opts provider.ChatOptions) (*provider.ChatResponse, error) {
	return m.registry.Chat(ctx, providerName, messages, opts)
}

// Stream starts a streaming call on the named-or-default provider.
func (m *Maestro) Stream(ctx context.Context, providerName string, messages []core.Message, opts provider.ChatOptions) (<-chan core.Chunk, <-chan error, error) {
	return m.registry.Stream(ctx, providerName, messages, opts)
}

// SpawnAgent adds an agent to the pool.
func (m *Maestro) SpawnAgent(cfg orchestrator.AgentConfig) *core.Agent {
	return m.orch.SpawnAgent(cfg)
}

// TerminateAgent removes an agent, force-failing its in-flight task.
func (m *Maestro) TerminateAgent(id string) bool { return m.orch.TerminateAgent(id) }

// SubmitTask enqueues a task for the next scheduling pass.
func (m *Maestro) SubmitTask(cfg orchestrator.TaskConfig) *core.Task {
	return m.orch.CreateTask(cfg)
}

// ExecuteComplexTask plans and executes a multi-step request, returning one
// result string per step in plan order.
func (m *Maestro) ExecuteComplexTask(ctx context.Context, description string, history []core.Message) ([]string, error) {
	return m.orch.ExecuteComplexTask(ctx, description, history)
}

// StreamTask runs one task while forwarding its output chunks live.
func (m *Maestro) StreamTask(ctx context.Context, cfg orchestrator.TaskConfig) (<-chan core.Chunk, <-chan error, error) {
	return m.orch.StreamTask(ctx, cfg)
}

// On registers a lifecycle event handler.
func (m *Maestro) On(name core.EventName, h orchestrator.Handler) { m.orch.On(name, h) }

// Status returns a point-in-time snapshot of agents, tasks and providers.
func (m *Maestro) Status() orchestrator.Status { return m.orch.Status() }

// Close terminates all agents and releases orchestrator state.
func (m *Maestro) Close() { m.orch.Cleanup() }
