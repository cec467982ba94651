package provider

import (
	"context"
	"sync"

	"github.com/praxisml/maestro/core"
	"github.com/praxisml/maestro/logging"
)

// Info describes one registered provider for availability listings. Callers
// use Configured to present availability, not to gate dispatch.
type Info struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Configured   bool              `json:"configured"`
	Capabilities core.Capabilities `json:"capabilities"`
}

// Registry holds named provider instances and routes chat/stream calls by
// name. The first registered provider becomes the default. The registry is
// read-mostly after configuration: writes happen only at (re)configuration
// time while concurrent agent executions read it, so all access is guarded.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	order       []string
	defaultName string
	logger      logging.Logger
}

// NewRegistry constructs an empty registry. A nil logger is replaced with a
// NoOpLogger.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Registry{providers: make(map[string]Provider), logger: logger}
}

// Register adds a provider under the given name, replacing any previous entry
// with that name. The first registration becomes the default provider.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
	if r.defaultName == "" {
		r.defaultName = name
	}
	r.logger.Debug("provider registered name=%s type=%s configured=%t", name, p.Type(), p.ValidateConfig())
}

// SetDefault switches the default provider. Unknown names are ignored.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		r.logger.Warn("set default ignored: provider %q not registered", name)
		return
	}
	r.defaultName = name
}

// DefaultName returns the current default provider name, or "" when the
// registry is empty.
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Get resolves a provider by name. An empty name resolves the default.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultName
	}
	if name == "" {
		return nil, &core.ProviderNotFoundError{}
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, &core.ProviderNotFoundError{Name: name}
	}
	return p, nil
}

// List returns name, adapter type, configuration state and capabilities for
// every registered provider in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		p := r.providers[name]
		infos = append(infos, Info{
			Name:         name,
			Type:         p.Type(),
			Configured:   p.ValidateConfig(),
			Capabilities: p.Capabilities(),
		})
	}
	return infos
}

// Chat resolves the named-or-default provider and performs a single
// round-trip chat call.
func (r *Registry) Chat(ctx context.Context, name string, messages []core.Message, opts ChatOptions) (*ChatResponse, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return p.Chat(ctx, messages, opts)
}

// Stream resolves the named-or-default provider and starts a streaming call.
func (r *Registry) Stream(ctx context.Context, name string, messages []core.Message, opts ChatOptions) (<-chan core.Chunk, <-chan error, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, nil, err
	}
	return p.Stream(ctx, messages, opts)
}
