package orchestrator

import "github.com/praxisml/maestro/core"

// Handler receives one lifecycle event payload: a *core.Agent copy for agent
// events, a *core.Task copy for task events. Handlers run synchronously on
// the emitting goroutine in registration order.
type Handler func(payload any)

// On registers a handler for the given event name.
func (o *Orchestrator) On(name core.EventName, h Handler) {
	o.hmu.Lock()
	o.handlers[name] = append(o.handlers[name], h)
	o.hmu.Unlock()
}

func (o *Orchestrator) emit(name core.EventName, payload any) {
	o.hmu.RLock()
	hs := make([]Handler, len(o.handlers[name]))
	copy(hs, o.handlers[name])
	o.hmu.RUnlock()
	for _, h := range hs {
		o.invoke(name, h, payload)
	}
}

// invoke runs one handler, recovering a panic so a broken subscriber cannot
// abort the operation that emitted the event.
func (o *Orchestrator) invoke(name core.EventName, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("event handler panicked name=%s: %v", name, r)
		}
	}()
	h(payload)
}
