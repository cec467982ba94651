package core

import (
	"errors"
	"fmt"
)

// ErrAgentTerminated marks a task that failed because its agent was
// explicitly terminated while the task was still pending or running.
var ErrAgentTerminated = errors.New("agent terminated")

// BackendError is a non-success response from a model backend. Message
// carries the backend's own error text verbatim so it survives into
// task.Error unmodified.
type BackendError struct {
	Provider string
	Status   int
	Message  string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: backend returned %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ProviderNotFoundError indicates a chat or stream call named a provider that
// is not registered, or no default provider could be resolved.
type ProviderNotFoundError struct {
	Name string
}

// Error implements the error interface.
func (e *ProviderNotFoundError) Error() string {
	if e.Name == "" {
		return "no provider registered"
	}
	return fmt.Sprintf("provider %q not found", e.Name)
}

// ConfigError indicates missing or invalid provider credentials. It is
// surfaced only when an operation is attempted, never at registration time.
type ConfigError struct {
	Provider string
	Reason   string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: invalid configuration: %s", e.Provider, e.Reason)
}

// DependencyError marks a complex-task step that was not executed because one
// of its dependencies failed.
type DependencyError struct {
	StepIndex int
	DepIndex  int
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	return fmt.Sprintf("step %d: dependency %d failed", e.StepIndex, e.DepIndex)
}
