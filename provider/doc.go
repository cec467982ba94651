// Package provider defines the provider-agnostic abstractions for talking to
// language model backends inside maestro.
//
// Core goals:
//   - Unify single round-trip chat and streaming generation behind one
//     interface (Provider)
//   - Normalize heterogeneous wire protocols into core.Message / core.Chunk /
//     core.Usage shapes
//   - Route calls by name through a Registry with a resolvable default
//   - Facilitate lightweight mocking for tests and examples (Mock)
//
// Concrete adapters (subpackages anthropic, openai, gemini, ollama) each own
// exactly one wire protocol and keep any protocol-specific buffering state
// local to a single stream call. Higher layers (planner, orchestrator) depend
// only on this package.
package provider
