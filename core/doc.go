// Package core provides the foundational domain types shared across maestro. It
// defines the canonical shapes every provider adapter normalizes into:
//
//   - Message / Chunk / Usage (conversational content and streaming increments)
//   - Capabilities (static, informational adapter metadata)
//   - Agent (a stateful worker bound to one provider/model/system prompt)
//   - Task (a unit of work with a lifecycle state machine)
//   - Plan (a dependency-annotated decomposition of a complex request)
//   - Lifecycle event names and the error taxonomy
//
// The package intentionally keeps implementation concerns (HTTP transports,
// scheduling, persistence) out of scope, exposing plain data types and small
// state-machine guards so the orchestrator and provider packages can share a
// vocabulary without depending on each other.
package core
