// Package planner decomposes a free-form complex request into an ordered,
// dependency-annotated list of sub-tasks by issuing one structured chat call
// to a provider.
//
// The planner is deliberately forgiving about model output: fenced or
// slightly broken JSON is stripped and repaired before parsing, and anything
// that still fails to parse degrades to a single assistant step carrying the
// original request, so the orchestrator always has forward progress even
// under a misbehaving model. Provider errors, by contrast, propagate to the
// caller untouched.
package planner
