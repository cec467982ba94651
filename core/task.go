package core

import "time"

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	// TaskPending means the task is queued and not yet assigned.
	TaskPending TaskState = "pending"
	// TaskRunning means an agent is executing the task.
	TaskRunning TaskState = "running"
	// TaskCompleted is a terminal state carrying a result.
	TaskCompleted TaskState = "completed"
	// TaskFailed is a terminal state carrying an error message.
	TaskFailed TaskState = "failed"
)

// Terminal reports whether the state is absorbing. A task never leaves
// completed or failed, and never re-enters pending after leaving it.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransition reports whether the task state machine permits moving from s
// to next. Legal sequences are prefixes of pending -> running -> completed |
// failed, plus pending -> failed for forced termination while still queued.
func (s TaskState) CanTransition(next TaskState) bool {
	switch s {
	case TaskPending:
		return next == TaskRunning || next == TaskFailed
	case TaskRunning:
		return next == TaskCompleted || next == TaskFailed
	default:
		return false
	}
}

// Task is a unit of work submitted to the orchestrator. Everything but the
// State/Result/Error/AssignedAgentID/CompletedAt fields is immutable after
// creation; those mutable fields are owned exclusively by the orchestrator.
type Task struct {
	ID              string     `json:"id"`
	Kind            AgentRole  `json:"kind"`
	Prompt          string     `json:"prompt"`
	Context         []Message  `json:"context,omitempty"`
	Priority        int        `json:"priority"`
	State           TaskState  `json:"state"`
	Result          string     `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	AssignedAgentID string     `json:"assigned_agent_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// TaskCounts aggregates tasks by lifecycle state for status snapshots.
type TaskCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// PlanStep is one sub-task of a Plan. DependsOn holds indices into the same
// plan; a step only becomes runnable once every referenced step completed.
type PlanStep struct {
	Kind      AgentRole `json:"type"`
	Prompt    string    `json:"prompt"`
	Priority  int       `json:"priority"`
	DependsOn []int     `json:"dependencies,omitempty"`
}

// Plan is an ordered, dependency-annotated decomposition of a complex
// request. It exists only transiently: the orchestrator materializes every
// step into a real Task before execution starts.
type Plan []PlanStep

// Valid reports whether every dependency reference points at an earlier step
// of the same plan. Self references, forward references and out-of-range
// indices invalidate the plan.
func (p Plan) Valid() bool {
	for i, step := range p {
		for _, dep := range step.DependsOn {
			if dep < 0 || dep >= i {
				return false
			}
		}
	}
	return true
}
