package core

// AgentState is the lifecycle state of an agent worker.
type AgentState string

const (
	// AgentIdle means the agent holds no task and can accept work.
	AgentIdle AgentState = "idle"
	// AgentWorking means the agent is executing exactly one task.
	AgentWorking AgentState = "working"
)

// AgentRole is the closed vocabulary used to match planned sub-tasks to
// agents. The planner is constrained to emit only these values.
type AgentRole string

const (
	RoleResearcher AgentRole = "researcher"
	RoleCoder      AgentRole = "coder"
	RoleAnalyst    AgentRole = "analyst"
	RoleWriter     AgentRole = "writer"
	RoleGeneral    AgentRole = "assistant"
)

// Agent is a stateful worker identity bound to one provider/model/system
// prompt. It executes at most one task at a time; while CurrentTaskID is set
// the referenced task's AssignedAgentID must equal this agent's ID.
//
// Agents are created by the orchestrator's SpawnAgent and mutated only by its
// assignment and execution code.
type Agent struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Role             AgentRole  `json:"role"`
	Provider         string     `json:"provider"`
	Model            string     `json:"model,omitempty"`
	SystemPrompt     string     `json:"system_prompt,omitempty"`
	State            AgentState `json:"state"`
	CurrentTaskID    string     `json:"current_task_id,omitempty"`
	CompletedTaskIDs []string   `json:"completed_task_ids,omitempty"`
}

// AgentSnapshot is the read-only view of an agent returned by status queries.
type AgentSnapshot struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Role           AgentRole  `json:"role"`
	State          AgentState `json:"state"`
	Provider       string     `json:"provider"`
	CompletedTasks int        `json:"completed_tasks"`
}
