package core

// EventName identifies a lifecycle event emitted by the orchestrator.
type EventName string

const (
	// EventAgentSpawned fires after an agent joins the pool. Payload: *Agent.
	EventAgentSpawned EventName = "agent.spawned"
	// EventAgentTerminated fires after an agent is removed. Payload: *Agent.
	EventAgentTerminated EventName = "agent.terminated"
	// EventTaskCreated fires when a task enters the queue. Payload: *Task.
	EventTaskCreated EventName = "task.created"
	// EventTaskStarted fires when a task transitions to running. Payload: *Task.
	EventTaskStarted EventName = "task.started"
	// EventTaskCompleted fires on successful completion. Payload: *Task.
	EventTaskCompleted EventName = "task.completed"
	// EventTaskFailed fires on failure, including forced termination. Payload: *Task.
	EventTaskFailed EventName = "task.failed"
)
