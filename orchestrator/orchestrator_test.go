package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxisml/maestro/core"
	"github.com/praxisml/maestro/provider"
)

func newTestOrchestrator(t *testing.T, mockFns ...func(o *provider.MockOptions)) (*Orchestrator, *provider.Mock) {
	t.Helper()
	mock := provider.NewMock(mockFns...)
	registry := provider.NewRegistry(nil)
	registry.Register("mock", mock)
	orch := New(registry)
	t.Cleanup(orch.Cleanup)
	return orch, mock
}

func taskEvents(orch *Orchestrator, name core.EventName) <-chan *core.Task {
	ch := make(chan *core.Task, 32)
	orch.On(name, func(payload any) {
		if task, ok := payload.(*core.Task); ok {
			ch <- task
		}
	})
	return ch
}

func waitTask(t *testing.T, ch <-chan *core.Task) *core.Task {
	t.Helper()
	select {
	case task := <-ch:
		return task
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task event")
		return nil
	}
}

func TestEndToEndEcho(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	completed := taskEvents(orch, core.EventTaskCompleted)

	agent := orch.SpawnAgent(AgentConfig{Name: "worker"})
	orch.CreateTask(TaskConfig{Prompt: "hello"})

	task := waitTask(t, completed)
	assert.Equal(t, "ECHO:hello", task.Result)
	assert.Equal(t, core.TaskCompleted, task.State)
	assert.Equal(t, agent.ID, task.AssignedAgentID)
	require.NotNil(t, task.CompletedAt)

	status := orch.Status()
	assert.Equal(t, 1, status.Tasks.Completed)
	assert.Equal(t, 0, status.QueueDepth)
	require.Len(t, status.Agents, 1)
	assert.Equal(t, 1, status.Agents[0].CompletedTasks)
	assert.Equal(t, core.AgentIdle, status.Agents[0].State)
}

func TestAgentMutualExclusion(t *testing.T) {
	orch, _ := newTestOrchestrator(t, func(o *provider.MockOptions) {
		o.Latency = func() time.Duration { return 10 * time.Millisecond }
	})

	var mu sync.Mutex
	running, maxRunning := 0, 0
	orch.On(core.EventTaskStarted, func(any) {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()
	})
	completed := make(chan struct{}, 16)
	orch.On(core.EventTaskCompleted, func(any) {
		mu.Lock()
		running--
		mu.Unlock()
		completed <- struct{}{}
	})

	orch.SpawnAgent(AgentConfig{Name: "solo"})
	const n = 5
	for i := 0; i < n; i++ {
		orch.CreateTask(TaskConfig{Prompt: fmt.Sprintf("task %d", i)})
	}
	for i := 0; i < n; i++ {
		select {
		case <-completed:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for completions")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxRunning, "a single agent must never run two tasks at once")
	assert.Equal(t, n, orch.Status().Tasks.Completed)
}

func TestSchedulingPrefersRoleMatch(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	completed := taskEvents(orch, core.EventTaskCompleted)

	orch.SpawnAgent(AgentConfig{Name: "scribe", Role: core.RoleWriter})
	coder := orch.SpawnAgent(AgentConfig{Name: "dev", Role: core.RoleCoder})

	orch.CreateTask(TaskConfig{Kind: core.RoleCoder, Prompt: "write code"})
	task := waitTask(t, completed)
	assert.Equal(t, coder.ID, task.AssignedAgentID)
}

func TestTaskWaitsForIdleAgent(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	completed := taskEvents(orch, core.EventTaskCompleted)

	orch.CreateTask(TaskConfig{Prompt: "queued"})
	time.Sleep(50 * time.Millisecond)

	status := orch.Status()
	assert.Equal(t, 1, status.Tasks.Pending)
	assert.Equal(t, 1, status.QueueDepth)

	orch.SpawnAgent(AgentConfig{Name: "late"})
	task := waitTask(t, completed)
	assert.Equal(t, "ECHO:queued", task.Result)
}

func TestTerminateAgentForceFailsTask(t *testing.T) {
	orch, _ := newTestOrchestrator(t, func(o *provider.MockOptions) {
		o.Latency = func() time.Duration { return 30 * time.Second }
	})
	started := taskEvents(orch, core.EventTaskStarted)
	failed := taskEvents(orch, core.EventTaskFailed)

	agent := orch.SpawnAgent(AgentConfig{Name: "victim"})
	orch.CreateTask(TaskConfig{Prompt: "doomed"})
	waitTask(t, started)

	begin := time.Now()
	require.True(t, orch.TerminateAgent(agent.ID))

	task := waitTask(t, failed)
	assert.Equal(t, core.TaskFailed, task.State)
	assert.Equal(t, core.ErrAgentTerminated.Error(), task.Error)
	assert.Less(t, time.Since(begin), 5*time.Second, "termination must cancel the in-flight call")

	assert.Empty(t, orch.Status().Agents)
	assert.False(t, orch.TerminateAgent(agent.ID))
}

func TestTaskTimeout(t *testing.T) {
	orch, _ := newTestOrchestrator(t, func(o *provider.MockOptions) {
		o.Latency = func() time.Duration { return time.Second }
	})
	failed := taskEvents(orch, core.EventTaskFailed)

	orch.SpawnAgent(AgentConfig{Name: "slow"})
	orch.CreateTask(TaskConfig{Prompt: "too slow", Timeout: 50 * time.Millisecond})

	task := waitTask(t, failed)
	assert.Contains(t, task.Error, context.DeadlineExceeded.Error())
}

// diamondPlan is A; B and C depend on A; D depends on B and C.
const diamondPlan = `[
	{"type": "researcher", "prompt": "step A", "priority": 8},
	{"type": "coder", "prompt": "step B", "priority": 5, "dependencies": [0]},
	{"type": "analyst", "prompt": "step C", "priority": 5, "dependencies": [0]},
	{"type": "writer", "prompt": "step D", "priority": 3, "dependencies": [1, 2]}
]`

func TestComplexTaskDependencyOrdering(t *testing.T) {
	for round := 0; round < 5; round++ {
		rng := rand.New(rand.NewSource(int64(round)))
		var latencyMu sync.Mutex
		orch, mock := newTestOrchestrator(t, func(o *provider.MockOptions) {
			o.Latency = func() time.Duration {
				latencyMu.Lock()
				defer latencyMu.Unlock()
				return time.Duration(rng.Intn(20)) * time.Millisecond
			}
		})
		mock.AddResponse("ship the feature", diamondPlan)

		var orderMu sync.Mutex
		var order []string
		orch.On(core.EventTaskCompleted, func(payload any) {
			task := payload.(*core.Task)
			orderMu.Lock()
			order = append(order, task.Prompt)
			orderMu.Unlock()
		})

		results, err := orch.ExecuteComplexTask(context.Background(), "ship the feature", nil)
		require.NoError(t, err)
		require.Len(t, results, 4)

		orderMu.Lock()
		pos := make(map[string]int, len(order))
		for i, prompt := range order {
			pos[prompt] = i
		}
		orderMu.Unlock()

		require.Len(t, pos, 4, "round %d: order=%v", round, order)
		assert.Less(t, pos["step A"], pos["step B"], "round %d", round)
		assert.Less(t, pos["step A"], pos["step C"], "round %d", round)
		assert.Less(t, pos["step B"], pos["step D"], "round %d", round)
		assert.Less(t, pos["step C"], pos["step D"], "round %d", round)
	}
}

func TestComplexTaskDependencyFailureAborts(t *testing.T) {
	orch, mock := newTestOrchestrator(t, func(o *provider.MockOptions) {
		o.FailOn = func(input string) error {
			if input == "boom" {
				return errors.New("backend exploded")
			}
			return nil
		}
	})
	mock.AddResponse("risky work", `[
		{"type": "coder", "prompt": "boom", "priority": 5},
		{"type": "writer", "prompt": "summarize", "priority": 3, "dependencies": [0]}
	]`)

	failed := taskEvents(orch, core.EventTaskFailed)

	results, err := orch.ExecuteComplexTask(context.Background(), "risky work", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "backend exploded", results[0])
	assert.Equal(t, (&core.DependencyError{StepIndex: 1, DepIndex: 0}).Error(), results[1])

	byPrompt := make(map[string]*core.Task, 2)
	for i := 0; i < 2; i++ {
		task := waitTask(t, failed)
		byPrompt[task.Prompt] = task
	}
	require.Contains(t, byPrompt, "boom")
	require.Contains(t, byPrompt, "summarize")
	assert.Equal(t, core.TaskFailed, byPrompt["boom"].State)
	assert.Equal(t, core.TaskFailed, byPrompt["summarize"].State)
}

func TestComplexTaskContinueOnDependencyFailure(t *testing.T) {
	mock := provider.NewMock(func(o *provider.MockOptions) {
		o.FailOn = func(input string) error {
			if input == "boom" {
				return errors.New("backend exploded")
			}
			return nil
		}
	})
	mock.AddResponse("risky work", `[
		{"type": "coder", "prompt": "boom", "priority": 5},
		{"type": "writer", "prompt": "summarize", "priority": 3, "dependencies": [0]}
	]`)
	registry := provider.NewRegistry(nil)
	registry.Register("mock", mock)
	orch := New(registry, func(o *Options) {
		o.ContinueOnDependencyFailure = true
	})
	t.Cleanup(orch.Cleanup)

	completed := taskEvents(orch, core.EventTaskCompleted)

	results, err := orch.ExecuteComplexTask(context.Background(), "risky work", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "backend exploded", results[0])
	assert.Equal(t, "ECHO:summarize", results[1])

	second := waitTask(t, completed)
	assert.Equal(t, "summarize", second.Prompt)
	assert.Equal(t, core.TaskCompleted, second.State)

	// The dependency failure is visible to the step as a marker turn.
	require.NotEmpty(t, second.Context)
	assert.Contains(t, second.Context[0].Content, "Step 1 failed")
}

func TestComplexTaskResultsSplicedIntoContext(t *testing.T) {
	orch, mock := newTestOrchestrator(t)
	mock.AddResponse("two steps", `[
		{"type": "researcher", "prompt": "gather facts", "priority": 5},
		{"type": "writer", "prompt": "write it up", "priority": 3, "dependencies": [0]}
	]`)

	completed := taskEvents(orch, core.EventTaskCompleted)

	results, err := orch.ExecuteComplexTask(context.Background(), "two steps", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "ECHO:write it up", results[1])

	var second *core.Task
	for i := 0; i < 2; i++ {
		if task := waitTask(t, completed); task.Prompt == "write it up" {
			second = task
		}
	}
	require.NotNil(t, second)
	require.NotEmpty(t, second.Context)
	assert.Equal(t, core.RoleAssistant, second.Context[0].Role)
	assert.Contains(t, second.Context[0].Content, "ECHO:gather facts")
}

func TestComplexTaskPlannerFallback(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	// The mock echoes the planning prompt, which is not JSON, so the planner
	// degrades to a single step carrying the description.
	results, err := orch.ExecuteComplexTask(context.Background(), "just do the thing", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ECHO:just do the thing", results[0])
	assert.Equal(t, 1, orch.Status().Tasks.Completed)
}

func TestStreamTask(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	completed := taskEvents(orch, core.EventTaskCompleted)

	chunks, errs, err := orch.StreamTask(context.Background(), TaskConfig{Prompt: "hi"})
	require.NoError(t, err)

	var acc strings.Builder
	for c := range chunks {
		acc.WriteString(c.Text)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "ECHO:hi", acc.String())

	task := waitTask(t, completed)
	assert.Equal(t, "ECHO:hi", task.Result)

	status := orch.Status()
	assert.Equal(t, 1, status.Tasks.Completed)
	require.Len(t, status.Agents, 1, "stream auto-spawns a worker when the pool is empty")
}

func TestStreamTaskError(t *testing.T) {
	boom := errors.New("stream refused")
	orch, _ := newTestOrchestrator(t, func(o *provider.MockOptions) {
		o.FailWith = boom
	})
	failed := taskEvents(orch, core.EventTaskFailed)

	_, _, err := orch.StreamTask(context.Background(), TaskConfig{Prompt: "hi"})
	require.ErrorIs(t, err, boom)

	task := waitTask(t, failed)
	assert.Equal(t, core.TaskFailed, task.State)
	assert.Equal(t, boom.Error(), task.Error)
}

func TestEventHandlerPanicIsRecovered(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	called := false
	orch.On(core.EventTaskCreated, func(any) { panic("broken subscriber") })
	orch.On(core.EventTaskCreated, func(any) { called = true })

	task := orch.CreateTask(TaskConfig{Prompt: "survives"})
	require.NotNil(t, task)
	assert.True(t, called, "handlers after a panicking one still run")
}

func TestCleanup(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	completed := taskEvents(orch, core.EventTaskCompleted)

	orch.SpawnAgent(AgentConfig{Name: "a"})
	orch.SpawnAgent(AgentConfig{Name: "b"})
	orch.CreateTask(TaskConfig{Prompt: "hello"})
	waitTask(t, completed)

	orch.Cleanup()
	status := orch.Status()
	assert.Empty(t, status.Agents)
	assert.Equal(t, core.TaskCounts{}, status.Tasks)
	assert.Equal(t, 0, status.QueueDepth)
}

func TestSpawnAgentDefaults(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	agent := orch.SpawnAgent(AgentConfig{})
	assert.Equal(t, core.RoleGeneral, agent.Role)
	assert.Equal(t, "mock", agent.Provider)
	assert.NotEmpty(t, agent.SystemPrompt)
	assert.Equal(t, core.AgentIdle, agent.State)
}
