package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/praxisml/maestro/core"
	"github.com/praxisml/maestro/internal/util"
	"github.com/praxisml/maestro/logging"
	"github.com/praxisml/maestro/planner"
	"github.com/praxisml/maestro/provider"
)

const defaultTaskTimeout = 5 * time.Minute

// rolePrompts are the default system prompts for spawned agents. A caller
// supplied SystemPrompt always wins.
var rolePrompts = map[core.AgentRole]string{
	core.RoleResearcher: "You are a research specialist. Gather, verify and summarize information relevant to the task.",
	core.RoleCoder:      "You are a software engineer. Write clear, correct code and explain key decisions briefly.",
	core.RoleAnalyst:    "You are a data analyst. Examine the inputs, identify patterns and draw grounded conclusions.",
	core.RoleWriter:     "You are a technical writer. Produce clear, well structured prose for the requested audience.",
	core.RoleGeneral:    "You are a capable general assistant. Complete the task accurately and concisely.",
}

// AgentConfig describes a new agent. Zero values fall back to the general
// role, the registry default provider and the role's stock system prompt.
type AgentConfig struct {
	Name         string         `json:"name,omitempty"`
	Role         core.AgentRole `json:"role,omitempty"`
	Provider     string         `json:"provider,omitempty"`
	Model        string         `json:"model,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
}

// TaskConfig describes a new task. Timeout overrides the orchestrator-wide
// task timeout for this task only.
type TaskConfig struct {
	Kind     core.AgentRole `json:"kind,omitempty"`
	Prompt   string         `json:"prompt"`
	Context  []core.Message `json:"context,omitempty"`
	Priority int            `json:"priority,omitempty"`
	Timeout  time.Duration  `json:"-"`
}

// Options configures an Orchestrator.
type Options struct {
	// TaskTimeout bounds each task's provider call. Defaults to 5 minutes.
	TaskTimeout time.Duration
	// ContinueOnDependencyFailure lets a complex-task step run even when a
	// dependency failed; the failure is spliced into the step's context as a
	// marker message. When false (the default) the dependent step fails
	// immediately with a dependency error.
	ContinueOnDependencyFailure bool
	// Planner overrides the planner built from the registry.
	Planner *planner.Planner
	Logger  logging.Logger
}

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	Agents     []core.AgentSnapshot `json:"agents"`
	Tasks      core.TaskCounts      `json:"tasks"`
	QueueDepth int                  `json:"queue_depth"`
	Providers  []provider.Info      `json:"providers"`
}

// Orchestrator owns an agent pool and a task queue on top of a provider
// registry. All mutable state is guarded by mu; event handlers always run
// with mu released.
type Orchestrator struct {
	registry             *provider.Registry
	planner              *planner.Planner
	logger               logging.Logger
	taskTimeout          time.Duration
	continueOnDepFailure bool

	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	agents     map[string]*core.Agent
	tasks      map[string]*core.Task
	queue      []string
	timeouts   map[string]time.Duration
	cancels    map[string]context.CancelFunc
	scheduling bool
	closed     bool

	hmu      sync.RWMutex
	handlers map[core.EventName][]Handler
}

// New constructs an orchestrator over the given registry.
func New(registry *provider.Registry, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{TaskTimeout: defaultTaskTimeout, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}
	if opts.Planner == nil {
		opts.Planner = planner.New(registry, func(po *planner.Options) {
			po.Logger = opts.Logger
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		registry:             registry,
		planner:              opts.Planner,
		logger:               opts.Logger,
		taskTimeout:          opts.TaskTimeout,
		continueOnDepFailure: opts.ContinueOnDependencyFailure,
		baseCtx:              ctx,
		cancel:               cancel,
		agents:               make(map[string]*core.Agent),
		tasks:                make(map[string]*core.Task),
		timeouts:             make(map[string]time.Duration),
		cancels:              make(map[string]context.CancelFunc),
		handlers:             make(map[core.EventName][]Handler),
	}
}

// SpawnAgent adds an idle agent to the pool and kicks the scheduling pass so
// it can pick up queued work immediately.
func (o *Orchestrator) SpawnAgent(cfg AgentConfig) *core.Agent {
	o.mu.Lock()
	agent := o.spawnLocked(cfg, core.AgentIdle)
	snapshot := *agent
	o.mu.Unlock()

	o.logger.Info("agent spawned id=%s name=%s role=%s provider=%s", agent.ID, agent.Name, agent.Role, agent.Provider)
	o.emit(core.EventAgentSpawned, &snapshot)
	go o.processQueue()
	return agent
}

func (o *Orchestrator) spawnLocked(cfg AgentConfig, state core.AgentState) *core.Agent {
	role := cfg.Role
	if role == "" {
		role = core.RoleGeneral
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("%s-%d", role, len(o.agents)+1)
	}
	providerName := util.FirstNonEmpty(cfg.Provider, o.registry.DefaultName())
	systemPrompt := util.FirstNonEmpty(cfg.SystemPrompt, rolePrompts[role])
	agent := &core.Agent{
		ID:           core.NewID(),
		Name:         name,
		Role:         role,
		Provider:     providerName,
		Model:        cfg.Model,
		SystemPrompt: systemPrompt,
		State:        state,
	}
	o.agents[agent.ID] = agent
	return agent
}

// TerminateAgent removes the agent, cancels its in-flight provider call and
// force-fails its current task. It reports whether the agent existed.
func (o *Orchestrator) TerminateAgent(id string) bool {
	o.mu.Lock()
	agent, ok := o.agents[id]
	if !ok {
		o.mu.Unlock()
		return false
	}
	delete(o.agents, id)
	cancel := o.cancels[id]
	delete(o.cancels, id)

	var failed *core.Task
	if tid := agent.CurrentTaskID; tid != "" {
		if t := o.tasks[tid]; t != nil && !t.State.Terminal() {
			now := time.Now()
			t.State = core.TaskFailed
			t.Error = core.ErrAgentTerminated.Error()
			t.CompletedAt = &now
			delete(o.timeouts, t.ID)
			cp := *t
			failed = &cp
		}
	}
	snapshot := *agent
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.logger.Info("agent terminated id=%s name=%s", agent.ID, agent.Name)
	if failed != nil {
		o.emit(core.EventTaskFailed, failed)
	}
	o.emit(core.EventAgentTerminated, &snapshot)
	return true
}

// CreateTask registers a pending task, enqueues it and kicks the scheduling
// pass. The returned task is the live record; its mutable fields are owned by
// the orchestrator.
func (o *Orchestrator) CreateTask(cfg TaskConfig) *core.Task {
	task := o.newTask(cfg)
	o.mu.Lock()
	o.queue = append(o.queue, task.ID)
	o.mu.Unlock()
	go o.processQueue()
	return task
}

// GetTask looks up a task by id.
func (o *Orchestrator) GetTask(id string) (*core.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	return t, ok
}

func (o *Orchestrator) newTask(cfg TaskConfig) *core.Task {
	kind := cfg.Kind
	if kind == "" {
		kind = core.RoleGeneral
	}
	task := &core.Task{
		ID:        core.NewID(),
		Kind:      kind,
		Prompt:    cfg.Prompt,
		Context:   cfg.Context,
		Priority:  cfg.Priority,
		State:     core.TaskPending,
		CreatedAt: time.Now(),
	}
	o.mu.Lock()
	o.tasks[task.ID] = task
	if cfg.Timeout > 0 {
		o.timeouts[task.ID] = cfg.Timeout
	}
	snapshot := *task
	o.mu.Unlock()
	o.emit(core.EventTaskCreated, &snapshot)
	return task
}

// processQueue drains the queue. Only one pass runs at a time; concurrent
// kicks while a pass is active are no-ops because the active pass rechecks
// the queue before clearing the flag. The head is pushed back and the pass
// stops when no agent is idle; releasing an agent kicks a new pass.
func (o *Orchestrator) processQueue() {
	o.mu.Lock()
	if o.scheduling || o.closed {
		o.mu.Unlock()
		return
	}
	o.scheduling = true
	o.mu.Unlock()

	for {
		o.mu.Lock()
		if o.closed || len(o.queue) == 0 {
			o.scheduling = false
			o.mu.Unlock()
			return
		}
		id := o.queue[0]
		o.queue = o.queue[1:]
		task := o.tasks[id]
		if task == nil || task.State != core.TaskPending {
			// Force-failed while queued.
			o.mu.Unlock()
			continue
		}
		agent := o.idleLocked(task.Kind)
		if agent == nil {
			o.queue = append([]string{id}, o.queue...)
			o.scheduling = false
			o.mu.Unlock()
			return
		}
		agent.State = core.AgentWorking
		o.mu.Unlock()

		// Failures are recorded on the task itself; the pass moves on.
		_, _ = o.runTask(o.baseCtx, agent, task)
	}
}

// idleLocked picks an idle agent, preferring a role match over any idle
// agent. Callers must hold mu.
func (o *Orchestrator) idleLocked(kind core.AgentRole) *core.Agent {
	var anyIdle *core.Agent
	for _, a := range o.agents {
		if a.State != core.AgentIdle {
			continue
		}
		if a.Role == kind {
			return a
		}
		if anyIdle == nil {
			anyIdle = a
		}
	}
	return anyIdle
}

// acquireAgent claims an idle agent for the given role, spawning a fresh
// worker when none is available. The returned agent is already marked
// working, so no scheduling pass can grab it.
func (o *Orchestrator) acquireAgent(kind core.AgentRole) *core.Agent {
	o.mu.Lock()
	if a := o.idleLocked(kind); a != nil {
		a.State = core.AgentWorking
		o.mu.Unlock()
		return a
	}
	agent := o.spawnLocked(AgentConfig{Role: kind}, core.AgentWorking)
	snapshot := *agent
	o.mu.Unlock()
	o.emit(core.EventAgentSpawned, &snapshot)
	return agent
}

// runTask executes one task on an already-claimed agent and releases the
// agent in both outcomes. The provider call is bounded by the task's timeout.
func (o *Orchestrator) runTask(ctx context.Context, agent *core.Agent, task *core.Task) (string, error) {
	o.mu.Lock()
	if !task.State.CanTransition(core.TaskRunning) {
		o.mu.Unlock()
		o.release(agent.ID, "")
		return "", fmt.Errorf("task %s is not runnable in state %s", task.ID, task.State)
	}
	task.State = core.TaskRunning
	task.AssignedAgentID = agent.ID
	if a, ok := o.agents[agent.ID]; ok {
		a.CurrentTaskID = task.ID
	}
	timeout := o.taskTimeout
	if d, ok := o.timeouts[task.ID]; ok && d > 0 {
		timeout = d
	}
	started := *task
	o.mu.Unlock()
	o.emit(core.EventTaskStarted, &started)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	o.mu.Lock()
	o.cancels[agent.ID] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.cancels, agent.ID)
		o.mu.Unlock()
	}()

	messages := make([]core.Message, 0, len(task.Context)+1)
	messages = append(messages, task.Context...)
	messages = append(messages, core.NewUserMessage(task.Prompt))

	resp, err := o.registry.Chat(runCtx, agent.Provider, messages, provider.ChatOptions{
		System: agent.SystemPrompt,
		Model:  agent.Model,
	})
	if err != nil {
		o.finishTask(task, "", err)
		o.release(agent.ID, "")
		return "", err
	}
	o.finishTask(task, resp.Content, nil)
	o.release(agent.ID, task.ID)
	return resp.Content, nil
}

// finishTask moves a task to its terminal state and emits the matching
// event. A task that is already terminal (forced termination raced the
// provider call) is left untouched.
func (o *Orchestrator) finishTask(task *core.Task, result string, err error) {
	now := time.Now()
	o.mu.Lock()
	if task.State.Terminal() {
		o.mu.Unlock()
		return
	}
	if err != nil {
		task.State = core.TaskFailed
		task.Error = err.Error()
	} else {
		task.State = core.TaskCompleted
		task.Result = result
	}
	task.CompletedAt = &now
	delete(o.timeouts, task.ID)
	snapshot := *task
	o.mu.Unlock()

	if err != nil {
		o.logger.Info("task failed id=%s error=%s", task.ID, util.Truncate(err.Error(), 200))
		o.emit(core.EventTaskFailed, &snapshot)
	} else {
		o.logger.Info("task completed id=%s result=%s", task.ID, util.Truncate(result, 80))
		o.emit(core.EventTaskCompleted, &snapshot)
	}
}

// release returns an agent to the idle pool and kicks the scheduling pass. A
// terminated agent is gone from the pool and the release is a no-op.
func (o *Orchestrator) release(agentID, completedTaskID string) {
	o.mu.Lock()
	if a, ok := o.agents[agentID]; ok {
		a.State = core.AgentIdle
		a.CurrentTaskID = ""
		if completedTaskID != "" {
			a.CompletedTaskIDs = append(a.CompletedTaskIDs, completedTaskID)
		}
	}
	o.mu.Unlock()
	go o.processQueue()
}

// stepResult is what a finished DAG step publishes to its dependents. The
// close of the step's done channel orders these writes before any read.
type stepResult struct {
	ok     bool
	result string
	errMsg string
}

// ExecuteComplexTask plans the description into a dependency DAG and executes
// it, one goroutine per step. A step blocks only on its own dependencies'
// done channels, so independent branches run concurrently. Dependency results
// are spliced into the dependent step's context as assistant turns. The
// return value holds one string per step in plan order: the step's result, or
// its error message when the step failed (the Task record keeps the state).
func (o *Orchestrator) ExecuteComplexTask(ctx context.Context, description string, history []core.Message) ([]string, error) {
	plan, err := o.planner.Plan(ctx, description, history)
	if err != nil {
		return nil, err
	}
	o.logger.Info("complex task planned steps=%d", len(plan))

	n := len(plan)
	results := make([]stepResult, n)
	done := make([]chan struct{}, n)
	tasks := make([]*core.Task, n)
	for i := range plan {
		done[i] = make(chan struct{})
		tasks[i] = o.newTask(TaskConfig{
			Kind:     plan[i].Kind,
			Prompt:   plan[i].Prompt,
			Priority: plan[i].Priority,
		})
	}

	var wg sync.WaitGroup
	for i := range plan {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer close(done[i])
			o.runStep(ctx, i, plan[i], tasks[i], history, done, results)
		}(i)
	}
	wg.Wait()

	out := make([]string, n)
	for i, r := range results {
		if r.ok {
			out[i] = r.result
		} else {
			out[i] = r.errMsg
		}
	}
	return out, nil
}

func (o *Orchestrator) runStep(ctx context.Context, idx int, step core.PlanStep, task *core.Task, history []core.Message, done []chan struct{}, results []stepResult) {
	depMsgs := make([]core.Message, 0, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		select {
		case <-ctx.Done():
			o.finishTask(task, "", ctx.Err())
			results[idx] = stepResult{errMsg: ctx.Err().Error()}
			return
		case <-done[dep]:
		}
		dr := results[dep]
		if !dr.ok {
			if !o.continueOnDepFailure {
				depErr := &core.DependencyError{StepIndex: idx, DepIndex: dep}
				o.finishTask(task, "", depErr)
				results[idx] = stepResult{errMsg: depErr.Error()}
				return
			}
			depMsgs = append(depMsgs, core.NewAssistantMessage(
				fmt.Sprintf("Step %d failed: %s", dep+1, dr.errMsg)))
			continue
		}
		depMsgs = append(depMsgs, core.NewAssistantMessage(
			fmt.Sprintf("Result of step %d: %s", dep+1, dr.result)))
	}

	stepCtx := make([]core.Message, 0, len(history)+len(depMsgs))
	stepCtx = append(stepCtx, history...)
	stepCtx = append(stepCtx, depMsgs...)
	o.mu.Lock()
	task.Context = stepCtx
	o.mu.Unlock()

	agent := o.acquireAgent(step.Kind)
	result, err := o.runTask(ctx, agent, task)
	if err != nil {
		results[idx] = stepResult{errMsg: err.Error()}
		return
	}
	results[idx] = stepResult{ok: true, result: result}
}

// StreamTask executes one task on a claimed (or freshly spawned) agent and
// forwards the provider's chunks live while accumulating them. Stream
// exhaustion completes the task with the accumulated text; a stream error
// fails it and is forwarded on the error channel.
func (o *Orchestrator) StreamTask(ctx context.Context, cfg TaskConfig) (<-chan core.Chunk, <-chan error, error) {
	task := o.newTask(cfg)
	agent := o.acquireAgent(task.Kind)

	o.mu.Lock()
	task.State = core.TaskRunning
	task.AssignedAgentID = agent.ID
	if a, ok := o.agents[agent.ID]; ok {
		a.CurrentTaskID = task.ID
	}
	timeout := o.taskTimeout
	if d, ok := o.timeouts[task.ID]; ok && d > 0 {
		timeout = d
	}
	started := *task
	o.mu.Unlock()
	o.emit(core.EventTaskStarted, &started)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	o.mu.Lock()
	o.cancels[agent.ID] = cancel
	o.mu.Unlock()

	messages := make([]core.Message, 0, len(task.Context)+1)
	messages = append(messages, task.Context...)
	messages = append(messages, core.NewUserMessage(task.Prompt))

	chunks, errs, err := o.registry.Stream(runCtx, agent.Provider, messages, provider.ChatOptions{
		System: agent.SystemPrompt,
		Model:  agent.Model,
	})
	if err != nil {
		cancel()
		o.mu.Lock()
		delete(o.cancels, agent.ID)
		o.mu.Unlock()
		o.finishTask(task, "", err)
		o.release(agent.ID, "")
		return nil, nil, err
	}

	out := make(chan core.Chunk, 16)
	outErrs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(outErrs)
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.cancels, agent.ID)
			o.mu.Unlock()
		}()

		var acc strings.Builder
		for chunks != nil || errs != nil {
			select {
			case c, ok := <-chunks:
				if !ok {
					chunks = nil
					continue
				}
				acc.WriteString(c.Text)
				select {
				case out <- c:
				case <-runCtx.Done():
					o.finishTask(task, "", runCtx.Err())
					o.release(agent.ID, "")
					outErrs <- runCtx.Err()
					return
				}
			case e, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				if e != nil {
					o.finishTask(task, "", e)
					o.release(agent.ID, "")
					outErrs <- e
					return
				}
			}
		}
		o.finishTask(task, acc.String(), nil)
		o.release(agent.ID, task.ID)
	}()
	return out, outErrs, nil
}

// Status returns a snapshot of agents, task counts, queue depth and
// registered providers. Agents are sorted by name for stable output.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	agents := make([]core.AgentSnapshot, 0, len(o.agents))
	for _, a := range o.agents {
		agents = append(agents, core.AgentSnapshot{
			ID:             a.ID,
			Name:           a.Name,
			Role:           a.Role,
			State:          a.State,
			Provider:       a.Provider,
			CompletedTasks: len(a.CompletedTaskIDs),
		})
	}
	var counts core.TaskCounts
	for _, t := range o.tasks {
		switch t.State {
		case core.TaskPending:
			counts.Pending++
		case core.TaskRunning:
			counts.Running++
		case core.TaskCompleted:
			counts.Completed++
		case core.TaskFailed:
			counts.Failed++
		}
	}
	depth := len(o.queue)
	o.mu.Unlock()

	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return Status{
		Agents:     agents,
		Tasks:      counts,
		QueueDepth: depth,
		Providers:  o.registry.List(),
	}
}

// Cleanup terminates every agent, cancels in-flight work and clears all
// state. The orchestrator accepts no new scheduling after Cleanup.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	o.closed = true
	ids := make([]string, 0, len(o.agents))
	for id := range o.agents {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.TerminateAgent(id)
	}
	o.cancel()

	o.mu.Lock()
	o.tasks = make(map[string]*core.Task)
	o.queue = nil
	o.timeouts = make(map[string]time.Duration)
	o.mu.Unlock()

	o.hmu.Lock()
	o.handlers = make(map[core.EventName][]Handler)
	o.hmu.Unlock()
}
