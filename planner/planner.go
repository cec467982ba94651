package planner

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/praxisml/maestro/core"
	"github.com/praxisml/maestro/logging"
	"github.com/praxisml/maestro/provider"
)

const systemInstruction = `You are a task planning assistant. Decompose the user's request into a minimal ordered list of sub-tasks.

Respond with ONLY a JSON array, no prose and no markdown fences. Each element must be an object:
  {"type": "<role>", "prompt": "<instruction for the worker>", "priority": <1-10>, "dependencies": [<indices of earlier elements this step needs>]}

"type" must be one of: researcher, coder, analyst, writer, assistant.
"dependencies" may only reference earlier elements of the same array.`

// Options configures a Planner.
type Options struct {
	// Provider names the registry entry used for planning calls. Empty uses
	// the registry default.
	Provider string
	// MaxTokens caps the planning response.
	MaxTokens int
	Logger    logging.Logger
}

// Planner turns a high-level request description into a core.Plan.
type Planner struct {
	registry  *provider.Registry
	provider  string
	maxTokens int
	logger    logging.Logger
}

// New constructs a Planner on top of a provider registry.
func New(registry *provider.Registry, optFns ...func(o *Options)) *Planner {
	opts := Options{MaxTokens: 2048, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Planner{
		registry:  registry,
		provider:  opts.Provider,
		maxTokens: opts.MaxTokens,
		logger:    opts.Logger,
	}
}

// fallback is the single-step plan used whenever the model's output cannot be
// coerced into a valid plan.
func fallback(description string) core.Plan {
	return core.Plan{{Kind: core.RoleGeneral, Prompt: description, Priority: 5}}
}

// Plan issues one non-streaming chat call and parses the response into a
// Plan. Parse failures never surface: the planner falls back to a one-step
// plan so callers always make forward progress. Provider errors do propagate.
func (p *Planner) Plan(ctx context.Context, description string, history []core.Message) (core.Plan, error) {
	messages := make([]core.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, core.NewUserMessage(description))

	resp, err := p.registry.Chat(ctx, p.provider, messages, provider.ChatOptions{
		System:    systemInstruction,
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	plan, ok := parsePlan(resp.Content)
	if !ok {
		p.logger.Warn("planner: unparseable plan output, falling back to single step")
		return fallback(description), nil
	}
	if len(plan) == 0 || !plan.Valid() {
		p.logger.Warn("planner: invalid plan (empty or bad dependency indices), falling back to single step")
		return fallback(description), nil
	}
	return plan, nil
}

// knownRoles is the closed vocabulary matched against idle agents later.
var knownRoles = map[core.AgentRole]bool{
	core.RoleResearcher: true,
	core.RoleCoder:      true,
	core.RoleAnalyst:    true,
	core.RoleWriter:     true,
	core.RoleGeneral:    true,
}

// parsePlan extracts a plan from raw model output. It strips markdown fences,
// attempts a straight unmarshal, and as a last resort runs the text through
// jsonrepair before retrying.
func parsePlan(raw string) (core.Plan, bool) {
	text := stripFences(raw)

	var plan core.Plan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return nil, false
		}
		if err := json.Unmarshal([]byte(repaired), &plan); err != nil {
			return nil, false
		}
	}

	for i := range plan {
		if plan[i].Prompt == "" {
			return nil, false
		}
		// Unknown roles collapse to the general assistant so a creative
		// model cannot produce unroutable steps.
		if !knownRoles[plan[i].Kind] {
			plan[i].Kind = core.RoleGeneral
		}
	}
	return plan, true
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 && !strings.HasPrefix(s, "[") {
		// Drop a language tag such as ```json.
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
