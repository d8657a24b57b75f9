// Package agent implements the ReAct controller: a bounded
// think/act/observe/reflect loop over the hybrid selector, the parameter
// synthesizer and the executor, scored objectively before the run is
// declared complete.
package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ioc-platform/agentcore/runtime/agent/run"
	"github.com/ioc-platform/agentcore/runtime/agent/stream"
	"github.com/ioc-platform/agentcore/runtime/agent/telemetry"
	"github.com/ioc-platform/agentcore/runtime/executor"
	"github.com/ioc-platform/agentcore/runtime/memory"
	"github.com/ioc-platform/agentcore/runtime/model"
	"github.com/ioc-platform/agentcore/runtime/quality"
	"github.com/ioc-platform/agentcore/runtime/registry"
	"github.com/ioc-platform/agentcore/runtime/selector"
	"github.com/ioc-platform/agentcore/runtime/synthesizer"
)

// Per-phase completion budgets. Timeouts keep a stuck model from consuming
// the whole run; token caps keep intermediate steps short.
const (
	thinkMaxTokens   = 500
	thinkTimeout     = 15 * time.Second
	actMaxTokens     = 300
	actTimeout       = 15 * time.Second
	reflectMaxTokens = 400
	reflectTimeout   = 15 * time.Second
	finalMaxTokens   = 800
	finalTimeout     = 20 * time.Second
)

// defaultMaxSteps bounds loop iterations when Options does not set one.
const defaultMaxSteps = 5

// Fallback texts used when a phase times out.
const (
	thinkFallback   = "I need to analyze the query and determine which function to call."
	reflectFallback = "Quality: 0.5\nContinue: yes\nI need more information."
	finalFallback   = "Xin lỗi, tôi không thể tạo câu trả lời hoàn chỉnh. Vui lòng thử lại."
)

// noFunctionsAnswer is returned when selection yields no candidates.
const noFunctionsAnswer = "Tôi không tìm thấy chức năng phù hợp để trả lời câu hỏi này. " +
	"Vui lòng thử diễn đạt lại câu hỏi hoặc liên hệ hỗ trợ."

type (
	// FunctionSource resolves candidate IDs to full specs. Implemented by the
	// registry service.
	FunctionSource interface {
		Get(ctx context.Context, id string) (*registry.FunctionSpec, error)
	}

	// Options configures the Agent.
	Options struct {
		// Model backs the think, act, reflect and final phases. Required.
		Model model.Client
		// Selector picks candidate functions. Required.
		Selector *selector.Selector
		// Synthesizer builds call parameters. Required.
		Synthesizer *synthesizer.Synthesizer
		// Executor performs the calls. Required.
		Executor *executor.Executor
		// Functions resolves candidates to full specs. Required.
		Functions FunctionSource
		// Context builds run context from memory. Optional; runs without
		// history when nil.
		Context *memory.ContextBuilder
		// Sink receives run events. Defaults to a nop sink.
		Sink stream.Sink
		// MaxSteps bounds loop iterations. Defaults to 5.
		MaxSteps int
		// QualityThreshold separates completed from incomplete runs.
		// Defaults to quality.DefaultThreshold.
		QualityThreshold float64
		// Logger receives structured logs. Defaults to noop.
		Logger telemetry.Logger
		// Metrics receives run counters. Defaults to noop.
		Metrics telemetry.Metrics
	}

	// Agent runs the ReAct loop.
	Agent struct {
		model      model.Client
		selector   *selector.Selector
		synth      *synthesizer.Synthesizer
		executor   *executor.Executor
		functions  FunctionSource
		ctxBuilder *memory.ContextBuilder
		sink       stream.Sink
		maxSteps   int
		threshold  float64
		validator  quality.Validator
		logger     telemetry.Logger
		metrics    telemetry.Metrics
	}
)

// New constructs an Agent.
func New(opts Options) (*Agent, error) {
	if opts.Model == nil {
		return nil, errors.New("model client is required")
	}
	if opts.Selector == nil {
		return nil, errors.New("selector is required")
	}
	if opts.Synthesizer == nil {
		return nil, errors.New("synthesizer is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if opts.Functions == nil {
		return nil, errors.New("function source is required")
	}
	sink := opts.Sink
	if sink == nil {
		sink = stream.NopSink{}
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	threshold := opts.QualityThreshold
	if threshold <= 0 {
		threshold = quality.DefaultThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Agent{
		model:      opts.Model,
		selector:   opts.Selector,
		synth:      opts.Synthesizer,
		executor:   opts.Executor,
		functions:  opts.Functions,
		ctxBuilder: opts.Context,
		sink:       sink,
		maxSteps:   maxSteps,
		threshold:  threshold,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Run executes the full loop for one query and returns the final run state.
// Operational failures are recorded on the state rather than returned; the
// error is reserved for invalid input.
func (a *Agent) Run(ctx context.Context, userID, conversationID, query string) (*run.State, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if query == "" {
		return nil, errors.New("query is required")
	}

	state := run.New(uuid.NewString(), conversationID, userID, query)
	a.logger.Info(ctx, "run started", "run_id", state.RunID, "user_id", userID)
	a.emit(ctx, state, stream.EventStart, stream.StartPayload{Query: query, StartedAt: state.StartedAt})

	rc := a.buildContext(ctx, userID, conversationID, query)

	selection, err := a.selector.Select(ctx, query)
	if err != nil {
		return a.fail(ctx, state, err), nil
	}
	candidates := allowedCandidates(selection.Candidates, rc.Profile)
	a.logger.Info(ctx, "functions selected",
		"run_id", state.RunID, "count", len(candidates),
		"method", string(selection.Method), "confidence", selection.Confidence)

	if len(candidates) == 0 {
		return a.noFunctions(ctx, state), nil
	}

	for state.Steps < a.maxSteps {
		state.Steps++
		step := state.Steps

		thought := a.think(ctx, state, candidates, rc)
		state.AddThought(step, thought)
		a.emit(ctx, state, stream.EventThought, stream.ThoughtPayload{Step: step, Content: thought})

		if shouldAct(thought) {
			if action, spec := a.act(ctx, state, candidates, rc); action != nil {
				state.AddAction(*action)
				a.emit(ctx, state, stream.EventAction, stream.ActionPayload{
					Step:         step,
					FunctionName: action.FunctionName,
					Parameters:   action.Parameters,
				})

				obs := a.observe(ctx, step, spec, action.Parameters)
				state.AddObservation(obs)
				a.emit(ctx, state, stream.EventObservation, stream.ObservationPayload{
					Step:     step,
					Success:  obs.Success,
					Result:   obs.Data,
					Error:    obs.Error,
					Duration: obs.Duration.String(),
				})
			}
		}

		if !a.reflect(ctx, state, rc) {
			a.logger.Info(ctx, "loop finished", "run_id", state.RunID, "steps", step)
			break
		}
	}

	state.FinalAnswer = a.finalAnswer(ctx, state, rc)
	a.emit(ctx, state, stream.EventFinalAnswer, stream.FinalAnswerPayload{Answer: state.FinalAnswer})

	score := a.validator.Validate(state)
	state.Quality = score.Overall
	if score.Overall >= a.threshold {
		state.Status = run.StatusCompleted
	} else {
		state.Status = run.StatusIncomplete
	}
	state.CompletedAt = time.Now().UTC()

	a.saveInteraction(ctx, state)
	a.metrics.IncCounter("agent_runs", 1, "status", string(state.Status))
	a.metrics.RecordTimer("agent_run_duration", state.Duration())
	a.logger.Info(ctx, "run finished",
		"run_id", state.RunID, "status", string(state.Status), "quality", state.Quality)
	a.emit(ctx, state, stream.EventComplete, stream.CompletePayload{
		Status:   string(state.Status),
		Quality:  state.Quality,
		Steps:    state.Steps,
		Duration: state.Duration().String(),
	})
	return state, nil
}

// buildContext loads memory-backed context, falling back to a minimal one
// when the builder is absent or fails.
func (a *Agent) buildContext(ctx context.Context, userID, conversationID, query string) *memory.RunContext {
	if a.ctxBuilder != nil {
		rc, err := a.ctxBuilder.Build(ctx, userID, conversationID, query)
		if err == nil {
			return rc
		}
		a.logger.Warn(ctx, "context build failed", "err", err)
	}
	return &memory.RunContext{
		UserID:         userID,
		ConversationID: conversationID,
		Query:          query,
		Profile:        &memory.Profile{UserID: userID},
	}
}

// think runs one reasoning step. Timeouts fall back to a canned thought so
// the loop keeps moving.
func (a *Agent) think(ctx context.Context, state *run.State, candidates []selector.Candidate, rc *memory.RunContext) string {
	text, err := a.complete(ctx, rc, thinkPrompt(state, candidates), thinkMaxTokens, thinkTimeout)
	if err != nil {
		a.logger.Warn(ctx, "think phase failed", "run_id", state.RunID, "err", err)
		return thinkFallback
	}
	return text
}

// act picks a function and synthesizes its parameters. Returns nil when no
// action could be built this step.
func (a *Agent) act(ctx context.Context, state *run.State, candidates []selector.Candidate, rc *memory.RunContext) (*run.Action, *registry.FunctionSpec) {
	text, err := a.complete(ctx, rc, actPrompt(state, candidates), actMaxTokens, actTimeout)
	if err != nil {
		a.logger.Warn(ctx, "act phase failed", "run_id", state.RunID, "err", err)
		return nil, nil
	}
	name := extractFunctionName(text)
	if name == "" {
		a.logger.Warn(ctx, "no function name in act response", "run_id", state.RunID)
		return nil, nil
	}
	candidate := findCandidate(candidates, name)
	if candidate == nil {
		a.logger.Warn(ctx, "unknown function chosen", "run_id", state.RunID, "function", name)
		return nil, nil
	}
	spec, err := a.functions.Get(ctx, candidate.ID)
	if err != nil {
		a.logger.Error(ctx, "function lookup failed", "run_id", state.RunID, "function_id", candidate.ID, "err", err)
		return nil, nil
	}

	res, err := a.synth.Synthesize(ctx, spec, state.Query, successfulResults(state))
	if err != nil {
		a.logger.Warn(ctx, "parameter synthesis failed",
			"run_id", state.RunID, "function", spec.Name, "err", err)
		return nil, nil
	}
	return &run.Action{
		Step:         state.Steps,
		FunctionID:   spec.ID,
		FunctionName: spec.Name,
		Parameters:   res.Parameters,
		Strategy:     string(res.Strategy),
	}, spec
}

// observe executes the action and records the outcome.
func (a *Agent) observe(ctx context.Context, step int, spec *registry.FunctionSpec, params map[string]any) run.Observation {
	res := a.executor.Execute(ctx, spec, params)
	return run.Observation{
		Step:       step,
		FunctionID: spec.ID,
		Success:    res.Success,
		Data:       res.Data,
		Error:      res.Error,
		Duration:   res.ExecutionTime,
	}
}

// reflect asks the model whether to continue and overrides its self-report
// with the objective quality score. Returns false to stop the loop.
func (a *Agent) reflect(ctx context.Context, state *run.State, rc *memory.RunContext) bool {
	text, err := a.complete(ctx, rc, reflectPrompt(state), reflectMaxTokens, reflectTimeout)
	if err != nil {
		a.logger.Warn(ctx, "reflect phase failed", "run_id", state.RunID, "err", err)
		text = reflectFallback
	}
	parsed := parseReflection(text)

	// The model's self-reported quality is advisory only.
	score := a.validator.Validate(state)
	if score.Overall >= a.threshold {
		return false
	}
	if state.Steps >= a.maxSteps {
		return false
	}
	return parsed.proceed
}

// finalAnswer composes the user-facing answer from the observations.
func (a *Agent) finalAnswer(ctx context.Context, state *run.State, rc *memory.RunContext) string {
	text, err := a.complete(ctx, rc, finalPrompt(state), finalMaxTokens, finalTimeout)
	if err != nil {
		a.logger.Warn(ctx, "final answer failed", "run_id", state.RunID, "err", err)
		return finalFallback
	}
	return text
}

// complete issues one bounded completion with the context's system
// instructions.
func (a *Agent) complete(ctx context.Context, rc *memory.RunContext, prompt string, maxTokens int, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msgs := make([]model.Message, 0, 2)
	if rc.SystemInstructions != "" {
		msgs = append(msgs, model.SystemMessage(rc.SystemInstructions))
	}
	msgs = append(msgs, model.UserMessage(prompt))
	resp, err := a.model.Complete(ctx, &model.Request{Messages: msgs, MaxTokens: maxTokens})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// noFunctions terminates a run for which selection found nothing. The run is
// completed, not failed: there is simply nothing to call.
func (a *Agent) noFunctions(ctx context.Context, state *run.State) *run.State {
	state.FinalAnswer = noFunctionsAnswer
	state.Status = run.StatusCompleted
	state.Quality = 0
	state.CompletedAt = time.Now().UTC()
	a.emit(ctx, state, stream.EventFinalAnswer, stream.FinalAnswerPayload{Answer: state.FinalAnswer})
	a.emit(ctx, state, stream.EventComplete, stream.CompletePayload{
		Status:   string(state.Status),
		Quality:  0,
		Duration: state.Duration().String(),
	})
	a.metrics.IncCounter("agent_runs", 1, "status", "no_functions")
	return state
}

// fail terminates a run after an unrecoverable error.
func (a *Agent) fail(ctx context.Context, state *run.State, err error) *run.State {
	state.Status = run.StatusFailed
	state.CompletedAt = time.Now().UTC()
	a.logger.Error(ctx, "run failed", "run_id", state.RunID, "err", err)
	a.emit(ctx, state, stream.EventError, stream.ErrorPayload{Message: err.Error()})
	a.metrics.IncCounter("agent_runs", 1, "status", string(run.StatusFailed))
	return state
}

// saveInteraction records the turn in conversation memory.
func (a *Agent) saveInteraction(ctx context.Context, state *run.State) {
	if a.ctxBuilder == nil || state.SessionID == "" {
		return
	}
	err := a.ctxBuilder.SaveInteraction(ctx, state.SessionID, state.Query, state.FinalAnswer, map[string]any{
		"run_id":  state.RunID,
		"status":  string(state.Status),
		"quality": state.Quality,
	})
	if err != nil {
		a.logger.Warn(ctx, "interaction save failed", "run_id", state.RunID, "err", err)
	}
}

// emit publishes a run event; sink failures are logged and ignored.
func (a *Agent) emit(ctx context.Context, state *run.State, t stream.EventType, payload any) {
	evt := stream.NewBase(t, state.RunID, state.SessionID, payload)
	if err := a.sink.Send(ctx, evt); err != nil {
		a.logger.Warn(ctx, "event publish failed", "run_id", state.RunID, "type", string(t), "err", err)
	}
}

// allowedCandidates drops candidates outside the profile's permitted
// categories. An empty permission list allows everything.
func allowedCandidates(candidates []selector.Candidate, profile *memory.Profile) []selector.Candidate {
	if profile == nil || len(profile.AllowedCategories) == 0 {
		return candidates
	}
	allowed := make(map[string]struct{}, len(profile.AllowedCategories))
	for _, c := range profile.AllowedCategories {
		allowed[c] = struct{}{}
	}
	var out []selector.Candidate
	for _, c := range candidates {
		if _, ok := allowed[c.Category]; ok {
			out = append(out, c)
		}
	}
	return out
}

func findCandidate(candidates []selector.Candidate, name string) *selector.Candidate {
	lower := strings.ToLower(name)
	for i := range candidates {
		if strings.ToLower(candidates[i].Name) == lower {
			return &candidates[i]
		}
	}
	return nil
}

// successfulResults collects the data of successful observations for
// context-reuse synthesis.
func successfulResults(state *run.State) []map[string]any {
	var out []map[string]any
	for _, o := range state.Observations {
		if !o.Success || o.Data == nil {
			continue
		}
		if m, ok := o.Data.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
