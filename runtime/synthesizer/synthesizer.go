// Package synthesizer produces parameter maps for function calls. Strategies
// run cheapest first: canned templates, regex extraction from the query,
// reuse of prior step results and finally LLM generation. Every candidate is
// validated against the function's parameter schema before it is accepted.
package synthesizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ioc-platform/agentcore/runtime/agent/telemetry"
	"github.com/ioc-platform/agentcore/runtime/model"
	"github.com/ioc-platform/agentcore/runtime/registry"
)

type (
	// Strategy identifies which synthesis path produced the parameters.
	Strategy string

	// Options configures the Synthesizer.
	Options struct {
		// Model backs the LLM generation strategy. Required.
		Model model.Client
		// Logger receives structured logs. Defaults to noop.
		Logger telemetry.Logger
	}

	// Synthesizer generates and validates call parameters.
	Synthesizer struct {
		model  model.Client
		logger telemetry.Logger
	}

	// Result is a successful synthesis.
	Result struct {
		Parameters map[string]any
		Strategy   Strategy
	}
)

const (
	StrategyTemplate     Strategy = "template"
	StrategyExtraction   Strategy = "extraction"
	StrategyContextReuse Strategy = "context_reuse"
	StrategyLLM          Strategy = "llm"
)

// ErrSynthesisFailed is returned when no strategy yields valid parameters.
var ErrSynthesisFailed = errors.New("all synthesis strategies failed")

// New constructs a Synthesizer.
func New(opts Options) (*Synthesizer, error) {
	if opts.Model == nil {
		return nil, errors.New("model client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Synthesizer{model: opts.Model, logger: logger}, nil
}

// Synthesize builds parameters for fn from the query and prior step results.
// Strategies run in fixed order; the first candidate passing validation wins.
func (s *Synthesizer) Synthesize(ctx context.Context, fn *registry.FunctionSpec, query string, previousResults []map[string]any) (*Result, error) {
	if fn == nil {
		return nil, errors.New("function spec is required")
	}

	type attempt struct {
		strategy Strategy
		run      func() (map[string]any, bool)
	}
	attempts := []attempt{
		{StrategyTemplate, func() (map[string]any, bool) { return tryTemplate(query) }},
		{StrategyExtraction, func() (map[string]any, bool) { return tryExtraction(fn, query) }},
		{StrategyContextReuse, func() (map[string]any, bool) { return tryContextReuse(fn, previousResults) }},
		{StrategyLLM, func() (map[string]any, bool) { return s.tryLLM(ctx, fn, query, previousResults) }},
	}

	for _, a := range attempts {
		params, ok := a.run()
		if !ok || params == nil {
			continue
		}
		if err := Validate(fn, params); err != nil {
			s.logger.Warn(ctx, "synthesized parameters rejected",
				"strategy", string(a.strategy), "function", fn.Name, "err", err)
			continue
		}
		s.logger.Info(ctx, "parameters synthesized", "strategy", string(a.strategy), "function", fn.Name)
		return &Result{Parameters: params, Strategy: a.strategy}, nil
	}
	return nil, ErrSynthesisFailed
}

// tryTemplate matches the query against canned templates for common requests.
func tryTemplate(query string) (map[string]any, bool) {
	for _, tpl := range templates {
		for _, p := range tpl.patterns {
			if p.MatchString(query) {
				params := make(map[string]any, len(tpl.parameters))
				for k, v := range tpl.parameters {
					params[k] = v
				}
				return params, true
			}
		}
	}
	return nil, false
}

// tryExtraction pulls known parameter values out of the query with regexes.
// Succeeds only when every required parameter was extracted.
func tryExtraction(fn *registry.FunctionSpec, query string) (map[string]any, bool) {
	params := make(map[string]any)
	for kind, pairs := range extractors {
		target := matchingParameter(fn, kind)
		if target == "" {
			continue
		}
		for _, pv := range pairs {
			if pv.pattern.MatchString(query) {
				params[target] = pv.value
				break
			}
		}
	}
	if len(params) == 0 {
		return nil, false
	}
	for _, p := range fn.Parameters {
		if p.Required {
			if _, ok := params[p.Name]; !ok {
				return nil, false
			}
		}
	}
	return params, true
}

// matchingParameter finds a declared parameter whose name relates to the
// extractor kind (substring match either way).
func matchingParameter(fn *registry.FunctionSpec, kind string) string {
	for _, p := range fn.Parameters {
		name := strings.ToLower(p.Name)
		if strings.Contains(name, kind) || strings.Contains(kind, name) {
			return p.Name
		}
	}
	return ""
}

// tryContextReuse fills required parameters from prior step results.
func tryContextReuse(fn *registry.FunctionSpec, previousResults []map[string]any) (map[string]any, bool) {
	if len(previousResults) == 0 {
		return nil, false
	}
	params := make(map[string]any)
	for _, result := range previousResults {
		for _, p := range fn.Parameters {
			if !p.Required {
				continue
			}
			if _, have := params[p.Name]; have {
				continue
			}
			if v, ok := result[p.Name]; ok {
				params[p.Name] = v
			}
		}
	}
	for _, p := range fn.Parameters {
		if p.Required {
			if _, ok := params[p.Name]; !ok {
				return nil, false
			}
		}
	}
	if len(params) == 0 {
		return nil, false
	}
	return params, true
}

// jsonObjectRe grabs the first JSON object from a completion.
var jsonObjectRe = regexp.MustCompile(`(?s)\{.+\}`)

// tryLLM asks the model to produce a JSON parameter object.
func (s *Synthesizer) tryLLM(ctx context.Context, fn *registry.FunctionSpec, query string, previousResults []map[string]any) (map[string]any, bool) {
	var schema strings.Builder
	for _, p := range fn.Parameters {
		req := "optional"
		if p.Required {
			req = "REQUIRED"
		}
		desc := p.Description
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(&schema, "- %s (%s, %s): %s\n", p.Name, p.Type, req, desc)
	}

	var contextStr strings.Builder
	if len(previousResults) > 0 {
		contextStr.WriteString("\n\nPrevious results:\n")
		start := 0
		if len(previousResults) > 3 {
			start = len(previousResults) - 3
		}
		for i, r := range previousResults[start:] {
			b, _ := json.Marshal(r)
			fmt.Fprintf(&contextStr, "- Step %d: %s\n", start+i+1, b)
		}
	}

	prompt := fmt.Sprintf(`Extract parameters for this function call.

Query: %s

Function: %s
Description: %s

Parameters:
%s%s
Extract ONLY the needed parameters. Return valid JSON.

JSON:`, query, fn.Name, fn.Description, schema.String(), contextStr.String())

	resp, err := s.model.Complete(ctx, &model.Request{
		Messages:  []model.Message{model.UserMessage(prompt)},
		MaxTokens: 300,
	})
	if err != nil {
		s.logger.Error(ctx, "llm synthesis failed", "function", fn.Name, "err", err)
		return nil, false
	}

	text := strings.TrimSpace(resp.Text)
	raw := text
	if m := jsonObjectRe.FindString(text); m != "" {
		raw = m
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		s.logger.Warn(ctx, "llm synthesis returned invalid JSON", "function", fn.Name, "err", err)
		return nil, false
	}
	return params, true
}

type template struct {
	patterns   []*regexp.Regexp
	parameters map[string]any
}

type patternValue struct {
	pattern *regexp.Regexp
	value   string
}

// templates map recurring query shapes straight to parameters, skipping the
// model entirely.
var templates = map[string]template{
	"energy_north_today": {
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(năng lượng|điện|energy).*(miền bắc|bắc|north).*(hôm nay|today|hiện tại)`),
			regexp.MustCompile(`(?i)(miền bắc|bắc|north).*(năng lượng|điện|energy).*(hôm nay|today)`),
		},
		parameters: map[string]any{"region": "North", "period": "today", "metric": "total_energy"},
	},
	"energy_south_today": {
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(năng lượng|điện|energy).*(miền nam|nam|south).*(hôm nay|today|hiện tại)`),
		},
		parameters: map[string]any{"region": "South", "period": "today", "metric": "total_energy"},
	},
	"comparison_north_south": {
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)so sánh.*(bắc|north).*(nam|south)`),
			regexp.MustCompile(`(?i)so sánh.*(nam|south).*(bắc|north)`),
		},
		parameters: map[string]any{"regions": []string{"North", "South"}, "metric": "total_energy", "period": "today"},
	},
}

// extractors pull individual parameter values out of free text.
var extractors = map[string][]patternValue{
	"region": {
		{regexp.MustCompile(`(?i)miền\s*bắc|bắc|north`), "North"},
		{regexp.MustCompile(`(?i)miền\s*nam|nam|south`), "South"},
		{regexp.MustCompile(`(?i)miền\s*trung|trung|central`), "Central"},
	},
	"period": {
		{regexp.MustCompile(`(?i)hôm nay|today|hiện tại|current`), "today"},
		{regexp.MustCompile(`(?i)hôm qua|yesterday`), "yesterday"},
		{regexp.MustCompile(`(?i)tuần này|this week`), "this_week"},
		{regexp.MustCompile(`(?i)tuần trước|last week`), "last_week"},
		{regexp.MustCompile(`(?i)tháng này|this month`), "this_month"},
	},
	"metric": {
		{regexp.MustCompile(`(?i)năng lượng|energy`), "total_energy"},
		{regexp.MustCompile(`(?i)công suất|power|capacity`), "power_output"},
		{regexp.MustCompile(`(?i)tải|load|demand`), "load_demand"},
	},
}
