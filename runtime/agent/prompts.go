package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ioc-platform/agentcore/runtime/agent/run"
	"github.com/ioc-platform/agentcore/runtime/selector"
)

// actionIndicators in a thought signal the model wants to call a function.
var actionIndicators = []string{
	"need to call",
	"should call",
	"will call",
	"execute",
	"invoke",
	"use function",
	"call the function",
}

// functionNameRe matches the "Function: name" line of an act completion.
var functionNameRe = regexp.MustCompile(`(?i)Function:\s*(\w+)`)

// shouldAct reports whether the thought asks for a function call.
func shouldAct(thought string) bool {
	lower := strings.ToLower(thought)
	for _, ind := range actionIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// extractFunctionName pulls the chosen function out of an act completion.
// Falls back to the first snake_case token when the expected format is
// missing.
func extractFunctionName(text string) string {
	if m := functionNameRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	for _, word := range strings.Fields(text) {
		if strings.Contains(word, "_") && isAlnumUnderscore(word) {
			return word
		}
	}
	return ""
}

func isAlnumUnderscore(word string) bool {
	for _, r := range word {
		if r == '_' {
			continue
		}
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return word != ""
}

// reflection is the parsed outcome of a reflect completion.
type reflection struct {
	content string
	quality float64
	proceed bool
}

// parseReflection reads the Quality and Continue lines of a reflect
// completion. Unparseable responses default to quality 0.5 and continuing.
func parseReflection(text string) reflection {
	r := reflection{content: text, quality: 0.5, proceed: true}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		switch {
		case strings.HasPrefix(line, "Quality:"):
			if v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "Quality:")), 64); err == nil {
				r.quality = v
			}
		case strings.HasPrefix(line, "Continue:"):
			answer := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "Continue:")))
			r.proceed = answer == "yes" || answer == "true" || answer == "có"
		}
	}
	return r
}

// formatFunctionsDetailed renders full candidate descriptions for the think
// prompt.
func formatFunctionsDetailed(candidates []selector.Candidate) string {
	if len(candidates) == 0 {
		return "No functions available"
	}
	sep := strings.Repeat("=", 60)
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "\n%s\n", sep)
		fmt.Fprintf(&b, "FUNCTION %d: %s\n", i+1, c.Name)
		fmt.Fprintf(&b, "%s\n", sep)
		fmt.Fprintf(&b, "ID: %s\n", c.ID)
		fmt.Fprintf(&b, "Category: %s\n", c.Category)
		fmt.Fprintf(&b, "\nDescription:\n  %s\n", c.Description)
		if len(c.Parameters) > 0 {
			fmt.Fprintf(&b, "Parameters: %s\n", strings.Join(c.Parameters, ", "))
		}
	}
	return b.String()
}

// thinkPrompt asks the model what to do next given the top candidates and
// recent thoughts.
func thinkPrompt(state *run.State, candidates []selector.Candidate) string {
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}
	var history strings.Builder
	for _, t := range state.LastThoughts(2) {
		content := t.Content
		if len(content) > 100 {
			content = content[:100]
		}
		fmt.Fprintf(&history, "Thought %d: %s\n", t.Step, content)
	}
	prior := strings.TrimSuffix(history.String(), "\n")
	if prior == "" {
		prior = "None"
	}
	return fmt.Sprintf(`You are a helpful AI assistant. Think step by step.

User Query: %s

Available Functions:
%s

Previous Thoughts:
%s

What should you think about next?
1. Do you understand the query?
2. Which function(s) might help?
3. What parameters are needed?

Thought:`, state.Query, formatFunctionsDetailed(candidates), prior)
}

// actPrompt asks the model to commit to one function.
func actPrompt(state *run.State, candidates []selector.Candidate) string {
	latest := "None"
	if len(state.Thoughts) > 0 {
		latest = state.Thoughts[len(state.Thoughts)-1].Content
	}
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}
	var list strings.Builder
	for i, c := range candidates {
		desc := c.Description
		if desc == "" {
			desc = "No description"
		}
		if len(desc) > 80 {
			desc = desc[:80]
		}
		fmt.Fprintf(&list, "%d. %s: %s\n", i+1, c.Name, desc)
	}
	return fmt.Sprintf(`Based on your analysis, decide which function to call.

Query: %s
Latest Thought: %s

Available Functions:
%s
Choose ONE function. Format:
Function: <function_name>
Reasoning: <why this function>

Action:`, state.Query, latest, list.String())
}

// reflectPrompt asks the model to judge progress after the latest
// observation.
func reflectPrompt(state *run.State) string {
	obs := "No observations yet"
	if len(state.Observations) > 0 {
		latest := state.Observations[len(state.Observations)-1]
		if latest.Success {
			data := fmt.Sprintf("%v", latest.Data)
			if len(data) > 200 {
				data = data[:200]
			}
			obs = "Success: " + data
		} else {
			obs = "Failed: " + latest.Error
		}
	}
	return fmt.Sprintf(`Reflect on your progress.

Query: %s
Latest Observation: %s

Evaluate:
1. Quality (0.0-1.0): Can you answer the query now?
2. Should Continue: Need more information?

Format:
Quality: <score>
Continue: <yes/no>
Reasoning: <explanation>

Reflection:`, state.Query, obs)
}

// finalPrompt asks the model to compose the user-facing answer from the
// collected observations.
func finalPrompt(state *run.State) string {
	var lines []string
	for i, o := range state.Observations {
		if o.Success {
			lines = append(lines, fmt.Sprintf("%d. %v", i+1, o.Data))
		} else {
			lines = append(lines, fmt.Sprintf("%d. Error: %s", i+1, o.Error))
		}
	}
	obs := "No successful observations"
	if len(lines) > 0 {
		obs = strings.Join(lines, "\n")
	}
	return fmt.Sprintf(`Provide a complete answer based on the observations.

Query: %s

Observations:
%s

Provide a clear, helpful answer in Vietnamese:`, state.Query, obs)
}
