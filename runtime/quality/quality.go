// Package quality scores completed runs objectively so the controller can
// decide between completed and incomplete without trusting the model's own
// self-assessment.
package quality

import (
	"strings"

	"github.com/ioc-platform/agentcore/runtime/agent/run"
)

// Component weights. They sum to 1.0.
const (
	completenessWeight = 0.30
	coverageWeight     = 0.30
	reliabilityWeight  = 0.25
	formatWeight       = 0.15
)

// DefaultThreshold separates completed from incomplete runs.
const DefaultThreshold = 0.75

// Score breaks down the weighted quality of a run.
type Score struct {
	Overall      float64 `json:"overall"`
	Completeness float64 `json:"completeness"`
	Coverage     float64 `json:"coverage"`
	Reliability  float64 `json:"reliability"`
	Format       float64 `json:"format_valid"`
}

// Validator computes run quality scores.
type Validator struct {
	// PlannedSteps, when positive, replaces the observation heuristics with
	// plan-based ratios.
	PlannedSteps int
}

// Validate scores the run state.
func (v Validator) Validate(state *run.State) Score {
	completeness := v.completeness(state)
	coverage := v.coverage(state)
	reliability := reliability(state)
	format := formatScore(state.FinalAnswer)

	return Score{
		Overall: completeness*completenessWeight +
			coverage*coverageWeight +
			reliability*reliabilityWeight +
			format*formatWeight,
		Completeness: completeness,
		Coverage:     coverage,
		Reliability:  reliability,
		Format:       format,
	}
}

// completeness estimates whether all needed data was gathered. Without a plan
// the heuristic assumes roughly two observations suffice.
func (v Validator) completeness(state *run.State) float64 {
	if v.PlannedSteps <= 0 {
		return clamp(float64(len(state.Observations)) / 2.0)
	}
	return clamp(float64(state.SuccessfulObservations()) / float64(v.PlannedSteps))
}

// coverage estimates whether all needed functions were called.
func (v Validator) coverage(state *run.State) float64 {
	if v.PlannedSteps <= 0 {
		if len(state.Actions) > 0 {
			return 1.0
		}
		return 0.0
	}
	return clamp(float64(len(state.Actions)) / float64(v.PlannedSteps))
}

// reliability is the success rate of executions.
func reliability(state *run.State) float64 {
	if len(state.Observations) == 0 {
		return 0.0
	}
	return float64(state.SuccessfulObservations()) / float64(len(state.Observations))
}

// formatScore checks that the answer has content, is not a bare error and
// shows some structure.
func formatScore(answer string) float64 {
	if answer == "" {
		return 0.0
	}
	score := 0.0
	if len(answer) > 20 {
		score += 0.4
	}
	if !strings.Contains(strings.ToLower(answer), "error") || len(answer) > 100 {
		score += 0.3
	}
	if strings.Contains(answer, "\n") || hasStructureMarker(answer) {
		score += 0.3
	}
	return clamp(score)
}

func hasStructureMarker(answer string) bool {
	for _, marker := range []string{"1.", "2.", "-", "*"} {
		if strings.Contains(answer, marker) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	return v
}
