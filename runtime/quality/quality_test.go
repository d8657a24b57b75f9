package quality

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/ioc-platform/agentcore/runtime/agent/run"
)

func stateWith(thoughts, actions, observations, successes int, answer string) *run.State {
	state := run.New("r1", "s1", "u1", "q")
	for i := 0; i < thoughts; i++ {
		state.AddThought(i+1, "thinking")
	}
	for i := 0; i < actions; i++ {
		state.AddAction(run.Action{Step: i + 1, FunctionID: "fn"})
	}
	for i := 0; i < observations; i++ {
		state.AddObservation(run.Observation{Step: i + 1, FunctionID: "fn", Success: i < successes})
	}
	state.FinalAnswer = answer
	return state
}

func TestValidateGoodRun(t *testing.T) {
	answer := "Sản lượng điện miền Bắc hôm nay:\n- Tổng: 450 GWh\n- Đỉnh: 21.3 GW"
	state := stateWith(2, 2, 2, 2, answer)

	score := Validator{}.Validate(state)
	// completeness 1.0, coverage 1.0, reliability 1.0, format 1.0
	assert.InDelta(t, 1.0, score.Overall, 0.0001)
	assert.Equal(t, 1.0, score.Completeness)
	assert.Equal(t, 1.0, score.Coverage)
	assert.Equal(t, 1.0, score.Reliability)
	assert.Equal(t, 1.0, score.Format)
}

func TestValidateNoActions(t *testing.T) {
	state := stateWith(1, 0, 0, 0, "short")

	score := Validator{}.Validate(state)
	assert.Zero(t, score.Coverage)
	assert.Zero(t, score.Reliability)
	assert.Zero(t, score.Completeness)
	assert.Less(t, score.Overall, DefaultThreshold)
}

func TestValidatePartialFailures(t *testing.T) {
	state := stateWith(2, 2, 2, 1, "An answer long enough to earn the length credit, with lines.\nSecond line.")

	score := Validator{}.Validate(state)
	assert.InDelta(t, 0.5, score.Reliability, 0.0001)
	assert.Equal(t, 1.0, score.Completeness, "two observations satisfy the heuristic")
}

func TestValidatePlannedSteps(t *testing.T) {
	state := stateWith(3, 2, 2, 2, "ok")
	v := Validator{PlannedSteps: 4}

	score := v.Validate(state)
	assert.InDelta(t, 0.5, score.Completeness, 0.0001)
	assert.InDelta(t, 0.5, score.Coverage, 0.0001)
}

func TestFormatScore(t *testing.T) {
	assert.Zero(t, formatScore(""))

	// Short single-line answer without structure gets nothing beyond the
	// non-error credit.
	assert.InDelta(t, 0.3, formatScore("ok"), 0.0001)

	// A bare error message loses the non-error credit.
	assert.InDelta(t, 0.0, formatScore("error"), 0.0001)

	// Long answers keep the non-error credit even when they mention errors.
	long := "The first call returned an error but the retry succeeded and produced the following totals for the northern region today"
	assert.InDelta(t, 0.7, formatScore(long), 0.0001)

	// Structure markers earn the final credit.
	assert.InDelta(t, 1.0, formatScore("Results:\n1. North: 450 GWh\n2. South: 380 GWh"), 0.0001)
}

func TestValidateScoreBoundsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("all components and the overall stay within [0,1]", prop.ForAll(
		func(actions, observations, successes int, answer string) bool {
			if successes > observations {
				successes = observations
			}
			state := stateWith(1, actions, observations, successes, answer)
			score := Validator{}.Validate(state)
			for _, v := range []float64{score.Overall, score.Completeness, score.Coverage, score.Reliability, score.Format} {
				if v < 0 || v > 1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 10), gen.IntRange(0, 10), gen.IntRange(0, 10), gen.AlphaString(),
	))

	properties.TestingRun(t)
}
