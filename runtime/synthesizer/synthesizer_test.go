package synthesizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioc-platform/agentcore/runtime/model"
	"github.com/ioc-platform/agentcore/runtime/registry"
)

type fakeModel struct {
	response string
	err      error
	calls    int
}

func (f *fakeModel) Complete(context.Context, *model.Request) (*model.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &model.Response{Text: f.response}, nil
}

func newSynthesizer(t *testing.T, m model.Client) *Synthesizer {
	t.Helper()
	s, err := New(Options{Model: m})
	require.NoError(t, err)
	return s
}

// energyFn declares the region/period/metric shape the canned templates fill.
func energyFn() *registry.FunctionSpec {
	return &registry.FunctionSpec{
		ID:   "get_energy_kpi",
		Name: "get_energy_kpi",
		Parameters: []registry.ParameterSpec{
			{Name: "region", Type: "string", Required: true},
			{Name: "period", Type: "string", Required: true},
			{Name: "metric", Type: "string"},
		},
	}
}

func TestSynthesizeTemplateStrategy(t *testing.T) {
	m := &fakeModel{}
	s := newSynthesizer(t, m)

	res, err := s.Synthesize(context.Background(), energyFn(), "năng lượng miền bắc hôm nay", nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyTemplate, res.Strategy)
	assert.Equal(t, "North", res.Parameters["region"])
	assert.Equal(t, "today", res.Parameters["period"])
	assert.Zero(t, m.calls, "templates bypass the model")
}

func TestSynthesizeExtractionStrategy(t *testing.T) {
	m := &fakeModel{}
	s := newSynthesizer(t, m)

	// No template matches, but both required parameters extract from the text.
	res, err := s.Synthesize(context.Background(), energyFn(), "power usage in the south yesterday", nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyExtraction, res.Strategy)
	assert.Equal(t, "South", res.Parameters["region"])
	assert.Equal(t, "yesterday", res.Parameters["period"])
	assert.Equal(t, "power_output", res.Parameters["metric"])
	assert.Zero(t, m.calls)
}

func TestSynthesizeExtractionRequiresAllRequired(t *testing.T) {
	m := &fakeModel{response: `{"region": "North", "period": "today"}`}
	s := newSynthesizer(t, m)

	// Only the region extracts; the missing required period pushes synthesis
	// down to the model.
	res, err := s.Synthesize(context.Background(), energyFn(), "something about the north", nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyLLM, res.Strategy)
	assert.Equal(t, 1, m.calls)
}

func TestSynthesizeContextReuseStrategy(t *testing.T) {
	m := &fakeModel{}
	s := newSynthesizer(t, m)

	previous := []map[string]any{
		{"region": "Central"},
		{"period": "this_week", "unrelated": 1},
	}
	res, err := s.Synthesize(context.Background(), energyFn(), "and the same breakdown please", previous)
	require.NoError(t, err)
	assert.Equal(t, StrategyContextReuse, res.Strategy)
	assert.Equal(t, "Central", res.Parameters["region"])
	assert.Equal(t, "this_week", res.Parameters["period"])
	assert.NotContains(t, res.Parameters, "unrelated")
	assert.Zero(t, m.calls)
}

func TestSynthesizeLLMStrategyParsesFencedJSON(t *testing.T) {
	m := &fakeModel{response: "Here you go:\n{\"region\": \"North\", \"period\": \"today\"}\nDone."}
	s := newSynthesizer(t, m)

	res, err := s.Synthesize(context.Background(), energyFn(), "give me the numbers", nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyLLM, res.Strategy)
	assert.Equal(t, "North", res.Parameters["region"])
}

func TestSynthesizeInvalidLLMOutputFails(t *testing.T) {
	// The model hallucinates a parameter the function does not declare.
	m := &fakeModel{response: `{"region": "North", "period": "today", "made_up": true}`}
	s := newSynthesizer(t, m)

	_, err := s.Synthesize(context.Background(), energyFn(), "give me the numbers", nil)
	assert.ErrorIs(t, err, ErrSynthesisFailed)
}

func TestSynthesizeModelErrorFails(t *testing.T) {
	m := &fakeModel{err: errors.New("provider down")}
	s := newSynthesizer(t, m)

	_, err := s.Synthesize(context.Background(), energyFn(), "give me the numbers", nil)
	assert.ErrorIs(t, err, ErrSynthesisFailed)
}

func TestSynthesizeNilFunction(t *testing.T) {
	s := newSynthesizer(t, &fakeModel{})
	_, err := s.Synthesize(context.Background(), nil, "q", nil)
	assert.Error(t, err)
}

func TestTryTemplateComparison(t *testing.T) {
	params, ok := tryTemplate("so sánh điện miền bắc và miền nam")
	require.True(t, ok)
	assert.Equal(t, []string{"North", "South"}, params["regions"])

	_, ok = tryTemplate("completely unrelated text")
	assert.False(t, ok)
}
