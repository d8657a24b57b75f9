package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioc-platform/agentcore/runtime/agent/run"
	"github.com/ioc-platform/agentcore/runtime/agent/stream"
	"github.com/ioc-platform/agentcore/runtime/executor"
	"github.com/ioc-platform/agentcore/runtime/memory"
	memorymem "github.com/ioc-platform/agentcore/runtime/memory/store/memory"
	"github.com/ioc-platform/agentcore/runtime/model"
	"github.com/ioc-platform/agentcore/runtime/rag"
	"github.com/ioc-platform/agentcore/runtime/registry"
	registrymem "github.com/ioc-platform/agentcore/runtime/registry/store/memory"
	"github.com/ioc-platform/agentcore/runtime/selector"
	syncmem "github.com/ioc-platform/agentcore/runtime/sync/store/memory"
	"github.com/ioc-platform/agentcore/runtime/synthesizer"
)

// scriptedModel routes completions by prompt prefix so one client can serve
// every phase of the loop.
type scriptedModel struct {
	err     error
	scripts map[string]string
}

func (m *scriptedModel) Complete(_ context.Context, req *model.Request) (*model.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	for prefix, response := range m.scripts {
		if strings.HasPrefix(prompt, prefix) {
			return &model.Response{Text: response}, nil
		}
	}
	return &model.Response{Text: "ok"}, nil
}

type unitEmbedder struct{}

func (unitEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (unitEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (unitEmbedder) Dimension() int { return 3 }

type fixture struct {
	agent    *Agent
	sink     *stream.ChannelSink
	registry *registry.Service
	memory   *memorymem.Store
	builder  *memory.ContextBuilder
}

// happyScripts drive one full think/act/observe/reflect cycle ending in a
// structured Vietnamese answer.
func happyScripts() map[string]string {
	return map[string]string{
		"You are a helpful AI assistant. Think step by step.": "I need to call the energy function to get the data.",
		"Based on your analysis":                              "Function: get_energy_kpi\nReasoning: matches the query",
		"Reflect on your progress.":                           "Quality: 0.9\nContinue: no\nReasoning: data collected",
		"Provide a complete answer":                           "Sản lượng điện miền Bắc hôm nay:\n- Tổng: 450 GWh\n- Đỉnh: 21.3 GW",
	}
}

func newFixture(t *testing.T, m model.Client, endpoint string, seed bool) *fixture {
	t.Helper()
	ctx := context.Background()

	events := syncmem.New()
	store, err := registrymem.New(registrymem.Options{Events: events})
	require.NoError(t, err)
	svc, err := registry.New(registry.Options{Store: store})
	require.NoError(t, err)

	index := rag.NewMemoryIndex()
	if seed {
		fn := &registry.FunctionSpec{
			ID:          "get_energy_kpi",
			Name:        "get_energy_kpi",
			Description: "energy production totals by region",
			Domain:      "energy",
			Endpoint:    endpoint,
			Method:      "GET",
			Parameters: []registry.ParameterSpec{
				{Name: "region", Type: "string", Required: true},
				{Name: "period", Type: "string", Required: true},
				{Name: "metric", Type: "string"},
			},
		}
		_, err = svc.Create(ctx, fn)
		require.NoError(t, err)
		require.NoError(t, index.Upsert(ctx, rag.Document{
			ID:          fn.ID,
			Name:        fn.Name,
			Description: fn.Description,
			Category:    fn.Domain,
			Parameters:  fn.ParameterNames(),
		}, []float32{1, 0, 0}))
	}

	retriever, err := rag.NewRetriever(rag.RetrieverOptions{Embedder: unitEmbedder{}, Index: index})
	require.NoError(t, err)
	sel, err := selector.New(selector.Options{Retriever: retriever, Model: m})
	require.NoError(t, err)
	synth, err := synthesizer.New(synthesizer.Options{Model: m})
	require.NoError(t, err)
	exec, err := executor.New(executor.Options{Usage: svc})
	require.NoError(t, err)

	memStore := memorymem.New()
	builder, err := memory.NewContextBuilder(memory.ContextBuilderOptions{Store: memStore})
	require.NoError(t, err)

	sink := stream.NewChannelSink(64)
	a, err := New(Options{
		Model:       m,
		Selector:    sel,
		Synthesizer: synth,
		Executor:    exec,
		Functions:   svc,
		Context:     builder,
		Sink:        sink,
		MaxSteps:    3,
	})
	require.NoError(t, err)

	return &fixture{agent: a, sink: sink, registry: svc, memory: memStore, builder: builder}
}

func drainEvents(t *testing.T, sink *stream.ChannelSink) []stream.Event {
	t.Helper()
	require.NoError(t, sink.Close(context.Background()))
	var events []stream.Event
	for evt := range sink.Events() {
		events = append(events, evt)
	}
	return events
}

func eventTypes(events []stream.Event) []stream.EventType {
	types := make([]stream.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type()
	}
	return types
}

func TestRunFullLoop(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "North", r.URL.Query().Get("region"))
		assert.Equal(t, "today", r.URL.Query().Get("period"))
		_, _ = w.Write([]byte(`{"total_gwh": 450, "peak_gw": 21.3}`))
	}))
	defer srv.Close()

	f := newFixture(t, &scriptedModel{scripts: happyScripts()}, srv.URL, true)
	conv, err := f.memory.CreateConversation(ctx, "u1", "energy")
	require.NoError(t, err)

	state, err := f.agent.Run(ctx, "u1", conv.ID, "năng lượng miền bắc hôm nay")
	require.NoError(t, err)

	assert.Equal(t, run.StatusCompleted, state.Status)
	assert.GreaterOrEqual(t, state.Quality, 0.75)
	assert.Equal(t, 1, state.Steps)
	require.Len(t, state.Actions, 1)
	assert.Equal(t, "get_energy_kpi", state.Actions[0].FunctionName)
	assert.Equal(t, "template", state.Actions[0].Strategy)
	require.Len(t, state.Observations, 1)
	assert.True(t, state.Observations[0].Success)
	assert.Contains(t, state.FinalAnswer, "450 GWh")

	types := eventTypes(drainEvents(t, f.sink))
	assert.Equal(t, []stream.EventType{
		stream.EventStart,
		stream.EventThought,
		stream.EventAction,
		stream.EventObservation,
		stream.EventFinalAnswer,
		stream.EventComplete,
	}, types)

	// The turn lands in conversation memory with run metadata attached.
	msgs, err := f.memory.RecentMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, state.RunID, msgs[1].Metadata["run_id"])
	assert.Equal(t, "completed", msgs[1].Metadata["status"])

	// Executor usage feeds registry statistics.
	got, err := f.registry.Get(ctx, "get_energy_kpi")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.CallCount)
}

func TestRunNoCandidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &scriptedModel{scripts: happyScripts()}, "http://unused.invalid", false)

	state, err := f.agent.Run(ctx, "u1", "", "truy vấn không khớp")
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, state.Status)
	assert.Zero(t, state.Quality)
	assert.Equal(t, noFunctionsAnswer, state.FinalAnswer)
	assert.Empty(t, state.Actions)
}

func TestRunCategoryPermissionsFilterCandidates(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newFixture(t, &scriptedModel{scripts: happyScripts()}, srv.URL, true)

	profile, err := f.memory.GetOrCreateProfile(ctx, "u1")
	require.NoError(t, err)
	profile.AllowedCategories = []string{"water"}
	require.NoError(t, f.memory.SaveProfile(ctx, profile))

	state, err := f.agent.Run(ctx, "u1", "", "năng lượng miền bắc hôm nay")
	require.NoError(t, err)
	assert.Equal(t, noFunctionsAnswer, state.FinalAnswer)
	assert.Empty(t, state.Actions, "energy functions are off-limits for this user")
}

func TestRunModelFailuresFallBack(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newFixture(t, &scriptedModel{err: errors.New("provider down")}, srv.URL, true)

	state, err := f.agent.Run(ctx, "u1", "", "năng lượng miền bắc hôm nay")
	require.NoError(t, err)

	// Think falls back to canned text, no action fires, reflection defaults
	// to continue, so the loop runs out of steps and stays incomplete.
	assert.Equal(t, run.StatusIncomplete, state.Status)
	assert.Equal(t, 3, state.Steps)
	assert.Empty(t, state.Actions)
	assert.Equal(t, finalFallback, state.FinalAnswer)
	for _, th := range state.Thoughts {
		assert.Equal(t, thinkFallback, th.Content)
	}
}

func TestRunInputValidation(t *testing.T) {
	f := newFixture(t, &scriptedModel{}, "http://unused.invalid", false)

	_, err := f.agent.Run(context.Background(), "", "", "q")
	assert.Error(t, err)
	_, err = f.agent.Run(context.Background(), "u1", "", "")
	assert.Error(t, err)
}

func TestAllowedCandidates(t *testing.T) {
	candidates := []selector.Candidate{
		{Document: rag.Document{ID: "e", Category: "energy"}},
		{Document: rag.Document{ID: "w", Category: "water"}},
	}

	// No profile or no restrictions passes everything through.
	assert.Len(t, allowedCandidates(candidates, nil), 2)
	assert.Len(t, allowedCandidates(candidates, &memory.Profile{}), 2)

	filtered := allowedCandidates(candidates, &memory.Profile{AllowedCategories: []string{"water"}})
	require.Len(t, filtered, 1)
	assert.Equal(t, "w", filtered[0].ID)
}

func TestSuccessfulResults(t *testing.T) {
	state := run.New("r", "s", "u", "q")
	state.AddObservation(run.Observation{Success: true, Data: map[string]any{"region": "North"}})
	state.AddObservation(run.Observation{Success: false, Data: map[string]any{"ignored": true}})
	state.AddObservation(run.Observation{Success: true, Data: "not a map"})

	results := successfulResults(state)
	require.Len(t, results, 1)
	assert.Equal(t, "North", results[0]["region"])
}
