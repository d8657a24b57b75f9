package selector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioc-platform/agentcore/runtime/model"
	"github.com/ioc-platform/agentcore/runtime/rag"
)

type fakeModel struct {
	response string
	err      error
	calls    int64
	lastReq  *model.Request
}

func (f *fakeModel) Complete(_ context.Context, req *model.Request) (*model.Response, error) {
	atomic.AddInt64(&f.calls, 1)
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &model.Response{Text: f.response}, nil
}

// flakyEmbedder fails its first n calls, then embeds everything to the same
// unit vector. Lets tests force the semantic tier to fail while the fallback
// pool retrieval succeeds.
type flakyEmbedder struct {
	failures int32
}

func (f *flakyEmbedder) Embed(context.Context, string) ([]float32, error) {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return nil, errors.New("embedding service unavailable")
	}
	return []float32{1, 0, 0}, nil
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *flakyEmbedder) Dimension() int { return 3 }

func seedIndex(t *testing.T, index *rag.MemoryIndex, names ...string) {
	t.Helper()
	for _, name := range names {
		doc := rag.Document{ID: name, Name: name, Description: "retrieves " + name, Category: "energy"}
		require.NoError(t, index.Upsert(context.Background(), doc, []float32{1, 0, 0}))
	}
}

func newTestSelector(t *testing.T, embedder rag.Embedder, index rag.Index, m model.Client) *Selector {
	t.Helper()
	retriever, err := rag.NewRetriever(rag.RetrieverOptions{Embedder: embedder, Index: index})
	require.NoError(t, err)
	s, err := New(Options{Retriever: retriever, Model: m, TopK: 3})
	require.NoError(t, err)
	return s
}

func TestSelectRuleTier(t *testing.T) {
	index := rag.NewMemoryIndex()
	seedIndex(t, index, "get_energy")
	m := &fakeModel{}
	s := newTestSelector(t, &flakyEmbedder{}, index, m)

	// Both comparison patterns match, so the rule score hits 1.0.
	sel, err := s.Select(context.Background(), "compare the difference between north and south")
	require.NoError(t, err)
	assert.Equal(t, MethodRule, sel.Method)
	assert.InDelta(t, 1.0, sel.Confidence, 0.001)
	require.Len(t, sel.Candidates, 1)
	assert.Equal(t, "get_energy", sel.Candidates[0].Name)
	assert.Zero(t, atomic.LoadInt64(&m.calls), "rule tier never consults the model")
	assert.Equal(t, int64(1), s.Stats()[MethodRule])
}

func TestSelectRAGTier(t *testing.T) {
	index := rag.NewMemoryIndex()
	seedIndex(t, index, "get_energy", "get_water")
	m := &fakeModel{}
	s := newTestSelector(t, &flakyEmbedder{}, index, m)

	sel, err := s.Select(context.Background(), "something unrelated to any keyword")
	require.NoError(t, err)
	assert.Equal(t, MethodRAG, sel.Method)
	assert.Greater(t, sel.Confidence, 0.0)
	assert.Len(t, sel.Candidates, 2)
	assert.Zero(t, atomic.LoadInt64(&m.calls))
	assert.Equal(t, int64(1), s.Stats()[MethodRAG])
}

func TestSelectLLMTierOnRetrievalFailure(t *testing.T) {
	index := rag.NewMemoryIndex()
	seedIndex(t, index, "get_energy", "get_water", "get_gas")
	m := &fakeModel{response: `["get_water"]`}
	// First embed (semantic tier) fails; the candidate pool retrieval works.
	s := newTestSelector(t, &flakyEmbedder{failures: 1}, index, m)

	sel, err := s.Select(context.Background(), "plain query")
	require.NoError(t, err)
	assert.Equal(t, MethodLLM, sel.Method)
	assert.InDelta(t, llmConfidence, sel.Confidence, 0.001)
	require.Len(t, sel.Candidates, 1)
	assert.Equal(t, "get_water", sel.Candidates[0].Name)
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.calls))
}

func TestSelectLLMFallsBackOnUnparsableReply(t *testing.T) {
	index := rag.NewMemoryIndex()
	seedIndex(t, index, "get_energy", "get_water")
	m := &fakeModel{response: "I think get_energy is best"}
	s := newTestSelector(t, &flakyEmbedder{failures: 1}, index, m)

	sel, err := s.Select(context.Background(), "plain query")
	require.NoError(t, err)
	assert.Equal(t, MethodLLM, sel.Method)
	// Unparsable completions fall back to the top candidates.
	assert.Len(t, sel.Candidates, 2)
}

func TestSelectEmptyIndex(t *testing.T) {
	s := newTestSelector(t, &flakyEmbedder{}, rag.NewMemoryIndex(), &fakeModel{})

	sel, err := s.Select(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.Empty(t, sel.Candidates)
	assert.Zero(t, sel.Confidence)
}

func TestSelectEmptyQueryErrors(t *testing.T) {
	s := newTestSelector(t, &flakyEmbedder{}, rag.NewMemoryIndex(), &fakeModel{})
	_, err := s.Select(context.Background(), "")
	assert.Error(t, err)
}

func TestParseNameList(t *testing.T) {
	names, err := parseNameList(`["a", "b"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	names, err = parseNameList("```json\n[\"a\"]\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)

	names, err = parseNameList("```\n[\"x\", \"y\"]\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, names)

	_, err = parseNameList("no json here")
	assert.Error(t, err)
}

func TestRAGConfidenceWeighting(t *testing.T) {
	results := []rag.Result{
		{Score: 1.0},
		{Score: 0.5},
	}
	// (1.0*1.0 + 0.5*0.7) / (1.0 + 0.7)
	assert.InDelta(t, 1.35/1.7, ragConfidence(results), 0.0001)

	assert.Zero(t, ragConfidence(nil))

	// Lists longer than the weight table only use the weighted prefix.
	long := make([]rag.Result, 8)
	for i := range long {
		long[i].Score = 1.0
	}
	assert.InDelta(t, 1.0, ragConfidence(long), 0.0001)
}
