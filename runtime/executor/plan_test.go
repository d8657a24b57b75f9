package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioc-platform/agentcore/runtime/registry"
)

func TestResolveParamsWholeReferencePreservesType(t *testing.T) {
	resultCtx := map[string]any{
		"first": map[string]any{"count": float64(3), "items": []any{"a", "b"}},
	}
	params, err := resolveParams(map[string]any{
		"n":     "{{first.count}}",
		"item":  "{{first.items.1}}",
		"plain": "unchanged",
		"num":   7,
	}, resultCtx)
	require.NoError(t, err)

	assert.Equal(t, float64(3), params["n"])
	assert.Equal(t, "b", params["item"])
	assert.Equal(t, "unchanged", params["plain"])
	assert.Equal(t, 7, params["num"])
}

func TestResolveParamsEmbeddedReferenceInterpolates(t *testing.T) {
	resultCtx := map[string]any{"first": map[string]any{"region": "north"}}
	params, err := resolveParams(map[string]any{
		"label": "region is {{first.region}} today",
	}, resultCtx)
	require.NoError(t, err)
	assert.Equal(t, "region is north today", params["label"])
}

func TestResolveParamsUnresolvedWholeReferenceErrors(t *testing.T) {
	_, err := resolveParams(map[string]any{
		"whole": "{{missing.path}}",
	}, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.path")
}

func TestResolveParamsUnresolvedEmbeddedReferenceErrors(t *testing.T) {
	_, err := resolveParams(map[string]any{
		"embedded": "x {{missing.path}} y",
	}, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.path")
}

func TestLookupRefArrayIndex(t *testing.T) {
	resultCtx := map[string]any{
		"call": map[string]any{"rows": []any{
			map[string]any{"id": "r0"},
			map[string]any{"id": "r1"},
		}},
	}
	v, ok := lookupRef("call.rows.1.id", resultCtx)
	require.True(t, ok)
	assert.Equal(t, "r1", v)

	_, ok = lookupRef("call.rows.9.id", resultCtx)
	assert.False(t, ok)
}

func TestExecuteSequentialResolvesAcrossCalls(t *testing.T) {
	var secondQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/first":
			_ = json.NewEncoder(w).Encode(map[string]any{"region": "north"})
		case "/second":
			secondQuery = r.URL.Query().Get("region")
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}
	}))
	defer srv.Close()

	exec, _ := newTestExecutor(t, Options{})
	calls := []Call{
		{
			ID:       "lookup",
			Function: &registry.FunctionSpec{ID: "first", Endpoint: srv.URL + "/first", Method: "GET"},
		},
		{
			ID:         "fetch",
			Function:   &registry.FunctionSpec{ID: "second", Endpoint: srv.URL + "/second", Method: "GET"},
			Parameters: map[string]any{"region": "{{lookup.region}}"},
		},
	}
	results := exec.ExecuteSequential(context.Background(), calls, true)

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.Equal(t, "north", secondQuery)
}

func TestExecuteSequentialStopsOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	exec, _ := newTestExecutor(t, Options{})
	calls := []Call{
		{ID: "a", Function: &registry.FunctionSpec{ID: "a", Endpoint: srv.URL, Method: "GET"}},
		{ID: "b", Function: &registry.FunctionSpec{ID: "b", Endpoint: srv.URL, Method: "GET"}},
	}
	results := exec.ExecuteSequential(context.Background(), calls, true)

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestExecuteSequentialUnresolvedReferenceFailsCall(t *testing.T) {
	var firstHits, secondHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/first":
			firstHits++
			_ = json.NewEncoder(w).Encode(map[string]any{"region": "north"})
		case "/second":
			secondHits++
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}
	}))
	defer srv.Close()

	exec, _ := newTestExecutor(t, Options{})
	calls := []Call{
		{
			ID:       "lookup",
			Function: &registry.FunctionSpec{ID: "first", Endpoint: srv.URL + "/first", Method: "GET"},
		},
		{
			ID:         "fetch",
			Function:   &registry.FunctionSpec{ID: "second", Endpoint: srv.URL + "/second", Method: "GET"},
			Parameters: map[string]any{"region": "{{lookup.no_such_field}}"},
		},
	}
	results := exec.ExecuteSequential(context.Background(), calls, true)

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	require.False(t, results[1].Success)
	assert.Equal(t, ErrorTypeValidation, results[1].ErrorType)
	assert.Contains(t, results[1].Error, "no_such_field")
	assert.Equal(t, 1, firstHits)
	assert.Zero(t, secondHits, "a call with unresolved references never reaches its endpoint")
}

func TestExecuteParallelPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"path": r.URL.Path})
	}))
	defer srv.Close()

	exec, _ := newTestExecutor(t, Options{})
	calls := []Call{
		{Function: &registry.FunctionSpec{ID: "a", Endpoint: srv.URL + "/a", Method: "GET"}},
		{Function: &registry.FunctionSpec{ID: "b", Endpoint: srv.URL + "/b", Method: "GET"}},
		{Function: &registry.FunctionSpec{ID: "c", Endpoint: srv.URL + "/c", Method: "GET"}},
	}
	results := exec.ExecuteParallel(context.Background(), calls)

	require.Len(t, results, 3)
	for i, want := range []string{"a", "b", "c"} {
		require.True(t, results[i].Success)
		data := results[i].Data.(map[string]any)
		assert.Equal(t, "/"+want, data["path"])
	}
}
