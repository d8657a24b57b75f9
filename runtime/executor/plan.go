package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ioc-platform/agentcore/runtime/registry"
)

// Call is one invocation within a plan. ID names the call so later calls can
// reference its result.
type Call struct {
	ID         string
	Function   *registry.FunctionSpec
	Parameters map[string]any
}

// templateRe matches {{call_id.dot.path}} references inside parameter values.
var templateRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// ExecuteParallel runs all calls concurrently and returns results in call
// order.
func (e *Executor) ExecuteParallel(ctx context.Context, calls []Call) []*Result {
	results := make([]*Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			results[i] = e.Execute(ctx, call.Function, call.Parameters)
		}(i, call)
	}
	wg.Wait()
	return results
}

// ExecuteSequential runs calls in order, resolving {{call_id.path}} template
// references in parameter values against earlier results. A call whose
// references cannot be resolved fails as a validation error without touching
// the downstream API. When stopOnError is set the plan aborts at the first
// failed call, returning the results so far.
func (e *Executor) ExecuteSequential(ctx context.Context, calls []Call, stopOnError bool) []*Result {
	results := make([]*Result, 0, len(calls))
	resultCtx := make(map[string]any)

	for _, call := range calls {
		params, err := resolveParams(call.Parameters, resultCtx)
		if err != nil {
			e.logger.Warn(ctx, "plan reference resolution failed", "call_id", call.ID, "err", err)
			results = append(results, &Result{
				FunctionID: call.Function.ID,
				Success:    false,
				Error:      err.Error(),
				ErrorType:  ErrorTypeValidation,
				Timestamp:  time.Now().UTC(),
			})
			if stopOnError {
				break
			}
			continue
		}
		res := e.Execute(ctx, call.Function, params)
		results = append(results, res)

		if res.Success {
			key := call.ID
			if key == "" {
				key = call.Function.ID
			}
			resultCtx[key] = res.Data
		} else if stopOnError {
			break
		}
	}
	return results
}

// resolveParams substitutes template references in string parameter values.
// A value that is exactly one reference is replaced by the referenced value
// with its type preserved; embedded references interpolate as text. A
// reference into a missing or failed prior result is an error.
func resolveParams(params map[string]any, resultCtx map[string]any) (map[string]any, error) {
	if len(params) == 0 {
		return params, nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		matches := templateRe.FindAllStringSubmatchIndex(s, -1)
		if len(matches) == 0 {
			out[k] = v
			continue
		}
		// Whole value is a single reference: keep the referenced type.
		if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
			ref := s[matches[0][2]:matches[0][3]]
			resolved, found := lookupRef(ref, resultCtx)
			if !found {
				return nil, fmt.Errorf("parameter %q references unresolved result %q", k, strings.TrimSpace(ref))
			}
			out[k] = resolved
			continue
		}
		var missing string
		out[k] = templateRe.ReplaceAllStringFunc(s, func(m string) string {
			ref := strings.TrimSuffix(strings.TrimPrefix(m, "{{"), "}}")
			if resolved, found := lookupRef(ref, resultCtx); found {
				return fmt.Sprintf("%v", resolved)
			}
			if missing == "" {
				missing = strings.TrimSpace(ref)
			}
			return m
		})
		if missing != "" {
			return nil, fmt.Errorf("parameter %q references unresolved result %q", k, missing)
		}
	}
	return out, nil
}

// lookupRef walks a dotted path (call_id.field.subfield) through the result
// context. Numeric segments index into arrays.
func lookupRef(ref string, resultCtx map[string]any) (any, bool) {
	parts := strings.Split(strings.TrimSpace(ref), ".")
	if len(parts) == 0 {
		return nil, false
	}
	current, ok := resultCtx[parts[0]]
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		switch v := current.(type) {
		case map[string]any:
			current, ok = v[part]
			if !ok {
				return nil, false
			}
		case []any:
			idx := -1
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}
