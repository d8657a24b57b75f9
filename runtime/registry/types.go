// Package registry is the source of truth for callable functions. It stores
// function metadata and schemas, serves lookups through a read-through cache
// and records usage statistics that feed ranking elsewhere in the runtime.
package registry

import (
	"context"
	"errors"
	"time"

	syncpkg "github.com/ioc-platform/agentcore/runtime/sync"
)

type (
	// FunctionSpec describes a callable external API function.
	FunctionSpec struct {
		// ID uniquely identifies the function (stable across updates).
		ID string `json:"function_id" bson:"function_id"`
		// Name is the human-readable function name.
		Name string `json:"name" bson:"name"`
		// Description explains what the function does; it feeds embeddings.
		Description string `json:"description" bson:"description"`
		// Domain groups functions by business area (e.g. "energy").
		Domain string `json:"domain" bson:"domain"`
		// Endpoint is the absolute URL invoked by the executor.
		Endpoint string `json:"endpoint" bson:"endpoint"`
		// Method is the HTTP method (GET, POST, PUT, DELETE).
		Method string `json:"method" bson:"method"`
		// Parameters declares the accepted parameters.
		Parameters []ParameterSpec `json:"parameters" bson:"parameters"`
		// ResponseSchema optionally documents the shape of the endpoint's
		// response for downstream consumers.
		ResponseSchema map[string]any `json:"response_schema,omitempty" bson:"response_schema,omitempty"`
		// CacheTTLSeconds enables result caching for this function when
		// positive; zero means results are never cached.
		CacheTTLSeconds int `json:"cache_ttl_seconds" bson:"cache_ttl_seconds"`
		// TimeoutSeconds bounds each call attempt. Zero falls back to the
		// executor default.
		TimeoutSeconds int `json:"timeout_seconds" bson:"timeout_seconds"`
		// Tags carry free-form labels used by list filters.
		Tags []string `json:"tags,omitempty" bson:"tags,omitempty"`
		// AuthRequired marks endpoints needing a bearer token.
		AuthRequired bool `json:"auth_required" bson:"auth_required"`
		// Deprecated functions stay callable; every execution logs a warning.
		Deprecated bool `json:"deprecated" bson:"deprecated"`
		// Version counts revisions of the spec; Update bumps it.
		Version int `json:"version" bson:"version"`

		// Usage statistics, maintained by RecordUsage.
		CallCount    int64      `json:"call_count" bson:"call_count"`
		AvgLatencyMs float64    `json:"avg_latency_ms" bson:"avg_latency_ms"`
		SuccessRate  float64    `json:"success_rate" bson:"success_rate"`
		LastCalledAt *time.Time `json:"last_called_at,omitempty" bson:"last_called_at,omitempty"`

		CreatedAt time.Time `json:"created_at" bson:"created_at"`
		UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	}

	// ParameterSpec declares a single function parameter and its constraints.
	ParameterSpec struct {
		Name        string   `json:"name" bson:"name"`
		Type        string   `json:"type" bson:"type"` // string, number, integer, boolean, array, object
		Description string   `json:"description,omitempty" bson:"description,omitempty"`
		Required    bool     `json:"required" bson:"required"`
		Minimum     *float64 `json:"minimum,omitempty" bson:"minimum,omitempty"`
		Maximum     *float64 `json:"maximum,omitempty" bson:"maximum,omitempty"`
		Pattern     string   `json:"pattern,omitempty" bson:"pattern,omitempty"`
		Enum        []string `json:"enum,omitempty" bson:"enum,omitempty"`
		Default     any      `json:"default,omitempty" bson:"default,omitempty"`
	}

	// Update holds a partial update; nil fields are left untouched.
	Update struct {
		Name            *string
		Description     *string
		Domain          *string
		Endpoint        *string
		Method          *string
		Parameters      []ParameterSpec
		ResponseSchema  map[string]any
		CacheTTLSeconds *int
		TimeoutSeconds  *int
		Tags            []string
		AuthRequired    *bool
		Deprecated      *bool
	}

	// Filter restricts List results.
	Filter struct {
		// Domain matches the function domain exactly when non-empty.
		Domain string
		// Deprecated filters on the deprecated flag when non-nil.
		Deprecated *bool
		// Tags matches functions sharing at least one tag.
		Tags []string
		// Limit and Offset page the result. Limit <= 0 means no limit.
		Limit  int
		Offset int
	}

	// Statistics aggregates registry-wide counters.
	Statistics struct {
		Total      int64            `json:"total"`
		Active     int64            `json:"active"`
		ByDomain   map[string]int64 `json:"by_domain"`
		MostCalled []*FunctionSpec  `json:"most_called"`
	}

	// ImportResult reports the outcome of one BulkImport item.
	ImportResult struct {
		ID      string `json:"function_id"`
		Created bool   `json:"created"`
		Updated bool   `json:"updated"`
		Skipped bool   `json:"skipped"`
		Error   string `json:"error,omitempty"`
	}

	// Store persists function specs. Implementations must couple the spec
	// write and the sync event append so neither lands without the other.
	Store interface {
		Create(ctx context.Context, fn *FunctionSpec, evt *syncpkg.Event) error
		Get(ctx context.Context, id string) (*FunctionSpec, error)
		Update(ctx context.Context, fn *FunctionSpec, evt *syncpkg.Event) error
		Delete(ctx context.Context, id string, evt *syncpkg.Event) error
		List(ctx context.Context, filter Filter) ([]*FunctionSpec, int64, error)
		Search(ctx context.Context, query string, limit int) ([]*FunctionSpec, error)
		RecordUsage(ctx context.Context, id string, latencyMs float64, success bool) error
		Statistics(ctx context.Context) (*Statistics, error)
	}
)

// EntityTypeFunction is the entity type recorded on registry sync events.
const EntityTypeFunction = "function"

var (
	// ErrNotFound is returned when no function matches the given ID.
	ErrNotFound = errors.New("function not found")
	// ErrExists is returned when creating a function whose ID is taken.
	ErrExists = errors.New("function already exists")
)

// Clone returns a deep copy of the spec so callers can mutate freely.
func (f *FunctionSpec) Clone() *FunctionSpec {
	if f == nil {
		return nil
	}
	cp := *f
	if f.Parameters != nil {
		cp.Parameters = make([]ParameterSpec, len(f.Parameters))
		copy(cp.Parameters, f.Parameters)
	}
	if f.ResponseSchema != nil {
		cp.ResponseSchema = make(map[string]any, len(f.ResponseSchema))
		for k, v := range f.ResponseSchema {
			cp.ResponseSchema[k] = v
		}
	}
	if f.Tags != nil {
		cp.Tags = append([]string(nil), f.Tags...)
	}
	return &cp
}

// ParameterNames returns the declared parameter names in order.
func (f *FunctionSpec) ParameterNames() []string {
	names := make([]string, len(f.Parameters))
	for i, p := range f.Parameters {
		names[i] = p.Name
	}
	return names
}

// apply merges the partial update into the spec.
func (u Update) apply(fn *FunctionSpec) {
	if u.Name != nil {
		fn.Name = *u.Name
	}
	if u.Description != nil {
		fn.Description = *u.Description
	}
	if u.Domain != nil {
		fn.Domain = *u.Domain
	}
	if u.Endpoint != nil {
		fn.Endpoint = *u.Endpoint
	}
	if u.Method != nil {
		fn.Method = *u.Method
	}
	if u.Parameters != nil {
		fn.Parameters = u.Parameters
	}
	if u.ResponseSchema != nil {
		fn.ResponseSchema = u.ResponseSchema
	}
	if u.CacheTTLSeconds != nil {
		fn.CacheTTLSeconds = *u.CacheTTLSeconds
	}
	if u.TimeoutSeconds != nil {
		fn.TimeoutSeconds = *u.TimeoutSeconds
	}
	if u.Tags != nil {
		fn.Tags = u.Tags
	}
	if u.AuthRequired != nil {
		fn.AuthRequired = *u.AuthRequired
	}
	if u.Deprecated != nil {
		fn.Deprecated = *u.Deprecated
	}
}
