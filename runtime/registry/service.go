package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ioc-platform/agentcore/runtime/agent/telemetry"
	syncpkg "github.com/ioc-platform/agentcore/runtime/sync"
)

// defaultCacheTTL is how long Get results stay cached.
const defaultCacheTTL = 600 * time.Second

type (
	// Options configures the registry service.
	Options struct {
		// Store persists function specs. Required.
		Store Store
		// Cache backs the Get read-through cache. Defaults to an in-memory cache.
		Cache Cache
		// CacheTTL overrides the default 600s cache TTL.
		CacheTTL time.Duration
		// Logger receives structured logs. Defaults to noop.
		Logger telemetry.Logger
		// Metrics receives counters. Defaults to noop.
		Metrics telemetry.Metrics
	}

	// Service exposes registry operations. All writes record a sync event in
	// the same store transaction so the vector index can follow.
	Service struct {
		store    Store
		cache    Cache
		cacheTTL time.Duration
		logger   telemetry.Logger
		metrics  telemetry.Metrics
	}
)

// New constructs the registry service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Service{
		store:    opts.Store,
		cache:    cache,
		cacheTTL: ttl,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Create registers a new function. The spec and its insert event land in one
// store transaction. Returns ErrExists when the ID is already taken.
func (s *Service) Create(ctx context.Context, fn *FunctionSpec) (*FunctionSpec, error) {
	if fn == nil {
		return nil, errors.New("function spec is required")
	}
	if fn.ID == "" {
		return nil, errors.New("function id is required")
	}
	if fn.Name == "" {
		return nil, errors.New("function name is required")
	}

	spec := fn.Clone()
	now := time.Now().UTC()
	spec.CreatedAt = now
	spec.UpdatedAt = now
	if spec.Version <= 0 {
		spec.Version = 1
	}

	evt, err := changeEvent(spec.ID, syncpkg.OpInsert, nil, spec)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, spec, evt); err != nil {
		return nil, err
	}

	s.metrics.IncCounter("registry_functions_created", 1, "domain", spec.Domain)
	s.logger.Info(ctx, "function created", "function_id", spec.ID, "domain", spec.Domain)
	return spec.Clone(), nil
}

// Get returns a function by ID through the read-through cache.
func (s *Service) Get(ctx context.Context, id string) (*FunctionSpec, error) {
	if id == "" {
		return nil, errors.New("function id is required")
	}

	if cached, err := s.cache.Get(ctx, id); err == nil && cached != nil {
		s.metrics.IncCounter("registry_cache_hits", 1)
		return cached.Clone(), nil
	}
	s.metrics.IncCounter("registry_cache_misses", 1)

	fn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, id, fn.Clone(), s.cacheTTL); err != nil {
		s.logger.Warn(ctx, "cache set failed", "function_id", id, "err", err)
	}
	return fn, nil
}

// Update applies a partial update, invalidates the cache entry and records an
// update event in the same transaction as the write.
func (s *Service) Update(ctx context.Context, id string, upd Update) (*FunctionSpec, error) {
	if id == "" {
		return nil, errors.New("function id is required")
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := current.Clone()
	upd.apply(updated)
	updated.UpdatedAt = time.Now().UTC()
	updated.Version = current.Version + 1

	evt, err := changeEvent(id, syncpkg.OpUpdate, current, updated)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, updated, evt); err != nil {
		return nil, err
	}

	if err := s.cache.Delete(ctx, id); err != nil {
		s.logger.Warn(ctx, "cache invalidation failed", "function_id", id, "err", err)
	}
	s.logger.Info(ctx, "function updated", "function_id", id)
	return updated.Clone(), nil
}

// Delete removes a function, returning false when it does not exist.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("function id is required")
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	evt, err := changeEvent(id, syncpkg.OpDelete, current, nil)
	if err != nil {
		return false, err
	}
	if err := s.store.Delete(ctx, id, evt); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := s.cache.Delete(ctx, id); err != nil {
		s.logger.Warn(ctx, "cache invalidation failed", "function_id", id, "err", err)
	}
	s.metrics.IncCounter("registry_functions_deleted", 1)
	s.logger.Info(ctx, "function deleted", "function_id", id)
	return true, nil
}

// List returns functions matching the filter plus the total match count.
func (s *Service) List(ctx context.Context, filter Filter) ([]*FunctionSpec, int64, error) {
	return s.store.List(ctx, filter)
}

// Search performs a case-insensitive substring search over name, description
// and ID, ordered by call count descending.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*FunctionSpec, error) {
	if query == "" {
		return nil, errors.New("query is required")
	}
	if limit <= 0 {
		limit = 20
	}
	return s.store.Search(ctx, query, limit)
}

// RecordUsage folds one invocation into the function's running statistics:
// call count increments, latency joins the running average and the success
// rate tracks the running percentage of successful calls.
func (s *Service) RecordUsage(ctx context.Context, id string, latency time.Duration, success bool) error {
	if id == "" {
		return errors.New("function id is required")
	}
	latencyMs := float64(latency) / float64(time.Millisecond)
	if err := s.store.RecordUsage(ctx, id, latencyMs, success); err != nil {
		return err
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	s.metrics.IncCounter("registry_function_calls", 1, "outcome", outcome)
	// Usage stats changed; the cached copy is stale.
	if err := s.cache.Delete(ctx, id); err != nil {
		s.logger.Warn(ctx, "cache invalidation failed", "function_id", id, "err", err)
	}
	return nil
}

// BulkImport registers many functions in one call. Existing IDs are skipped
// unless overwrite is set, in which case they are replaced via Update
// semantics. Each item gets its own result; one failure does not abort the
// batch.
func (s *Service) BulkImport(ctx context.Context, specs []*FunctionSpec, overwrite bool) []ImportResult {
	results := make([]ImportResult, 0, len(specs))
	for _, spec := range specs {
		res := ImportResult{ID: spec.ID}
		_, err := s.Create(ctx, spec)
		switch {
		case err == nil:
			res.Created = true
		case errors.Is(err, ErrExists) && overwrite:
			if _, uerr := s.Update(ctx, spec.ID, replaceUpdate(spec)); uerr != nil {
				res.Error = uerr.Error()
			} else {
				res.Updated = true
			}
		case errors.Is(err, ErrExists):
			res.Skipped = true
		default:
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}

// Statistics reports registry-wide aggregates.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	return s.store.Statistics(ctx)
}

// changeEvent serializes the before/after snapshots into a pending sync event.
func changeEvent(id string, op syncpkg.Operation, oldSpec, newSpec *FunctionSpec) (*syncpkg.Event, error) {
	var oldData, newData json.RawMessage
	if oldSpec != nil {
		b, err := json.Marshal(oldSpec)
		if err != nil {
			return nil, fmt.Errorf("marshal old snapshot: %w", err)
		}
		oldData = b
	}
	if newSpec != nil {
		b, err := json.Marshal(newSpec)
		if err != nil {
			return nil, fmt.Errorf("marshal new snapshot: %w", err)
		}
		newData = b
	}
	return syncpkg.NewEvent(EntityTypeFunction, id, op, oldData, newData), nil
}

// replaceUpdate converts a full spec into an Update touching every mutable
// field.
func replaceUpdate(spec *FunctionSpec) Update {
	return Update{
		Name:            &spec.Name,
		Description:     &spec.Description,
		Domain:          &spec.Domain,
		Endpoint:        &spec.Endpoint,
		Method:          &spec.Method,
		Parameters:      spec.Parameters,
		ResponseSchema:  spec.ResponseSchema,
		CacheTTLSeconds: &spec.CacheTTLSeconds,
		TimeoutSeconds:  &spec.TimeoutSeconds,
		Tags:            spec.Tags,
		AuthRequired:    &spec.AuthRequired,
		Deprecated:      &spec.Deprecated,
	}
}
