// Package executor invokes registry functions over HTTP with retries, result
// caching and usage accounting. It also runs multi-call plans in parallel or
// sequentially with cross-call result references.
package executor

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ioc-platform/agentcore/runtime/agent/telemetry"
	"github.com/ioc-platform/agentcore/runtime/executor/retry"
	"github.com/ioc-platform/agentcore/runtime/registry"
)

type (
	// Cache stores raw API results keyed by function and parameters.
	Cache interface {
		// Get returns the cached value and whether it was present.
		Get(ctx context.Context, key string) ([]byte, bool, error)
		// Set stores the value with the given TTL.
		Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	}

	// UsageRecorder receives per-call statistics. Implemented by the registry
	// service.
	UsageRecorder interface {
		RecordUsage(ctx context.Context, id string, latency time.Duration, success bool) error
	}

	// Options configures the Executor.
	Options struct {
		// Usage records call statistics. Required.
		Usage UsageRecorder
		// Cache backs the result cache. Optional; nil disables caching.
		// Results are cached only for functions whose CacheTTLSeconds is
		// positive, with that value as the entry TTL.
		Cache Cache
		// APIKey is sent as a bearer token for functions with AuthRequired.
		APIKey string
		// UserAgent identifies the runtime in outbound requests. Defaults to
		// "agentcore/0.1.0".
		UserAgent string
		// RequestTimeout bounds one attempt for functions that declare no
		// TimeoutSeconds. Defaults to 30s.
		RequestTimeout time.Duration
		// ConnectTimeout bounds connection establishment. Defaults to 10s.
		ConnectTimeout time.Duration
		// Retry overrides the default retry configuration.
		Retry *retry.Config
		// HTTPClient overrides the built client (primarily for tests).
		HTTPClient *http.Client
		// Logger receives structured logs. Defaults to noop.
		Logger telemetry.Logger
		// Metrics receives counters and timers. Defaults to noop.
		Metrics telemetry.Metrics
	}

	// Executor performs function invocations.
	Executor struct {
		usage          UsageRecorder
		cache          Cache
		apiKey         string
		userAgent      string
		client         *http.Client
		requestTimeout time.Duration
		retryCfg       retry.Config
		logger         telemetry.Logger
		metrics        telemetry.Metrics
	}

	// Result is the outcome of one function invocation.
	Result struct {
		FunctionID    string        `json:"function_id"`
		Success       bool          `json:"success"`
		Data          any           `json:"data,omitempty"`
		Error         string        `json:"error,omitempty"`
		ErrorType     string        `json:"error_type,omitempty"`
		StatusCode    int           `json:"status_code,omitempty"`
		Attempts      int           `json:"attempts"`
		ExecutionTime time.Duration `json:"execution_time"`
		Cached        bool          `json:"cached"`
		Timestamp     time.Time     `json:"timestamp"`
	}
)

// Error classifications surfaced on failed results.
const (
	ErrorTypeTimeout    = "timeout"
	ErrorTypeNetwork    = "network"
	ErrorTypeHTTPStatus = "http_status"
	ErrorTypeValidation = "validation"
)

// New constructs an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Usage == nil {
		return nil, errors.New("usage recorder is required")
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "agentcore/0.1.0"
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		// Per-attempt deadlines come from the request context so functions
		// can declare their own timeout; only the dial is bounded here.
		client = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		}
	}
	retryCfg := retry.DefaultConfig()
	if opts.Retry != nil {
		retryCfg = *opts.Retry
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Executor{
		usage:          opts.Usage,
		cache:          opts.Cache,
		apiKey:         opts.APIKey,
		userAgent:      userAgent,
		client:         client,
		requestTimeout: requestTimeout,
		retryCfg:       retryCfg,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Execute invokes the function with the given parameters. Cached results
// return immediately with zero execution time; only functions declaring a
// positive CacheTTLSeconds are cached. Timeouts and network failures retry
// with exponential backoff; HTTP error statuses are terminal. Usage
// statistics are recorded on success and on failure.
func (e *Executor) Execute(ctx context.Context, fn *registry.FunctionSpec, params map[string]any) *Result {
	if fn == nil {
		return &Result{
			Success:   false,
			Error:     "function spec is required",
			ErrorType: ErrorTypeValidation,
			Timestamp: time.Now().UTC(),
		}
	}
	if fn.Deprecated {
		e.logger.Warn(ctx, "deprecated function called", "function_id", fn.ID)
	}

	key := cacheKey(fn.ID, params)
	useCache := e.cache != nil && fn.CacheTTLSeconds > 0
	if useCache {
		if raw, ok, err := e.cache.Get(ctx, key); err == nil && ok {
			var data any
			if err := json.Unmarshal(raw, &data); err == nil {
				e.metrics.IncCounter("executor_cache_hits", 1)
				return &Result{
					FunctionID: fn.ID,
					Success:    true,
					Data:       data,
					Cached:     true,
					Timestamp:  time.Now().UTC(),
				}
			}
		}
	}

	start := time.Now()
	var (
		body     []byte
		status   int
		attempts int
	)
	err := retry.Do(ctx, e.retryCfg, func(ctx context.Context) error {
		attempts++
		var attemptErr error
		body, status, attemptErr = e.doRequest(ctx, fn, params)
		return attemptErr
	})
	elapsed := time.Since(start)
	e.metrics.RecordTimer("executor_call_duration", elapsed, "function", fn.ID)

	if err != nil {
		e.logger.Error(ctx, "function execution failed", "function_id", fn.ID, "err", err)
		if rerr := e.usage.RecordUsage(ctx, fn.ID, elapsed, false); rerr != nil {
			e.logger.Warn(ctx, "usage recording failed", "function_id", fn.ID, "err", rerr)
		}
		res := &Result{
			FunctionID:    fn.ID,
			Success:       false,
			Error:         err.Error(),
			ErrorType:     classifyError(err),
			Attempts:      attempts,
			ExecutionTime: elapsed,
			Timestamp:     time.Now().UTC(),
		}
		var httpErr *retry.HTTPStatusError
		if errors.As(err, &httpErr) {
			res.StatusCode = httpErr.StatusCode
		}
		return res
	}

	var data any
	if len(body) > 0 {
		if uerr := json.Unmarshal(body, &data); uerr != nil {
			data = string(body)
		}
	}

	if useCache {
		if raw, merr := json.Marshal(data); merr == nil {
			ttl := time.Duration(fn.CacheTTLSeconds) * time.Second
			if cerr := e.cache.Set(ctx, key, raw, ttl); cerr != nil {
				e.logger.Warn(ctx, "result cache set failed", "function_id", fn.ID, "err", cerr)
			}
		}
	}
	if rerr := e.usage.RecordUsage(ctx, fn.ID, elapsed, true); rerr != nil {
		e.logger.Warn(ctx, "usage recording failed", "function_id", fn.ID, "err", rerr)
	}

	return &Result{
		FunctionID:    fn.ID,
		Success:       true,
		Data:          data,
		StatusCode:    status,
		Attempts:      attempts,
		ExecutionTime: elapsed,
		Timestamp:     time.Now().UTC(),
	}
}

// doRequest performs one HTTP attempt, bounded by the function's own timeout
// when it declares one.
func (e *Executor) doRequest(ctx context.Context, fn *registry.FunctionSpec, params map[string]any) ([]byte, int, error) {
	timeout := e.requestTimeout
	if fn.TimeoutSeconds > 0 {
		timeout = time.Duration(fn.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(fn.Method)
	if method == "" {
		method = http.MethodGet
	}

	var reqBody io.Reader
	endpoint := fn.Endpoint
	switch method {
	case http.MethodGet, http.MethodDelete:
		if len(params) > 0 {
			u, err := url.Parse(endpoint)
			if err != nil {
				return nil, 0, fmt.Errorf("parse endpoint: %w", err)
			}
			q := u.Query()
			for k, v := range params {
				q.Set(k, fmt.Sprintf("%v", v))
			}
			u.RawQuery = q.Encode()
			endpoint = u.String()
		}
	default:
		b, err := json.Marshal(params)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal parameters: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", e.userAgent)
	if fn.AuthRequired && e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, resp.StatusCode, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	return body, resp.StatusCode, nil
}

// classifyError maps a terminal execution error onto the result taxonomy.
func classifyError(err error) string {
	var httpErr *retry.HTTPStatusError
	if errors.As(err, &httpErr) {
		return ErrorTypeHTTPStatus
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}
	return ErrorTypeNetwork
}

// cacheKey builds a deterministic key from the function ID and parameters.
// json.Marshal sorts map keys so equal parameter sets share a key.
func cacheKey(functionID string, params map[string]any) string {
	b, err := json.Marshal(params)
	if err != nil {
		b = []byte("{}")
	}
	sum := md5.Sum(b) //nolint:gosec // key derivation, not security
	return fmt.Sprintf("api_result:%s:%s", functionID, hex.EncodeToString(sum[:]))
}
