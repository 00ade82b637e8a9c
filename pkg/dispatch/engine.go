// Package dispatch owns concurrent execution of admitted requests
// against provider endpoints: bounded concurrency, retry with
// exponential backoff, failure classification, and optional completion
// caching and circuit breaking per provider.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/promptwell/llmbatch/pkg/cache"
	"github.com/promptwell/llmbatch/pkg/llm"
	"github.com/promptwell/llmbatch/pkg/provider"
	"github.com/promptwell/llmbatch/pkg/ratelimit"
)

// Prometheus metrics for dispatch operations.
var (
	llmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_requests_total",
		Help: "Total provider requests by provider and status",
	}, []string{"provider", "status"})

	llmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_request_duration_seconds",
		Help:    "Provider request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider"})

	llmErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_errors_total",
		Help: "Total request errors by class",
	}, []string{"class"})

	llmRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_retries_total",
		Help: "Total retry attempts by error class",
	}, []string{"class"})

	llmRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"class"})

	llmRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_retry_exhausted_total",
		Help: "Total requests that exhausted their attempt budget by error class",
	}, []string{"class"})

	llmBreakerOpenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_breaker_open_total",
		Help: "Total requests short-circuited by an open circuit breaker",
	}, []string{"provider"})
)

// ProviderConfig holds the per-provider dispatch settings.
type ProviderConfig struct {
	// Endpoint overrides the adapter's default completion endpoint.
	Endpoint string

	// APIKey is the credential string attached to every request.
	APIKey string

	// MaxRequestsPerMinute and MaxTokensPerMinute set the rolling
	// window budgets (defaults 50 / 100000).
	MaxRequestsPerMinute int
	MaxTokensPerMinute   int

	// MaxAttempts bounds dispatch attempts per request (default 5).
	MaxAttempts int

	// MaxConcurrency bounds in-flight requests to this provider
	// (default 5).
	MaxConcurrency int

	// RequestTimeout bounds each network call (default 90s).
	RequestTimeout time.Duration

	// Backoff shapes the retry delays.
	Backoff BackoffConfig

	// EnableBreaker wraps network calls in a circuit breaker that opens
	// after sustained failures.
	EnableBreaker bool
}

type providerState struct {
	adapter provider.Adapter
	cfg     ProviderConfig
	sem     chan struct{}
	breaker *gobreaker.CircuitBreaker
}

// Engine executes normalized requests against registered providers.
type Engine struct {
	mu         sync.RWMutex
	providers  map[llm.Provider]*providerState
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	cache      *cache.Manager
	cacheTTL   time.Duration
	logger     zerolog.Logger
}

// NewEngine creates an engine gated by the given limiter.
func NewEngine(limiter *ratelimit.Limiter, logger zerolog.Logger) *Engine {
	return &Engine{
		providers:  make(map[llm.Provider]*providerState),
		httpClient: &http.Client{},
		limiter:    limiter,
		logger:     logger,
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (e *Engine) SetHTTPClient(client *http.Client) {
	e.httpClient = client
}

// SetCache enables the completion cache. Successful responses are
// stored for ttl; hits skip admission and the network entirely.
func (e *Engine) SetCache(m *cache.Manager, ttl time.Duration) {
	e.cache = m
	e.cacheTTL = ttl
}

// RegisterProvider wires an adapter, rate budget, concurrency bound and
// optional breaker for a provider. A missing credential is a
// configuration error; nothing is dispatched to an unregistered
// provider.
func (e *Engine) RegisterProvider(p llm.Provider, cfg ProviderConfig) error {
	adapter, err := provider.ForProvider(p)
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return &llm.ConfigurationError{Reason: "missing credential for provider " + string(p)}
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = adapter.DefaultEndpoint()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoffConfig()
	}

	state := &providerState{
		adapter: adapter,
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrency),
	}

	if cfg.EnableBreaker {
		state.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "llm-" + string(p),
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < 10 {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
		})
	}

	e.limiter.SetBudget(p, cfg.MaxRequestsPerMinute, cfg.MaxTokensPerMinute)

	e.mu.Lock()
	e.providers[p] = state
	e.mu.Unlock()

	e.logger.Info().
		Str("provider", string(p)).
		Str("endpoint", cfg.Endpoint).
		Int("max_attempts", cfg.MaxAttempts).
		Int("max_concurrency", cfg.MaxConcurrency).
		Msg("Provider registered")
	return nil
}

func (e *Engine) provider(p llm.Provider) (*providerState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state, ok := e.providers[p]
	return state, ok
}

// Execute runs a single request to a final outcome. The returned
// Result always has Index 0; batch callers re-key by position.
func (e *Engine) Execute(ctx context.Context, req *llm.Request) llm.Result {
	return e.execute(ctx, 0, req)
}

// ExecuteBatch executes the given requests concurrently and returns
// results in input order, one per request, regardless of completion
// order. Per-provider concurrency bounds still apply.
func (e *Engine) ExecuteBatch(ctx context.Context, reqs []*llm.Request) []llm.Result {
	results := make([]llm.Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *llm.Request) {
			defer wg.Done()
			results[i] = e.execute(ctx, i, req)
		}(i, req)
	}
	wg.Wait()
	return results
}

func (e *Engine) execute(ctx context.Context, index int, req *llm.Request) llm.Result {
	req.EnsureID()

	if err := req.Validate(); err != nil {
		llmErrorsTotal.WithLabelValues(string(ErrorClassConfig)).Inc()
		return llm.FailedResult(index, req.ID, err)
	}

	state, ok := e.provider(req.Provider)
	if !ok {
		llmErrorsTotal.WithLabelValues(string(ErrorClassConfig)).Inc()
		return llm.FailedResult(index, req.ID, &llm.ConfigurationError{
			Reason: "provider " + string(req.Provider) + " not registered",
		})
	}

	payload, err := state.adapter.WirePayload(req)
	if err != nil {
		llmErrorsTotal.WithLabelValues(string(ErrorClassConfig)).Inc()
		return llm.FailedResult(index, req.ID, &llm.ConfigurationError{Reason: err.Error()})
	}

	// Cache hits cost neither budget nor a network call.
	if e.cache != nil {
		key := cache.NewKey(string(req.Provider), req.Model, payload)
		if entry, err := e.cache.Get(ctx, key); err == nil {
			e.logger.Debug().
				Str("provider", string(req.Provider)).
				Str("request_id", req.ID).
				Msg("Completion cache hit")
			return llm.Result{
				Index:     index,
				RequestID: req.ID,
				Raw:       entry.Response,
				Params:    payload,
				Success:   true,
			}
		}
	}

	estTokens := provider.EstimateTokens(req)

	// Concurrency slot for this provider.
	select {
	case state.sem <- struct{}{}:
		defer func() { <-state.sem }()
	case <-ctx.Done():
		return llm.FailedResult(index, req.ID, fmt.Errorf("%w: %v", llm.ErrCancelled, ctx.Err()))
	}

	start := time.Now()
	defer func() {
		llmRequestDuration.WithLabelValues(string(req.Provider)).Observe(time.Since(start).Seconds())
	}()

	backoff := state.cfg.Backoff.InitialBackoff
	var lastErr error
	var lastRaw json.RawMessage

	for attempt := 1; attempt <= state.cfg.MaxAttempts; attempt++ {
		// Each attempt, including retries, re-enters admission and
		// consumes budget again.
		if err := e.limiter.Wait(ctx, req.Provider, estTokens); err != nil {
			return llm.FailedResult(index, req.ID, fmt.Errorf("%w: %v", llm.ErrCancelled, err))
		}

		raw, err := e.roundTrip(ctx, req.Provider, state, payload)
		if err == nil {
			if attempt > 1 {
				e.logger.Info().
					Str("provider", string(req.Provider)).
					Str("request_id", req.ID).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			llmRequestsTotal.WithLabelValues(string(req.Provider), "ok").Inc()

			if e.cache != nil && e.cacheTTL > 0 {
				key := cache.NewKey(string(req.Provider), req.Model, payload)
				if cerr := e.cache.Set(ctx, key, cache.NewEntry(raw, e.cacheTTL)); cerr != nil {
					e.logger.Warn().Err(cerr).Msg("Failed to cache completion")
				}
			}

			return llm.Result{
				Index:     index,
				RequestID: req.ID,
				Raw:       raw,
				Params:    payload,
				Success:   true,
			}
		}

		lastErr = err
		lastRaw = raw
		class := classify(err)
		llmErrorsTotal.WithLabelValues(string(class)).Inc()

		if !llm.Retryable(err) {
			e.logger.Warn().
				Err(err).
				Str("provider", string(req.Provider)).
				Str("request_id", req.ID).
				Str("class", string(class)).
				Msg("Fatal request error, not retrying")
			result := llm.FailedResult(index, req.ID, err)
			result.Raw = raw
			result.Params = payload
			return result
		}

		if attempt == state.cfg.MaxAttempts {
			break
		}

		wait := jittered(backoff)
		llmRetriesTotal.WithLabelValues(string(class)).Inc()
		llmRetryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		e.logger.Debug().
			Str("provider", string(req.Provider)).
			Str("request_id", req.ID).
			Int("attempt", attempt).
			Str("class", string(class)).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			return llm.FailedResult(index, req.ID, fmt.Errorf("%w: %v", llm.ErrCancelled, ctx.Err()))
		case <-time.After(wait):
		}
		backoff = state.cfg.Backoff.next(backoff)
	}

	class := classify(lastErr)
	llmRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
	e.logger.Warn().
		Err(lastErr).
		Str("provider", string(req.Provider)).
		Str("request_id", req.ID).
		Int("max_attempts", state.cfg.MaxAttempts).
		Msg("Attempt budget exhausted")

	result := llm.FailedResult(index, req.ID,
		fmt.Errorf("%w after %d attempts: %w", llm.ErrAttemptsExhausted, state.cfg.MaxAttempts, lastErr))
	result.Raw = lastRaw
	result.Params = payload
	return result
}

// outcome carries a completed HTTP exchange through the breaker.
type outcome struct {
	status int
	body   []byte
}

// roundTrip performs one network attempt and classifies the result.
// The call runs on a timeout-only context so a caller cancellation
// lets in-flight requests finish; their results are simply discarded.
func (e *Engine) roundTrip(ctx context.Context, p llm.Provider, state *providerState, payload []byte) (json.RawMessage, error) {
	do := func() (*outcome, error) {
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), state.cfg.RequestTimeout)
		defer cancel()

		httpReq, err := state.adapter.NewHTTPRequest(reqCtx, state.cfg.Endpoint, state.cfg.APIKey, payload)
		if err != nil {
			return nil, &llm.ConfigurationError{Reason: err.Error()}
		}

		resp, err := e.httpClient.Do(httpReq)
		if err != nil {
			return nil, &llm.TransientNetworkError{Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &llm.TransientNetworkError{Err: err}
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return &outcome{resp.StatusCode, body}, &llm.RateLimitError{StatusCode: resp.StatusCode, Body: truncate(body)}
		case resp.StatusCode >= 500:
			return &outcome{resp.StatusCode, body}, &llm.TransientNetworkError{StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
		default:
			return &outcome{resp.StatusCode, body}, nil
		}
	}

	var out *outcome
	var err error
	if state.breaker != nil {
		var v interface{}
		v, err = state.breaker.Execute(func() (interface{}, error) { return do() })
		if o, ok := v.(*outcome); ok {
			out = o
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			llmBreakerOpenTotal.WithLabelValues(string(p)).Inc()
			err = &llm.TransientNetworkError{Err: err}
		}
	} else {
		out, err = do()
	}

	if err != nil {
		var raw json.RawMessage
		if out != nil {
			raw = out.body
			llmRequestsTotal.WithLabelValues(string(p), strconv.Itoa(out.status)).Inc()
		} else {
			llmRequestsTotal.WithLabelValues(string(p), "network_error").Inc()
		}
		return raw, err
	}

	// 4xx other than rate limit is a fatal rejection.
	if out.status >= 400 {
		llmRequestsTotal.WithLabelValues(string(p), strconv.Itoa(out.status)).Inc()
		return out.body, &llm.RequestRejectedError{StatusCode: out.status, Body: truncate(out.body)}
	}

	if !json.Valid(out.body) {
		return out.body, &llm.DecodeError{Err: fmt.Errorf("response is not valid JSON (%d bytes)", len(out.body))}
	}

	return out.body, nil
}

// truncate bounds error bodies kept in error strings.
func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
