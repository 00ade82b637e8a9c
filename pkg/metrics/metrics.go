// Package metrics provides the central Prometheus registry reference.
// All metrics are defined in their respective packages (dispatch,
// ratelimit, batch, cache) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by this module.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Admission Metrics (pkg/ratelimit):
//   - llm_admission_grants_total{provider} (Counter): Granted reservations
//   - llm_admission_waits_total{provider} (Counter): Delayed reservations
//   - llm_admission_wait_seconds{provider} (Histogram): Admission wait duration
//   - llm_window_requests_in_use{provider} (Gauge): Requests in the rolling window
//   - llm_window_tokens_in_use{provider} (Gauge): Estimated tokens in the rolling window
//
// Dispatch Metrics (pkg/dispatch):
//   - llm_requests_total{provider, status} (Counter): Requests by provider and outcome
//   - llm_request_duration_seconds{provider} (Histogram): End-to-end request duration
//   - llm_errors_total{class} (Counter): Errors by class
//   - llm_retries_total{class} (Counter): Retry attempts by error class
//   - llm_retry_backoff_seconds{class} (Histogram): Backoff duration by error class
//   - llm_retry_exhausted_total{class} (Counter): Requests that ran out of attempts
//   - llm_breaker_open_total{provider} (Counter): Requests short-circuited by the breaker
//
// Batch Metrics (pkg/batch):
//   - llm_batches_total (Counter): Submitted batches
//   - llm_batch_size (Histogram): Requests per batch
//   - llm_batch_duration_seconds (Histogram): End-to-end batch duration
//
// Cache Metrics (pkg/cache):
//   - llm_cache_hits_total{layer="redis"} (Counter): Completion cache hits
//   - llm_cache_misses_total (Counter): Completion cache misses
//   - llm_cache_size_bytes{layer="redis"} (Gauge): Bytes moved through the cache
//   - llm_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(llm_cache_hits_total[5m])) /
//   (sum(rate(llm_cache_hits_total[5m])) + sum(rate(llm_cache_misses_total[5m])))
//
//   # Retry Rate by Class
//   rate(llm_retries_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(llm_request_duration_seconds_bucket[5m]))
//
//   # Window Saturation
//   llm_window_requests_in_use / 50
