package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/promptwell/llmbatch/pkg/llm"
)

// Prometheus metrics for admission control.
var (
	admissionGrantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_admission_grants_total",
		Help: "Total admission grants by provider",
	}, []string{"provider"})

	admissionWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_admission_waits_total",
		Help: "Total admission delays by provider",
	}, []string{"provider"})

	admissionWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_admission_wait_seconds",
		Help:    "Admission wait duration by provider",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider"})

	windowRequestsInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "llm_window_requests_in_use",
		Help: "Requests counted in the current rolling window by provider",
	}, []string{"provider"})

	windowTokensInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "llm_window_tokens_in_use",
		Help: "Estimated tokens counted in the current rolling window by provider",
	}, []string{"provider"})
)

// Limiter gates dispatch per provider. Budgets are created lazily with
// default ceilings; SetBudget overrides them.
type Limiter struct {
	mu      sync.Mutex
	budgets map[llm.Provider]*Budget
	logger  zerolog.Logger
}

// NewLimiter creates a limiter with no configured budgets.
func NewLimiter(logger zerolog.Logger) *Limiter {
	return &Limiter{
		budgets: make(map[llm.Provider]*Budget),
		logger:  logger,
	}
}

// SetBudget configures the per-minute ceilings for a provider,
// replacing any existing window state.
func (l *Limiter) SetBudget(p llm.Provider, maxRequestsPerMinute, maxTokensPerMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.budgets[p] = NewBudget(maxRequestsPerMinute, maxTokensPerMinute)
}

func (l *Limiter) budget(p llm.Provider) *Budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.budgets[p]
	if !ok {
		b = NewBudget(DefaultMaxRequestsPerMinute, DefaultMaxTokensPerMinute)
		l.budgets[p] = b
	}
	return b
}

// Reserve attempts a single admission for the provider.
func (l *Limiter) Reserve(p llm.Provider, estTokens int) (bool, time.Duration) {
	b := l.budget(p)
	granted, wait := b.Reserve(estTokens)
	requests, tokens := b.Usage()
	windowRequestsInUse.WithLabelValues(string(p)).Set(float64(requests))
	windowTokensInUse.WithLabelValues(string(p)).Set(float64(tokens))
	if granted {
		admissionGrantsTotal.WithLabelValues(string(p)).Inc()
	}
	return granted, wait
}

// Wait blocks until an admission is granted or ctx ends. Each wait is
// bounded by one window before re-checking, so no caller sleeps past a
// full budget cycle on stale capacity information.
func (l *Limiter) Wait(ctx context.Context, p llm.Provider, estTokens int) error {
	for {
		granted, wait := l.Reserve(p, estTokens)
		if granted {
			return nil
		}

		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		if wait > Window {
			wait = Window
		}

		admissionWaitsTotal.WithLabelValues(string(p)).Inc()
		admissionWaitSeconds.WithLabelValues(string(p)).Observe(wait.Seconds())

		l.logger.Debug().
			Str("provider", string(p)).
			Int("est_tokens", estTokens).
			Dur("wait", wait).
			Msg("Admission delayed, waiting for window capacity")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
