// Package ratelimit implements per-provider admission control over
// rolling 60-second request and token budgets. A reservation is
// counted the moment it is granted, before the request is dispatched,
// so concurrent grants cannot overshoot the window.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the rolling budget window.
const Window = 60 * time.Second

// Default per-provider ceilings, matching common entry-tier API limits.
const (
	DefaultMaxRequestsPerMinute = 50
	DefaultMaxTokensPerMinute   = 100000
)

// grant records one admitted request inside the window.
type grant struct {
	at     time.Time
	tokens int
}

// Budget tracks requests and tokens consumed within the trailing
// window for a single provider. All mutation happens under mu; a race
// here would double-spend capacity.
type Budget struct {
	mu          sync.Mutex
	maxRequests int
	maxTokens   int
	grants      []grant
	tokensUsed  int
	now         func() time.Time
}

// NewBudget creates a budget with the given per-minute ceilings.
// Non-positive values fall back to the defaults.
func NewBudget(maxRequests, maxTokens int) *Budget {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequestsPerMinute
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokensPerMinute
	}
	return &Budget{
		maxRequests: maxRequests,
		maxTokens:   maxTokens,
		now:         time.Now,
	}
}

// prune drops grants that have left the window. Caller holds mu.
func (b *Budget) prune(now time.Time) {
	cutoff := now.Add(-Window)
	i := 0
	for i < len(b.grants) && !b.grants[i].at.After(cutoff) {
		b.tokensUsed -= b.grants[i].tokens
		i++
	}
	if i > 0 {
		b.grants = append(b.grants[:0], b.grants[i:]...)
	}
}

// Reserve attempts to admit one request consuming estTokens. On grant
// the counters are incremented immediately and wait is zero. Otherwise
// wait is the minimum duration until enough capacity frees for this
// reservation to fit.
//
// A request whose token estimate alone exceeds the token ceiling is
// admitted only into an empty window; it can never fit otherwise.
func (b *Budget) Reserve(estTokens int) (granted bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.prune(now)

	oversized := estTokens > b.maxTokens
	fits := len(b.grants) < b.maxRequests && b.tokensUsed+estTokens <= b.maxTokens
	if fits || (oversized && len(b.grants) == 0) {
		b.grants = append(b.grants, grant{at: now, tokens: estTokens})
		b.tokensUsed += estTokens
		return true, 0
	}

	// Walk the window from the oldest grant, releasing capacity until
	// the reservation would fit, and wait for that grant to expire.
	requests := len(b.grants)
	tokens := b.tokensUsed
	for _, g := range b.grants {
		requests--
		tokens -= g.tokens
		ok := requests < b.maxRequests && tokens+estTokens <= b.maxTokens
		if oversized {
			ok = requests == 0
		}
		if ok {
			wait = g.at.Add(Window).Sub(now)
			if wait < 0 {
				wait = 0
			}
			return false, wait
		}
	}

	// Window fully drained and still no fit: re-check after one window.
	return false, Window
}

// Usage returns the requests and tokens currently counted in the window.
func (b *Budget) Usage() (requests, tokens int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.now())
	return len(b.grants), b.tokensUsed
}
