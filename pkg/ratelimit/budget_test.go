package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fixedBudget returns a budget whose clock is pinned to a controllable
// time, so window arithmetic is deterministic.
func fixedBudget(maxRequests, maxTokens int) (*Budget, *time.Time) {
	b := NewBudget(maxRequests, maxTokens)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := &now
	b.now = func() time.Time { return *current }
	return b, current
}

func TestNewBudget_Defaults(t *testing.T) {
	tests := []struct {
		name             string
		maxRequests      int
		maxTokens        int
		expectedRequests int
		expectedTokens   int
	}{
		{
			name:             "explicit ceilings",
			maxRequests:      10,
			maxTokens:        5000,
			expectedRequests: 10,
			expectedTokens:   5000,
		},
		{
			name:             "zero falls back to defaults",
			maxRequests:      0,
			maxTokens:        0,
			expectedRequests: DefaultMaxRequestsPerMinute,
			expectedTokens:   DefaultMaxTokensPerMinute,
		},
		{
			name:             "negative falls back to defaults",
			maxRequests:      -1,
			maxTokens:        -100,
			expectedRequests: DefaultMaxRequestsPerMinute,
			expectedTokens:   DefaultMaxTokensPerMinute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBudget(tt.maxRequests, tt.maxTokens)
			if b.maxRequests != tt.expectedRequests {
				t.Errorf("maxRequests = %d, want %d", b.maxRequests, tt.expectedRequests)
			}
			if b.maxTokens != tt.expectedTokens {
				t.Errorf("maxTokens = %d, want %d", b.maxTokens, tt.expectedTokens)
			}
		})
	}
}

func TestBudget_Reserve_RequestCeiling(t *testing.T) {
	b, _ := fixedBudget(2, 100000)

	for i := 0; i < 2; i++ {
		granted, wait := b.Reserve(100)
		if !granted {
			t.Fatalf("Reserve() %d = denied, want granted", i)
		}
		if wait != 0 {
			t.Errorf("Reserve() %d wait = %v, want 0", i, wait)
		}
	}

	granted, wait := b.Reserve(100)
	if granted {
		t.Error("Reserve() over request ceiling = granted, want denied")
	}
	if wait != Window {
		t.Errorf("Reserve() wait = %v, want %v", wait, Window)
	}
}

func TestBudget_Reserve_TokenCeiling(t *testing.T) {
	b, _ := fixedBudget(100, 1000)

	granted, _ := b.Reserve(700)
	if !granted {
		t.Fatal("Reserve(700) = denied, want granted")
	}

	// 700 + 400 > 1000: denied even though request slots remain.
	granted, wait := b.Reserve(400)
	if granted {
		t.Error("Reserve(400) over token ceiling = granted, want denied")
	}
	if wait != Window {
		t.Errorf("Reserve(400) wait = %v, want %v", wait, Window)
	}

	// 700 + 300 = 1000 fits exactly.
	granted, _ = b.Reserve(300)
	if !granted {
		t.Error("Reserve(300) at exact token ceiling = denied, want granted")
	}
}

func TestBudget_Reserve_WaitReflectsOldestGrant(t *testing.T) {
	b, now := fixedBudget(2, 100000)

	b.Reserve(100)
	*now = now.Add(10 * time.Second)
	b.Reserve(100)
	*now = now.Add(5 * time.Second)

	// First grant is 15s old: its slot frees in Window-15s.
	granted, wait := b.Reserve(100)
	if granted {
		t.Fatal("Reserve() with full window = granted, want denied")
	}
	expected := Window - 15*time.Second
	if wait != expected {
		t.Errorf("wait = %v, want %v", wait, expected)
	}
}

func TestBudget_Reserve_WindowExpiry(t *testing.T) {
	b, now := fixedBudget(1, 100000)

	granted, _ := b.Reserve(100)
	if !granted {
		t.Fatal("first Reserve() = denied, want granted")
	}
	granted, _ = b.Reserve(100)
	if granted {
		t.Fatal("second Reserve() = granted, want denied")
	}

	// Advance past the window: the old grant no longer counts.
	*now = now.Add(Window + time.Second)
	granted, _ = b.Reserve(100)
	if !granted {
		t.Error("Reserve() after window expiry = denied, want granted")
	}

	requests, tokens := b.Usage()
	if requests != 1 {
		t.Errorf("Usage() requests = %d, want 1", requests)
	}
	if tokens != 100 {
		t.Errorf("Usage() tokens = %d, want 100", tokens)
	}
}

func TestBudget_Reserve_Oversized(t *testing.T) {
	b, now := fixedBudget(10, 1000)

	// Oversized estimate fits only into an empty window.
	granted, _ := b.Reserve(5000)
	if !granted {
		t.Fatal("oversized Reserve() into empty window = denied, want granted")
	}

	// Anything else must wait until the window drains completely.
	granted, wait := b.Reserve(100)
	if granted {
		t.Fatal("Reserve() after oversized grant = granted, want denied")
	}
	if wait != Window {
		t.Errorf("wait = %v, want %v", wait, Window)
	}

	*now = now.Add(Window + time.Second)
	granted, _ = b.Reserve(100)
	if !granted {
		t.Error("Reserve() after oversized grant expired = denied, want granted")
	}
}

func TestBudget_Reserve_OversizedWaitsForEmptyWindow(t *testing.T) {
	b, now := fixedBudget(10, 1000)

	b.Reserve(100)
	*now = now.Add(20 * time.Second)
	b.Reserve(100)

	// Oversized must wait for the window to be fully empty, i.e. for the
	// newest grant to expire.
	granted, wait := b.Reserve(5000)
	if granted {
		t.Fatal("oversized Reserve() into occupied window = granted, want denied")
	}
	if wait != Window {
		t.Errorf("wait = %v, want %v (newest grant must expire)", wait, Window)
	}
}

func TestBudget_Usage(t *testing.T) {
	b, _ := fixedBudget(10, 100000)

	b.Reserve(100)
	b.Reserve(250)

	requests, tokens := b.Usage()
	if requests != 2 {
		t.Errorf("Usage() requests = %d, want 2", requests)
	}
	if tokens != 350 {
		t.Errorf("Usage() tokens = %d, want 350", tokens)
	}
}

// TestBudget_Reserve_Concurrent verifies that concurrent reservations
// never overshoot the ceilings: grants are counted atomically at
// admission time.
func TestBudget_Reserve_Concurrent(t *testing.T) {
	const (
		maxRequests = 10
		workers     = 50
	)
	b := NewBudget(maxRequests, 100000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	grantedCount := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted, _ := b.Reserve(100)
			if granted {
				mu.Lock()
				grantedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if grantedCount != maxRequests {
		t.Errorf("granted = %d, want exactly %d", grantedCount, maxRequests)
	}

	requests, tokens := b.Usage()
	if requests != maxRequests {
		t.Errorf("Usage() requests = %d, want %d", requests, maxRequests)
	}
	if tokens != maxRequests*100 {
		t.Errorf("Usage() tokens = %d, want %d", tokens, maxRequests*100)
	}
}

func TestBudget_Reserve_ConcurrentTokens(t *testing.T) {
	const (
		maxTokens = 1000
		perCall   = 300
		workers   = 20
	)
	b := NewBudget(100, maxTokens)

	var wg sync.WaitGroup
	var mu sync.Mutex
	grantedCount := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted, _ := b.Reserve(perCall)
			if granted {
				mu.Lock()
				grantedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 3 x 300 = 900 fits, a 4th would exceed 1000.
	if grantedCount != 3 {
		t.Errorf("granted = %d, want 3", grantedCount)
	}
	_, tokens := b.Usage()
	if tokens > maxTokens {
		t.Errorf("Usage() tokens = %d, exceeds ceiling %d", tokens, maxTokens)
	}
}
