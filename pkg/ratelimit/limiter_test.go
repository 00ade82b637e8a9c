package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/promptwell/llmbatch/pkg/llm"
)

func newTestLimiter() *Limiter {
	return NewLimiter(zerolog.Nop())
}

func TestLimiter_Reserve_LazyDefaultBudget(t *testing.T) {
	l := newTestLimiter()

	granted, wait := l.Reserve(llm.ProviderOpenAI, 100)
	if !granted {
		t.Fatal("Reserve() on unconfigured provider = denied, want granted")
	}
	if wait != 0 {
		t.Errorf("wait = %v, want 0", wait)
	}

	b := l.budget(llm.ProviderOpenAI)
	if b.maxRequests != DefaultMaxRequestsPerMinute {
		t.Errorf("lazy budget maxRequests = %d, want %d", b.maxRequests, DefaultMaxRequestsPerMinute)
	}
	if b.maxTokens != DefaultMaxTokensPerMinute {
		t.Errorf("lazy budget maxTokens = %d, want %d", b.maxTokens, DefaultMaxTokensPerMinute)
	}
}

func TestLimiter_SetBudget(t *testing.T) {
	l := newTestLimiter()
	l.SetBudget(llm.ProviderAnthropic, 2, 100000)

	for i := 0; i < 2; i++ {
		granted, _ := l.Reserve(llm.ProviderAnthropic, 10)
		if !granted {
			t.Fatalf("Reserve() %d = denied, want granted", i)
		}
	}
	granted, _ := l.Reserve(llm.ProviderAnthropic, 10)
	if granted {
		t.Error("Reserve() over configured ceiling = granted, want denied")
	}
}

func TestLimiter_Reserve_IndependentProviders(t *testing.T) {
	l := newTestLimiter()
	l.SetBudget(llm.ProviderOpenAI, 1, 100000)
	l.SetBudget(llm.ProviderAnthropic, 1, 100000)

	if granted, _ := l.Reserve(llm.ProviderOpenAI, 10); !granted {
		t.Fatal("openai Reserve() = denied, want granted")
	}
	// Exhausting openai must not affect anthropic.
	if granted, _ := l.Reserve(llm.ProviderAnthropic, 10); !granted {
		t.Error("anthropic Reserve() = denied, want granted")
	}
	if granted, _ := l.Reserve(llm.ProviderOpenAI, 10); granted {
		t.Error("second openai Reserve() = granted, want denied")
	}
}

func TestLimiter_Wait_ImmediateGrant(t *testing.T) {
	l := newTestLimiter()
	l.SetBudget(llm.ProviderOpenAI, 5, 100000)

	start := time.Now()
	if err := l.Wait(context.Background(), llm.ProviderOpenAI, 100); err != nil {
		t.Fatalf("Wait() error = %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Wait() took %v, expected immediate grant", elapsed)
	}
}

func TestLimiter_Wait_ContextCancellation(t *testing.T) {
	l := newTestLimiter()
	l.SetBudget(llm.ProviderOpenAI, 1, 100000)

	// Exhaust the window.
	if granted, _ := l.Reserve(llm.ProviderOpenAI, 100); !granted {
		t.Fatal("setup Reserve() = denied, want granted")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx, llm.ProviderOpenAI, 100)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestLimiter_Wait_GrantsWhenCapacityFrees(t *testing.T) {
	l := newTestLimiter()
	l.SetBudget(llm.ProviderOpenAI, 1, 100000)

	// Pin the budget clock so we can expire the blocking grant by
	// advancing time rather than sleeping a full window.
	b := l.budget(llm.ProviderOpenAI)
	var mu sync.Mutex
	now := time.Now()
	b.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	if granted, _ := b.Reserve(100); !granted {
		t.Fatal("setup Reserve() = denied, want granted")
	}

	// Age the grant to 50ms before expiry so the waiter's computed delay
	// is short and it polls quickly.
	mu.Lock()
	now = now.Add(Window - 50*time.Millisecond)
	mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- l.Wait(context.Background(), llm.ProviderOpenAI, 100)
	}()

	// Expire the blocking grant; the waiter's next re-check must admit.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	now = now.Add(time.Second)
	mu.Unlock()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after capacity freed")
	}
}
