// Package llmbatch dispatches batches of normalized text-generation
// requests across inference providers while respecting per-provider
// rate budgets, retrying transient failures, and returning results in
// the caller's original order.
package llmbatch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/promptwell/llmbatch/pkg/batch"
	"github.com/promptwell/llmbatch/pkg/cache"
	"github.com/promptwell/llmbatch/pkg/config"
	"github.com/promptwell/llmbatch/pkg/dispatch"
	"github.com/promptwell/llmbatch/pkg/llm"
	"github.com/promptwell/llmbatch/pkg/logging"
	"github.com/promptwell/llmbatch/pkg/ratelimit"
	"github.com/promptwell/llmbatch/pkg/requestlog"
)

// Client is the library entry point: a configured orchestrator plus
// its dispatch engine for single-request use.
type Client struct {
	engine       *dispatch.Engine
	orchestrator *batch.Orchestrator
	journal      *requestlog.Writer
}

// New builds a client from the given configuration. Configuration
// errors (unknown provider, missing credential) surface here, before
// anything is dispatched.
func New(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	limiter := ratelimit.NewLimiter(logging.NewLogger("ratelimit"))
	engine := dispatch.NewEngine(limiter, logging.NewLogger("dispatch"))

	for name, pc := range cfg.Providers {
		p := llm.Provider(name)
		if !p.Known() {
			return nil, &llm.ConfigurationError{Reason: "unknown provider in config: " + name}
		}
		dc, err := pc.Dispatch(name)
		if err != nil {
			return nil, err
		}
		if err := engine.RegisterProvider(p, dc); err != nil {
			return nil, err
		}
	}

	if cfg.Cache.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr})
		engine.SetCache(cache.NewManager(rdb), time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	}

	orchestrator := batch.NewOrchestrator(engine, logging.NewLogger("batch"))

	client := &Client{
		engine:       engine,
		orchestrator: orchestrator,
	}

	if cfg.RequestLog != "" {
		journal, err := requestlog.NewWriter(cfg.RequestLog)
		if err != nil {
			return nil, err
		}
		orchestrator.SetJournal(journal)
		client.journal = journal
	}

	return client, nil
}

// Submit dispatches a batch and returns one result per request in
// input order. See batch.Orchestrator.Submit.
func (c *Client) Submit(ctx context.Context, reqs []*llm.Request) ([]llm.Result, error) {
	return c.orchestrator.Submit(ctx, reqs)
}

// Execute runs a single request outside any batch.
func (c *Client) Execute(ctx context.Context, req *llm.Request) llm.Result {
	return c.engine.Execute(ctx, req)
}

// Engine exposes the dispatch engine for advanced wiring (custom HTTP
// client, cache).
func (c *Client) Engine() *dispatch.Engine {
	return c.engine
}

// Close releases the request log, if any.
func (c *Client) Close() error {
	if c.journal != nil {
		return c.journal.Close()
	}
	return nil
}
