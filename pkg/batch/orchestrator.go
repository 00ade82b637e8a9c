// Package batch fans a heterogeneous request list out to per-provider
// dispatch pipelines and reconciles results with the caller's original
// order.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/promptwell/llmbatch/pkg/dispatch"
	"github.com/promptwell/llmbatch/pkg/llm"
	"github.com/promptwell/llmbatch/pkg/requestlog"
)

// Prometheus metrics for batch orchestration.
var (
	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llm_batches_total",
		Help: "Total submitted batches",
	})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llm_batch_size",
		Help:    "Number of requests per submitted batch",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llm_batch_duration_seconds",
		Help:    "End-to-end batch duration in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})
)

// Orchestrator partitions batches by provider and collects results.
type Orchestrator struct {
	engine  *dispatch.Engine
	journal *requestlog.Writer
	logger  zerolog.Logger
}

// NewOrchestrator creates an orchestrator over the given engine.
func NewOrchestrator(engine *dispatch.Engine, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		engine: engine,
		logger: logger,
	}
}

// SetJournal enables durable logging: every finished result is appended
// to the request log in completion order.
func (o *Orchestrator) SetJournal(w *requestlog.Writer) {
	o.journal = w
}

// Submit dispatches the batch and returns one result per request, in
// input order, once every index has a final outcome. Requests for an
// unknown provider fail immediately at their index without touching
// the network. Per-item failures never abort the batch; the returned
// error is non-nil only when the caller's context ended first.
func (o *Orchestrator) Submit(ctx context.Context, reqs []*llm.Request) ([]llm.Result, error) {
	start := time.Now()
	batchesTotal.Inc()
	batchSize.Observe(float64(len(reqs)))
	defer func() {
		batchDuration.Observe(time.Since(start).Seconds())
	}()

	results := make([]llm.Result, len(reqs))
	partitions := make(map[llm.Provider][]int)

	for i, req := range reqs {
		req.EnsureID()
		if !req.Provider.Known() {
			results[i] = llm.FailedResult(i, req.ID, &llm.ConfigurationError{
				Reason: "unrecognized provider " + string(req.Provider),
			})
			o.record(reqs[i], results[i])
			continue
		}
		partitions[req.Provider] = append(partitions[req.Provider], i)
	}

	o.logger.Info().
		Int("requests", len(reqs)).
		Int("partitions", len(partitions)).
		Msg("Submitting batch")

	// Partitions run concurrently with each other; ordering within a
	// partition is restored via the recorded original indexes.
	var wg sync.WaitGroup
	for p, indexes := range partitions {
		wg.Add(1)
		go func(p llm.Provider, indexes []int) {
			defer wg.Done()

			sub := make([]*llm.Request, len(indexes))
			for j, idx := range indexes {
				sub[j] = reqs[idx]
			}

			partResults := o.engine.ExecuteBatch(ctx, sub)
			for j, res := range partResults {
				idx := indexes[j]
				res.Index = idx
				results[idx] = res
				o.record(reqs[idx], res)
			}

			o.logger.Debug().
				Str("provider", string(p)).
				Int("requests", len(indexes)).
				Msg("Partition complete")
		}(p, indexes)
	}
	wg.Wait()

	o.logger.Info().
		Int("requests", len(reqs)).
		Dur("duration", time.Since(start)).
		Msg("Batch complete")

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (o *Orchestrator) record(req *llm.Request, res llm.Result) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Append(req, res); err != nil {
		o.logger.Warn().
			Err(err).
			Str("request_id", req.ID).
			Msg("Failed to journal result")
	}
}
