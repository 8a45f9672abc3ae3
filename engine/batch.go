package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonwraymond/inferops/observe"
	"github.com/jonwraymond/inferops/resilience"
	"github.com/jonwraymond/inferops/upstream"
)

// ItemOutcome classifies one batch item.
type ItemOutcome string

const (
	ItemSuccess  ItemOutcome = "success"
	ItemCacheHit ItemOutcome = "cache_hit"
	ItemFailure  ItemOutcome = "failure"
)

// BatchItem is the result of one input in a batch.
type BatchItem struct {
	Index   int           `json:"index"`
	Input   string        `json:"input"`
	Outcome ItemOutcome   `json:"outcome"`
	Result  *Result       `json:"result,omitempty"`
	Err     error         `json:"-"`
	Latency time.Duration `json:"latency"`
}

// BatchSummary aggregates a batch. Items are in input order.
type BatchSummary struct {
	Items          []BatchItem   `json:"items"`
	Total          int           `json:"total"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	CacheHits      int           `json:"cache_hits"`
	APICalls       int           `json:"api_calls"`
	HitRate        float64       `json:"hit_rate"`
	TotalLatency   time.Duration `json:"total_latency"`
	AverageLatency time.Duration `json:"average_latency"`
	CostAvoided    float64       `json:"cost_avoided"`
}

// AnalyzeBatch analyzes inputs with at most maxConcurrency calls in flight.
// A failing item does not affect its siblings. When ctx ends, in-flight
// items see the cancellation, items not yet started fail with the context
// error, and completed items are kept.
func (e *Engine) AnalyzeBatch(ctx context.Context, inputs []string, cacheContext string, maxConcurrency int) (*BatchSummary, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: inputs are empty", ErrValidation)
	}
	if maxConcurrency <= 0 {
		return nil, fmt.Errorf("%w: max concurrency must be positive, got %d", ErrValidation, maxConcurrency)
	}

	var summary *BatchSummary
	_, err := e.mw.Wrap(func(ctx context.Context, _ observe.CallMeta) (bool, error) {
		summary = e.runBatch(ctx, inputs, cacheContext, maxConcurrency)
		return false, nil
	})(ctx, observe.CallMeta{Operation: OpAnalyzeBatch, Context: cacheContext})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func (e *Engine) runBatch(ctx context.Context, inputs []string, cacheContext string, maxConcurrency int) *BatchSummary {
	items := make([]BatchItem, len(inputs))
	bulkhead := resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: maxConcurrency})

	var wg sync.WaitGroup
	for i, input := range inputs {
		items[i] = BatchItem{Index: i, Input: input}

		if err := ctx.Err(); err != nil {
			items[i].Outcome, items[i].Err = ItemFailure, err
			continue
		}
		if err := bulkhead.Acquire(ctx); err != nil {
			items[i].Outcome, items[i].Err = ItemFailure, err
			continue
		}

		wg.Add(1)
		go func(item *BatchItem) {
			defer wg.Done()
			defer bulkhead.Release()

			if err := ctx.Err(); err != nil {
				item.Outcome, item.Err = ItemFailure, err
				return
			}
			start := e.clock.Now()
			res, err := e.Analyze(ctx, item.Input, cacheContext, nil)
			item.Latency = e.clock.Now().Sub(start)
			switch {
			case err != nil:
				item.Outcome, item.Err = ItemFailure, err
			case res.CacheHit:
				item.Outcome, item.Result = ItemCacheHit, res
			default:
				item.Outcome, item.Result = ItemSuccess, res
			}
		}(&items[i])
	}
	wg.Wait()

	return e.summarize(items)
}

func (e *Engine) summarize(items []BatchItem) *BatchSummary {
	s := &BatchSummary{Items: items, Total: len(items)}
	var upstreamCost float64
	var upstreamPriced int

	for _, item := range items {
		s.TotalLatency += item.Latency
		switch item.Outcome {
		case ItemCacheHit:
			s.Succeeded++
			s.CacheHits++
		case ItemSuccess:
			s.Succeeded++
			s.APICalls++
			upstreamCost += item.Result.CostEstimate
			upstreamPriced++
		default:
			s.Failed++
			if reachedUpstream(item.Err) {
				s.APICalls++
			}
		}
	}

	if s.Total > 0 {
		s.HitRate = float64(s.CacheHits) / float64(s.Total)
		s.AverageLatency = s.TotalLatency / time.Duration(s.Total)
	}

	perCall := e.opts.Pricing.EstimatedCallCost()
	if upstreamPriced > 0 {
		perCall = upstreamCost / float64(upstreamPriced)
	}
	s.CostAvoided = float64(s.CacheHits) * perCall
	return s
}

// reachedUpstream reports whether a failed item made a provider call.
func reachedUpstream(err error) bool {
	return errors.Is(err, upstream.ErrUpstream) ||
		errors.Is(err, upstream.ErrUpstreamParse) ||
		errors.Is(err, upstream.ErrTimeout)
}
