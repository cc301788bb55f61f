// Package coordinator drives notebook execution against an external,
// asynchronous execution backend, coordinating exclusively through a shared
// event log. It publishes the notebook structure once up front, then submits
// one execution request per cell, strictly in document order, reactively
// awaiting each request's resolution before submitting the next.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/runbook/internal/ctxlog"
	"github.com/vk/runbook/internal/eventlog"
	"github.com/vk/runbook/internal/notebook"
)

// Options configures a Coordinator.
type Options struct {
	Store     eventlog.Store
	Namespace string // notebook id / target namespace in the log

	StopOnError      bool
	ExecutionTimeout time.Duration
	ReadyPoll        time.Duration
	ReadyWait        time.Duration

	// SettleDelay is a short pause between structure publication and the
	// first execution request, giving the log's replication a chance to
	// become visible to the backend. The readiness monitor is the real
	// guard; this remains only as a minimized fallback and may be zero.
	SettleDelay time.Duration

	// ConfiguredParams is the coordinator-configured parameter source,
	// overridden only by call-time parameters.
	ConfiguredParams map[string]cty.Value

	// SkipExecution publishes structure but records every cell as not run.
	// Set by the bootstrap supervisor when the backend cannot start in an
	// automated environment.
	SkipExecution bool
}

// Result is the coordinator's own record of one attempted cell.
type Result struct {
	CellID    string
	RequestID string
	Success   bool
	Skipped   bool
	Duration  time.Duration
	Error     string
}

// Aggregate is the outcome of a whole run. Results are strictly append-only
// and in document order; under stop-on-error the cells after the failure have
// no entry at all.
type Aggregate struct {
	Success       bool
	TotalDuration time.Duration
	Results       []Result
	FailedCellIDs []string
	Location      string
}

// Summary is the condensed view exposed after a run.
type Summary struct {
	Success         bool
	TotalDuration   time.Duration
	SuccessfulCount int
	FailedIDs       []string
	Location        string
}

// Coordinator owns a single run's derived state. It is not safe for
// concurrent Runs; the execution model is one logical thread of control with
// concurrency only between log notifications and the driver's main path.
type Coordinator struct {
	store            eventlog.Store
	namespace        string
	stopOnError      bool
	executionTimeout time.Duration
	readyPoll        time.Duration
	readyWait        time.Duration
	settleDelay      time.Duration
	configuredParams map[string]cty.Value
	skipExecution    bool

	sequence int

	mu        sync.Mutex
	subs      []eventlog.Subscription
	aggregate *Aggregate

	cleanupOnce sync.Once
}

// New creates a Coordinator. Zero durations fall back to the defaults:
// 60s execution timeout, 1s readiness poll, 10s readiness wait.
func New(opts Options) *Coordinator {
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = 60 * time.Second
	}
	if opts.ReadyPoll <= 0 {
		opts.ReadyPoll = time.Second
	}
	if opts.ReadyWait <= 0 {
		opts.ReadyWait = 10 * time.Second
	}
	return &Coordinator{
		store:            opts.Store,
		namespace:        opts.Namespace,
		stopOnError:      opts.StopOnError,
		executionTimeout: opts.ExecutionTimeout,
		readyPoll:        opts.ReadyPoll,
		readyWait:        opts.ReadyWait,
		settleDelay:      opts.SettleDelay,
		configuredParams: opts.ConfiguredParams,
		skipExecution:    opts.SkipExecution,
	}
}

// Run injects parameters, publishes structure, then executes the cell list
// sequentially. Publish failures abort the run and return an error; per-cell
// failures are recorded in the aggregate instead.
func (c *Coordinator) Run(ctx context.Context, doc *notebook.Document, callParams map[string]cty.Value) (*Aggregate, error) {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	notebook.InjectParameters(doc, c.configuredParams, callParams)

	if err := c.publishStructure(ctx, doc); err != nil {
		return nil, err
	}

	if c.settleDelay > 0 {
		logger.Debug("Settling after publish.", "delay", c.settleDelay)
		select {
		case <-time.After(c.settleDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	agg := c.executeAll(ctx, doc.Cells)
	agg.TotalDuration = time.Since(start)
	agg.Location = c.store.Location()

	c.mu.Lock()
	c.aggregate = agg
	c.mu.Unlock()

	if agg.Success {
		logger.Info("🏁 Run finished.", "cells", len(agg.Results), "duration", agg.TotalDuration)
	} else {
		logger.Warn("Run finished with failures.", "failed", agg.FailedCellIDs, "duration", agg.TotalDuration)
	}
	return agg, nil
}

// Summary condenses the last run's aggregate. The location handle is reported
// even when no run completed, so a failed run still points at the live view.
func (c *Coordinator) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aggregate == nil {
		return Summary{Location: c.store.Location()}
	}
	successes := 0
	for _, r := range c.aggregate.Results {
		if r.Success {
			successes++
		}
	}
	return Summary{
		Success:         c.aggregate.Success,
		TotalDuration:   c.aggregate.TotalDuration,
		SuccessfulCount: successes,
		FailedIDs:       append([]string(nil), c.aggregate.FailedCellIDs...),
		Location:        c.aggregate.Location,
	}
}

// Cleanup tears down any remaining subscriptions and closes the log
// connection. It is idempotent and must be called after Run. Teardown errors
// are swallowed unconditionally: they happen during best-effort shutdown,
// often concurrent with the log connection's own teardown.
func (c *Coordinator) Cleanup(ctx context.Context) {
	c.cleanupOnce.Do(func() {
		c.mu.Lock()
		subs := c.subs
		c.subs = nil
		c.mu.Unlock()

		deferredTeardown(subs)

		defer func() { _ = recover() }()
		_ = c.store.Close(ctx)
	})
}

// trackSubscription records a watcher subscription in the coordinator-local
// ledger so Cleanup can tear down anything still registered.
func (c *Coordinator) trackSubscription(sub eventlog.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, sub)
}
