package coordinator

import (
	"context"
	"time"

	"github.com/vk/runbook/internal/ctxlog"
	"github.com/vk/runbook/internal/notebook"
)

// executeAll walks the cells in document order. Per cell: confirm a ready
// backend session, submit the request, then await its resolution. The next
// cell's request is never submitted until the current one resolves; nothing
// is pipelined. On failure with stop-on-error the loop halts immediately and
// the remaining cells get no result entry at all.
func (c *Coordinator) executeAll(ctx context.Context, cells []*notebook.Cell) *Aggregate {
	logger := ctxlog.FromContext(ctx)
	agg := &Aggregate{Success: true}

	if c.skipExecution {
		logger.Warn("Execution skipped: no backend available, recording cells as not run.")
		for _, cell := range cells {
			agg.Results = append(agg.Results, Result{CellID: cell.ID, Skipped: true})
		}
		return agg
	}

	w := &watcher{
		store:   c.store,
		timeout: c.executionTimeout,
		track:   c.trackSubscription,
	}

	for _, cell := range cells {
		logger.Info("▶️ Executing cell", "cell", cell.ID)
		res := c.executeCell(ctx, w, cell)
		agg.Results = append(agg.Results, res)

		if res.Success {
			logger.Info("✅ Cell finished", "cell", cell.ID, "duration", res.Duration)
			continue
		}

		agg.Success = false
		agg.FailedCellIDs = append(agg.FailedCellIDs, cell.ID)
		logger.Error("Cell failed", "cell", cell.ID, "error", res.Error)

		if c.stopOnError {
			logger.Warn("Stop-on-error is enabled, halting run.", "remaining", remainingAfter(cells, cell.ID))
			break
		}
	}
	return agg
}

// executeCell runs the readiness check, submit, and watch for one cell and
// folds any per-cell error kind into the result.
func (c *Coordinator) executeCell(ctx context.Context, w *watcher, cell *notebook.Cell) Result {
	start := time.Now()
	res := Result{CellID: cell.ID}

	if err := c.awaitBackendReady(ctx); err != nil {
		res.Duration = time.Since(start)
		res.Error = err.Error()
		return res
	}

	requestID, err := c.submit(ctx, cell)
	if err != nil {
		res.Duration = time.Since(start)
		res.Error = err.Error()
		return res
	}
	res.RequestID = requestID

	if err := w.await(ctx, requestID, cell.ID); err != nil {
		res.Duration = time.Since(start)
		res.Error = err.Error()
		return res
	}

	res.Duration = time.Since(start)
	res.Success = true
	return res
}

func remainingAfter(cells []*notebook.Cell, id string) int {
	for i, cell := range cells {
		if cell.ID == id {
			return len(cells) - i - 1
		}
	}
	return 0
}
