package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/runbook/internal/ctxlog"
	"github.com/vk/runbook/internal/eventlog"
)

// awaitBackendReady confirms that at least one backend session is registered
// in the log with a ready status, polling at a fixed short interval up to a
// bounded wait. It runs once before each cell's request, not once per run,
// because backend sessions may disconnect and reconnect between cells.
func (c *Coordinator) awaitBackendReady(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	deadline := time.Now().Add(c.readyWait)

	for {
		sessions, err := c.store.Query(ctx, eventlog.Filter{
			Table: eventlog.TableSessions,
			Eq:    map[string]string{eventlog.FieldStatus: eventlog.SessionReady},
		})
		if err != nil {
			return fmt.Errorf("failed to query backend sessions: %w", err)
		}
		if len(sessions) > 0 {
			logger.Debug("Backend session ready.", "sessions", len(sessions))
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w within %s", ErrBackendUnavailable, c.readyWait)
		}

		select {
		case <-time.After(c.readyPoll):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
