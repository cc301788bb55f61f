package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vk/runbook/internal/ctxlog"
	"github.com/vk/runbook/internal/eventlog"
)

// errorMarkers are case-sensitive signatures that mark a textual output
// payload as error-shaped even when the backend reports the request completed.
var errorMarkers = []string{"Error:", "Exception:", "Traceback"}

// watcher resolves the outcome of a single execution request by reacting to
// shared-log state transitions. It never polls: two reactive queries (one for
// the completed status, one for failed) plus a timeout timer race to resolve
// exactly once.
type watcher struct {
	store   eventlog.Store
	timeout time.Duration

	// track registers subscriptions in the coordinator-local ledger so a
	// shutdown can tear down anything a resolved watch left behind.
	track func(eventlog.Subscription)
}

// await blocks until the request resolves: nil for a clean success, or one of
// ErrBackendFailure, ErrLogicalFailure, ErrExecutionTimeout.
//
// Resolution is guarded by an idempotent flag: once any of the three triggers
// fires, the others become no-ops. Teardown of the two subscriptions is
// deferred to a later scheduling turn rather than run inline, because
// unsubscribing synchronously while the log is still evaluating the query's
// dependency graph trips its consistency checks ("destroyed thunk" class of
// bug in the log client); any error the deferred teardown reports is
// discarded, as the store may already be shutting down by then.
func (w *watcher) await(ctx context.Context, requestID, cellID string) error {
	logger := ctxlog.FromContext(ctx).With("cell", cellID, "request_id", requestID)

	done := make(chan error, 1)
	var mu sync.Mutex
	resolved := false
	resolve := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if resolved {
			return
		}
		resolved = true
		done <- err
	}

	var subs []eventlog.Subscription

	completedSub, err := w.store.Subscribe(ctx, eventlog.Filter{
		Table: eventlog.TableExecutions,
		Eq: map[string]string{
			eventlog.FieldRequestID: requestID,
			eventlog.FieldStatus:    eventlog.StatusCompleted,
		},
	}, func(records []eventlog.Record) {
		if len(records) == 0 {
			return
		}
		// Completed only means the backend finished running the request.
		// Re-query the cell's outputs and reclassify before resolving.
		outputs, qerr := w.store.Query(ctx, eventlog.Filter{
			Table: eventlog.TableOutputs,
			Eq:    map[string]string{eventlog.FieldCellID: cellID},
		})
		if qerr != nil {
			resolve(fmt.Errorf("failed to inspect outputs for cell %q: %w", cellID, qerr))
			return
		}
		if msg, bad := classifyOutputs(outputs); bad {
			logger.Debug("Completed request reclassified as logical failure.", "detail", msg)
			resolve(fmt.Errorf("%w: %s", ErrLogicalFailure, msg))
			return
		}
		resolve(nil)
	})
	if err != nil {
		return fmt.Errorf("failed to watch for completion: %w", err)
	}
	subs = append(subs, completedSub)
	w.track(completedSub)

	failedSub, err := w.store.Subscribe(ctx, eventlog.Filter{
		Table: eventlog.TableExecutions,
		Eq: map[string]string{
			eventlog.FieldRequestID: requestID,
			eventlog.FieldStatus:    eventlog.StatusFailed,
		},
	}, func(records []eventlog.Record) {
		if len(records) == 0 {
			return
		}
		resolve(fmt.Errorf("%w: cell %q", ErrBackendFailure, cellID))
	})
	if err != nil {
		deferredTeardown(subs)
		return fmt.Errorf("failed to watch for failure: %w", err)
	}
	subs = append(subs, failedSub)
	w.track(failedSub)

	timer := time.AfterFunc(w.timeout, func() {
		resolve(fmt.Errorf("%w: cell %q after %s", ErrExecutionTimeout, cellID, w.timeout))
	})

	var outcome error
	select {
	case outcome = <-done:
	case <-ctx.Done():
		resolve(ctx.Err())
		outcome = <-done
	}

	timer.Stop()
	deferredTeardown(subs)
	return outcome
}

// deferredTeardown schedules unsubscription on a later turn and swallows
// whatever the teardown reports.
func deferredTeardown(subs []eventlog.Subscription) {
	for _, sub := range subs {
		go func(s eventlog.Subscription) {
			defer func() { _ = recover() }()
			_ = s.Unsubscribe()
		}(sub)
	}
}

// classifyOutputs scans a cell's outputs for error shape: an explicit error
// output type, or a textual payload containing an error-signature marker.
func classifyOutputs(outputs []eventlog.Record) (string, bool) {
	for _, out := range outputs {
		if out[eventlog.FieldOutputType] == eventlog.OutputError {
			msg := out[eventlog.FieldPayload]
			if msg == "" {
				msg = "error output present"
			}
			return msg, true
		}
		payload := out[eventlog.FieldPayload]
		for _, marker := range errorMarkers {
			if strings.Contains(payload, marker) {
				return firstLine(payload), true
			}
		}
	}
	return "", false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
