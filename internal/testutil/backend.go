package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/vk/runbook/internal/eventlog"
)

// Output is one output record the scripted backend writes for a cell.
type Output struct {
	Type    string
	Payload string
}

// Outcome scripts how the backend treats one cell's execution request. The
// zero value completes cleanly with no outputs.
type Outcome struct {
	Fail    bool // write a failed status instead of completed
	Outputs []Output
	Hang    bool          // never write a terminal status
	Delay   time.Duration // before the terminal status
}

// ScriptedBackend consumes execution requests from a shared-log store and
// writes status transitions and outputs the way the real execution backend
// would, following a per-cell script. Unscripted cells complete cleanly.
type ScriptedBackend struct {
	store     eventlog.Store
	sessionID string
	outcomes  map[string]Outcome

	mu      sync.Mutex
	handled map[string]bool

	sub eventlog.Subscription
	wg  sync.WaitGroup
}

// NewScriptedBackend creates a backend over the store with per-cell-id
// outcomes.
func NewScriptedBackend(store eventlog.Store, outcomes map[string]Outcome) *ScriptedBackend {
	return &ScriptedBackend{
		store:     store,
		sessionID: "test-session",
		outcomes:  outcomes,
		handled:   make(map[string]bool),
	}
}

// Start announces a ready session and begins consuming pending requests.
func (b *ScriptedBackend) Start(ctx context.Context) error {
	err := b.store.Append(ctx, eventlog.Event{
		Type: eventlog.EventSessionAnnounced,
		Payload: map[string]string{
			eventlog.FieldSessionID: b.sessionID,
			eventlog.FieldStatus:    eventlog.SessionReady,
		},
	})
	if err != nil {
		return err
	}

	sub, err := b.store.Subscribe(ctx, eventlog.Filter{
		Table: eventlog.TableExecutions,
		Eq:    map[string]string{eventlog.FieldStatus: eventlog.StatusPending},
	}, func(records []eventlog.Record) {
		for _, rec := range records {
			requestID := rec[eventlog.FieldRequestID]
			b.mu.Lock()
			seen := b.handled[requestID]
			b.handled[requestID] = true
			b.mu.Unlock()
			if seen {
				continue
			}
			b.wg.Add(1)
			go b.serve(ctx, requestID, rec[eventlog.FieldCellID])
		}
	})
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

// Stop detaches from the store and waits for in-flight requests to drain.
func (b *ScriptedBackend) Stop() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.wg.Wait()
}

func (b *ScriptedBackend) serve(ctx context.Context, requestID, cellID string) {
	defer b.wg.Done()
	outcome := b.outcomes[cellID]

	_ = b.store.Append(ctx, eventlog.Event{
		Type: eventlog.EventExecutionStatus,
		Payload: map[string]string{
			eventlog.FieldRequestID: requestID,
			eventlog.FieldStatus:    eventlog.StatusRunning,
		},
	})

	for _, out := range outcome.Outputs {
		_ = b.store.Append(ctx, eventlog.Event{
			Type: eventlog.EventOutputAppended,
			Payload: map[string]string{
				eventlog.FieldCellID:     cellID,
				eventlog.FieldOutputType: out.Type,
				eventlog.FieldPayload:    out.Payload,
			},
		})
	}

	if outcome.Hang {
		return
	}
	if outcome.Delay > 0 {
		select {
		case <-time.After(outcome.Delay):
		case <-ctx.Done():
			return
		}
	}

	status := eventlog.StatusCompleted
	if outcome.Fail {
		status = eventlog.StatusFailed
	}
	_ = b.store.Append(ctx, eventlog.Event{
		Type: eventlog.EventExecutionStatus,
		Payload: map[string]string{
			eventlog.FieldRequestID: requestID,
			eventlog.FieldStatus:    status,
		},
	})
}
