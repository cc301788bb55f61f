// Package eventlog defines the coordinator's view of the shared log: an
// append-oriented, multi-writer event store that every coordinator and
// execution-backend instance replicates and subscribes to. The log is the
// sole coordination channel between them; the coordinator never talks to a
// backend directly.
//
// The coordinator appends structure and request events, and reads the record
// views the backend maintains (execution status, outputs, sessions). It never
// writes a status or output record itself.
package eventlog

import "context"

// Event types appended by the coordinator.
const (
	EventNotebookCreated    = "notebook.created"
	EventCellCreated        = "cell.created"
	EventCellSource         = "cell.source"
	EventExecutionRequested = "execution.requested"
)

// Event types appended by the execution backend.
const (
	EventExecutionStatus  = "execution.status"
	EventOutputAppended   = "output.appended"
	EventSessionAnnounced = "session.announced"
)

// Tables are the record views derived from the event stream.
const (
	TableNotebooks  = "notebooks"
	TableCells      = "cells"
	TableExecutions = "executions"
	TableOutputs    = "outputs"
	TableSessions   = "sessions"
)

// Execution status values written by the backend. The coordinator creates a
// request in StatusPending and only ever reads the later transitions.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Session status announced by a backend that is accepting requests.
const SessionReady = "ready"

// Output types written by the backend for a cell.
const (
	OutputStream  = "stream"
	OutputDisplay = "display"
	OutputError   = "error"
)

// Common record field names.
const (
	FieldNotebookID = "notebook_id"
	FieldCellID     = "cell_id"
	FieldRequestID  = "request_id"
	FieldSequence   = "sequence"
	FieldStatus     = "status"
	FieldOrderKey   = "order_key"
	FieldSource     = "source"
	FieldTitle      = "title"
	FieldOwner      = "owner"
	FieldKind       = "kind"
	FieldSessionID  = "session_id"
	FieldOutputType = "output_type"
	FieldPayload    = "payload"
)

// Event is one append to the shared log.
type Event struct {
	Type    string
	Payload map[string]string
}

// Record is a point-in-time view of one row in a table. All values are
// strings on the wire; typed accessors live with the consumers.
type Record map[string]string

// Filter is a declarative equality filter over one table.
type Filter struct {
	Table string
	Eq    map[string]string
}

// Matches reports whether the record satisfies every equality constraint.
func (f Filter) Matches(r Record) bool {
	for k, v := range f.Eq {
		if r[k] != v {
			return false
		}
	}
	return true
}

// Subscription is a handle to a registered reactive query.
//
// Unsubscribe must not be called synchronously from inside the subscription's
// own notification callback: stores may still be evaluating the query's
// dependency graph in that tick and will reject the call. Callers schedule
// teardown on a later turn and discard any error it reports, since the store
// may already be shutting down by then.
type Subscription interface {
	Unsubscribe() error
}

// Store is the client surface of the shared log.
//
// Subscribe registers a reactive query: the callback fires with the current
// matching records immediately if any exist, and again whenever a matching
// record appears or changes. Notification is push-based; implementations must
// not make the caller poll.
type Store interface {
	Append(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, f Filter, fn func(records []Record)) (Subscription, error)
	Query(ctx context.Context, f Filter) ([]Record, error)

	// Location returns a handle to the log's live view for this namespace,
	// reported in run summaries regardless of success.
	Location() string

	Close(ctx context.Context) error
}
