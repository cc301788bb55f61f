// Package memlog provides an ephemeral, thread-safe, in-memory implementation
// of the eventlog.Store interface.
//
// # Purpose
//
// This package implements the shared log for local and test runs. Events are
// materialized into per-table record slices under a single mutex, and
// reactive subscriptions are notified synchronously on the appending
// goroutine, which makes test scenarios deterministic.
//
// # Reactive semantics
//
//   - Subscribe delivers the current matching records immediately when any
//     exist, then again after every append that touches a matching record.
//   - Callbacks run outside the store lock, so a callback may itself call
//     Append or Query without deadlocking.
//   - Unsubscribe called from inside the subscription's own callback is
//     rejected with an error: the dispatch for that query is still on the
//     stack. Callers are expected to schedule teardown on a later turn and
//     tolerate the error (the store may be closed by then).
//
// # When to use
//
// Suitable for unit tests, local development, and publish-only runs. For a
// shared deployment the redislog or socketlog client talks to a real log
// service instead.
package memlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vk/runbook/internal/eventlog"
)

// Store is an in-memory eventlog.Store.
type Store struct {
	namespace string

	mu     sync.Mutex
	closed bool
	tables map[string][]eventlog.Record
	subs   map[int]*subscription
	nextID int
}

// New creates an empty store scoped to the given namespace. The namespace
// only affects the Location handle; isolation comes from instance identity.
func New(namespace string) *Store {
	return &Store{
		namespace: namespace,
		tables:    make(map[string][]eventlog.Record),
		subs:      make(map[int]*subscription),
	}
}

type subscription struct {
	store       *Store
	id          int
	filter      eventlog.Filter
	fn          func([]eventlog.Record)
	dispatching atomic.Bool
}

// Unsubscribe removes the subscription. It fails when called while the
// subscription's own callback is still being dispatched, or after Close.
func (s *subscription) Unsubscribe() error {
	if s.dispatching.Load() {
		return fmt.Errorf("memlog: unsubscribe during dispatch of the same query")
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.store.closed {
		return fmt.Errorf("memlog: store closed")
	}
	delete(s.store.subs, s.id)
	return nil
}

// Append materializes the event into its table and notifies affected
// subscriptions synchronously, outside the store lock.
func (s *Store) Append(ctx context.Context, ev eventlog.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("memlog: store closed")
	}

	table, changed, err := s.apply(ev)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	// Snapshot the notifications to run after releasing the lock.
	type pending struct {
		sub     *subscription
		records []eventlog.Record
	}
	var notify []pending
	for _, sub := range s.subs {
		if sub.filter.Table != table || !sub.filter.Matches(changed) {
			continue
		}
		notify = append(notify, pending{sub, s.matchesLocked(sub.filter)})
	}
	s.mu.Unlock()

	for _, n := range notify {
		if len(n.records) == 0 {
			continue
		}
		n.sub.dispatching.Store(true)
		n.sub.fn(n.records)
		n.sub.dispatching.Store(false)
	}
	return nil
}

// apply mutates the table state for one event and returns the affected table
// and a copy of the changed record. Caller holds the lock.
func (s *Store) apply(ev eventlog.Event) (string, eventlog.Record, error) {
	switch ev.Type {
	case eventlog.EventNotebookCreated:
		return eventlog.TableNotebooks, s.insertLocked(eventlog.TableNotebooks, ev.Payload), nil

	case eventlog.EventCellCreated:
		return eventlog.TableCells, s.insertLocked(eventlog.TableCells, ev.Payload), nil

	case eventlog.EventCellSource:
		rec := s.findLocked(eventlog.TableCells, eventlog.FieldCellID, ev.Payload[eventlog.FieldCellID])
		if rec == nil {
			return "", nil, fmt.Errorf("memlog: source for unknown cell %q", ev.Payload[eventlog.FieldCellID])
		}
		rec[eventlog.FieldSource] = ev.Payload[eventlog.FieldSource]
		return eventlog.TableCells, copyRecord(rec), nil

	case eventlog.EventExecutionRequested:
		payload := copyPayload(ev.Payload)
		if payload[eventlog.FieldStatus] == "" {
			payload[eventlog.FieldStatus] = eventlog.StatusPending
		}
		return eventlog.TableExecutions, s.insertLocked(eventlog.TableExecutions, payload), nil

	case eventlog.EventExecutionStatus:
		rec := s.findLocked(eventlog.TableExecutions, eventlog.FieldRequestID, ev.Payload[eventlog.FieldRequestID])
		if rec == nil {
			return "", nil, fmt.Errorf("memlog: status for unknown request %q", ev.Payload[eventlog.FieldRequestID])
		}
		rec[eventlog.FieldStatus] = ev.Payload[eventlog.FieldStatus]
		return eventlog.TableExecutions, copyRecord(rec), nil

	case eventlog.EventOutputAppended:
		return eventlog.TableOutputs, s.insertLocked(eventlog.TableOutputs, ev.Payload), nil

	case eventlog.EventSessionAnnounced:
		if rec := s.findLocked(eventlog.TableSessions, eventlog.FieldSessionID, ev.Payload[eventlog.FieldSessionID]); rec != nil {
			rec[eventlog.FieldStatus] = ev.Payload[eventlog.FieldStatus]
			return eventlog.TableSessions, copyRecord(rec), nil
		}
		return eventlog.TableSessions, s.insertLocked(eventlog.TableSessions, ev.Payload), nil

	default:
		return "", nil, fmt.Errorf("memlog: unknown event type %q", ev.Type)
	}
}

func (s *Store) insertLocked(table string, payload map[string]string) eventlog.Record {
	rec := eventlog.Record(copyPayload(payload))
	s.tables[table] = append(s.tables[table], rec)
	return copyRecord(rec)
}

func (s *Store) findLocked(table, field, value string) eventlog.Record {
	for _, rec := range s.tables[table] {
		if rec[field] == value {
			return rec
		}
	}
	return nil
}

func (s *Store) matchesLocked(f eventlog.Filter) []eventlog.Record {
	var out []eventlog.Record
	for _, rec := range s.tables[f.Table] {
		if f.Matches(rec) {
			out = append(out, copyRecord(rec))
		}
	}
	return out
}

// Subscribe registers a reactive query. When records already match, the
// callback fires once before Subscribe returns.
func (s *Store) Subscribe(ctx context.Context, f eventlog.Filter, fn func([]eventlog.Record)) (eventlog.Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("memlog: store closed")
	}
	s.nextID++
	sub := &subscription{store: s, id: s.nextID, filter: f, fn: fn}
	s.subs[sub.id] = sub
	initial := s.matchesLocked(f)
	s.mu.Unlock()

	if len(initial) > 0 {
		sub.dispatching.Store(true)
		fn(initial)
		sub.dispatching.Store(false)
	}
	return sub, nil
}

// Query returns a point-in-time copy of the matching records.
func (s *Store) Query(ctx context.Context, f eventlog.Filter) ([]eventlog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memlog: store closed")
	}
	return s.matchesLocked(f), nil
}

// Location returns the in-memory live-view handle.
func (s *Store) Location() string {
	return "memory://" + s.namespace
}

// Close drops all state and subscriptions. Subsequent calls are no-ops.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[int]*subscription)
	s.tables = make(map[string][]eventlog.Record)
	return nil
}

func copyPayload(p map[string]string) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func copyRecord(r eventlog.Record) eventlog.Record {
	return eventlog.Record(copyPayload(r))
}
