// Package redislog provides an eventlog.Store client backed by a Redis
// deployment of the shared log. Records live in namespaced hashes with a set
// index per table, and reactivity rides on Redis pub/sub: every append
// publishes a change notification for its table, and subscribers re-query
// their filter when one arrives.
package redislog

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/vk/runbook/internal/eventlog"
)

// Store is a Redis-backed eventlog.Store.
type Store struct {
	client    *redis.Client
	addr      string
	namespace string
}

// New connects to the Redis-backed log. The credential is the deployment's
// auth password; namespace scopes every key this client touches.
func New(ctx context.Context, addr, credential, namespace string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: credential,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to log at %s: %w", addr, err)
	}
	return &Store{client: client, addr: addr, namespace: namespace}, nil
}

func (s *Store) recordKey(table, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.namespace, table, id)
}

func (s *Store) indexKey(table string) string {
	return fmt.Sprintf("%s:%s", s.namespace, table)
}

func (s *Store) changeChannel(table string) string {
	return fmt.Sprintf("%s:changed:%s", s.namespace, table)
}

// Append writes the event's record mutation and publishes a change
// notification for the table.
func (s *Store) Append(ctx context.Context, ev eventlog.Event) error {
	table, id, fields, err := s.mutation(ctx, ev)
	if err != nil {
		return err
	}

	key := s.recordKey(table, id)
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to append %s event: %w", ev.Type, err)
	}
	if err := s.client.SAdd(ctx, s.indexKey(table), id).Err(); err != nil {
		return fmt.Errorf("failed to index %s record: %w", ev.Type, err)
	}
	if err := s.client.Publish(ctx, s.changeChannel(table), id).Err(); err != nil {
		return fmt.Errorf("failed to publish change for %s: %w", table, err)
	}
	return nil
}

// mutation maps an event onto its table, record id, and hash fields.
func (s *Store) mutation(ctx context.Context, ev eventlog.Event) (table, id string, fields map[string]string, err error) {
	fields = make(map[string]string, len(ev.Payload))
	for k, v := range ev.Payload {
		fields[k] = v
	}

	switch ev.Type {
	case eventlog.EventNotebookCreated:
		return eventlog.TableNotebooks, ev.Payload[eventlog.FieldNotebookID], fields, nil
	case eventlog.EventCellCreated, eventlog.EventCellSource:
		return eventlog.TableCells, ev.Payload[eventlog.FieldCellID], fields, nil
	case eventlog.EventExecutionRequested:
		if fields[eventlog.FieldStatus] == "" {
			fields[eventlog.FieldStatus] = eventlog.StatusPending
		}
		return eventlog.TableExecutions, ev.Payload[eventlog.FieldRequestID], fields, nil
	case eventlog.EventExecutionStatus:
		return eventlog.TableExecutions, ev.Payload[eventlog.FieldRequestID], fields, nil
	case eventlog.EventOutputAppended:
		// Outputs are append-only and multi-per-cell; allocate a fresh id.
		seq, serr := s.client.Incr(ctx, s.namespace+":outputs:seq").Result()
		if serr != nil {
			return "", "", nil, fmt.Errorf("failed to allocate output id: %w", serr)
		}
		return eventlog.TableOutputs, strconv.FormatInt(seq, 10), fields, nil
	case eventlog.EventSessionAnnounced:
		return eventlog.TableSessions, ev.Payload[eventlog.FieldSessionID], fields, nil
	default:
		return "", "", nil, fmt.Errorf("redislog: unknown event type %q", ev.Type)
	}
}

// Query reads every record in the filter's table and matches client-side.
func (s *Store) Query(ctx context.Context, f eventlog.Filter) ([]eventlog.Record, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey(f.Table)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", f.Table, err)
	}

	var out []eventlog.Record
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, s.recordKey(f.Table, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s record %s: %w", f.Table, id, err)
		}
		rec := eventlog.Record(fields)
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type subscription struct {
	pubsub *redis.PubSub
	closed atomic.Bool
}

func (s *subscription) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.pubsub.Close()
}

// Subscribe listens on the table's change channel and re-runs the filter
// query on every notification, plus once up front for the current state.
func (s *Store) Subscribe(ctx context.Context, f eventlog.Filter, fn func([]eventlog.Record)) (eventlog.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.changeChannel(f.Table))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s changes: %w", f.Table, err)
	}

	sub := &subscription{pubsub: pubsub}

	initial, err := s.Query(ctx, f)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	if len(initial) > 0 {
		fn(initial)
	}

	go func() {
		for range pubsub.Channel() {
			if sub.closed.Load() {
				return
			}
			records, err := s.Query(ctx, f)
			if err != nil || len(records) == 0 {
				continue
			}
			fn(records)
		}
	}()

	return sub, nil
}

// Location returns the live-view handle for this namespace.
func (s *Store) Location() string {
	return fmt.Sprintf("redis://%s/%s", s.addr, s.namespace)
}

// Close closes the client connection.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Close()
}
