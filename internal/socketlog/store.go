// Package socketlog provides an eventlog.Store client that talks to a remote
// log gateway over a socket.io websocket connection. Appends are emitted as
// events; reactive queries are registered with the gateway, which pushes the
// matching record set on every change.
package socketlog

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/runbook/internal/eventlog"
)

// logNamespace is the socket.io namespace the gateway serves the log on.
const logNamespace = "/log"

// queryTimeout bounds one-shot point-in-time queries against the gateway.
const queryTimeout = 10 * time.Second

// Store is a socket.io-backed eventlog.Store.
type Store struct {
	io        *socket.Socket
	gateway   string
	namespace string

	mu     sync.Mutex
	closed bool
}

// Connect dials the log gateway, authenticates with the opaque credential,
// and scopes the session to the target namespace.
func Connect(ctx context.Context, rawURL, credential, namespace string) (*Store, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway URL: %w", err)
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(logNamespace, opts)

	connected := make(chan error, 1)
	report := func(err error) {
		select {
		case connected <- err:
		default:
		}
	}

	io.On(types.EventName("connect"), func(...any) {
		io.Emit("authenticate", map[string]any{
			"credential": credential,
			"namespace":  namespace,
		})
		report(nil)
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		if len(errs) > 0 {
			if err, ok := errs[0].(error); ok {
				report(err)
				return
			}
		}
		report(fmt.Errorf("gateway connection refused"))
	})

	io.Connect()
	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("failed to connect to log gateway: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("failed to connect to log gateway: %w", ctx.Err())
	}

	return &Store{io: io, gateway: rawURL, namespace: namespace}, nil
}

// Append emits the event to the gateway, fire-and-forget.
func (s *Store) Append(ctx context.Context, ev eventlog.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("socketlog: store closed")
	}
	s.io.Emit("append", map[string]any{
		"type":    ev.Type,
		"payload": ev.Payload,
	})
	return nil
}

type subscription struct {
	store  *Store
	id     string
	closed atomic.Bool
}

// Unsubscribe tells the gateway to drop the query. The record listener stays
// registered but discards anything delivered after this point.
func (s *subscription) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.store.closed {
		return fmt.Errorf("socketlog: store closed")
	}
	s.store.io.Emit("unsubscribe", map[string]any{"id": s.id})
	return nil
}

// Subscribe registers a reactive query with the gateway. The gateway pushes
// the current matching records immediately and again on every change.
func (s *Store) Subscribe(ctx context.Context, f eventlog.Filter, fn func([]eventlog.Record)) (eventlog.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("socketlog: store closed")
	}

	sub := &subscription{store: s, id: uuid.NewString()}
	s.io.On(types.EventName("records:"+sub.id), func(data ...any) {
		if sub.closed.Load() {
			return
		}
		records := decodeRecords(data)
		if len(records) > 0 {
			fn(records)
		}
	})
	s.io.Emit("subscribe", map[string]any{
		"id":    sub.id,
		"table": f.Table,
		"eq":    f.Eq,
	})
	return sub, nil
}

// Query performs a one-shot read through the gateway and waits for its reply.
func (s *Store) Query(ctx context.Context, f eventlog.Filter) ([]eventlog.Record, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("socketlog: store closed")
	}

	id := uuid.NewString()
	reply := make(chan []eventlog.Record, 1)
	var answered atomic.Bool
	s.io.On(types.EventName("result:"+id), func(data ...any) {
		if answered.Swap(true) {
			return
		}
		reply <- decodeRecords(data)
	})
	s.io.Emit("query", map[string]any{
		"id":    id,
		"table": f.Table,
		"eq":    f.Eq,
	})
	s.mu.Unlock()

	select {
	case records := <-reply:
		return records, nil
	case <-time.After(queryTimeout):
		return nil, fmt.Errorf("socketlog: query timed out after %s", queryTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Location returns the gateway's live-view handle for this namespace.
func (s *Store) Location() string {
	return fmt.Sprintf("%s#%s", s.gateway, s.namespace)
}

// Close disconnects from the gateway. Subsequent calls are no-ops.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.io.Disconnect()
	return nil
}

// decodeRecords converts a gateway payload (a JSON array of string-valued
// objects) into records, dropping anything malformed.
func decodeRecords(data []any) []eventlog.Record {
	if len(data) == 0 {
		return nil
	}
	items, ok := data[0].([]any)
	if !ok {
		return nil
	}
	var out []eventlog.Record
	for _, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rec := make(eventlog.Record, len(fields))
		for k, v := range fields {
			if str, ok := v.(string); ok {
				rec[k] = str
			} else {
				rec[k] = fmt.Sprint(v)
			}
		}
		out = append(out, rec)
	}
	return out
}
