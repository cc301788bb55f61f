package memlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/runbook/internal/eventlog"
)

func requestEvent(requestID, cellID string) eventlog.Event {
	return eventlog.Event{
		Type: eventlog.EventExecutionRequested,
		Payload: map[string]string{
			eventlog.FieldRequestID: requestID,
			eventlog.FieldCellID:    cellID,
		},
	}
}

func statusEvent(requestID, status string) eventlog.Event {
	return eventlog.Event{
		Type: eventlog.EventExecutionStatus,
		Payload: map[string]string{
			eventlog.FieldRequestID: requestID,
			eventlog.FieldStatus:    status,
		},
	}
}

func TestAppendAndQuery(t *testing.T) {
	s := New("test")
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, requestEvent("r1", "cell-a")))
	require.NoError(t, s.Append(ctx, requestEvent("r2", "cell-b")))

	// Requests materialize in pending status.
	records, err := s.Query(ctx, eventlog.Filter{
		Table: eventlog.TableExecutions,
		Eq:    map[string]string{eventlog.FieldStatus: eventlog.StatusPending},
	})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, s.Append(ctx, statusEvent("r1", eventlog.StatusCompleted)))

	records, err = s.Query(ctx, eventlog.Filter{
		Table: eventlog.TableExecutions,
		Eq: map[string]string{
			eventlog.FieldRequestID: "r1",
			eventlog.FieldStatus:    eventlog.StatusCompleted,
		},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cell-a", records[0][eventlog.FieldCellID])
}

func TestSubscribeNotifiesOnMatchingChange(t *testing.T) {
	s := New("test")
	ctx := context.Background()

	var notified [][]eventlog.Record
	sub, err := s.Subscribe(ctx, eventlog.Filter{
		Table: eventlog.TableExecutions,
		Eq: map[string]string{
			eventlog.FieldRequestID: "r1",
			eventlog.FieldStatus:    eventlog.StatusCompleted,
		},
	}, func(records []eventlog.Record) {
		notified = append(notified, records)
	})
	require.NoError(t, err)

	// A pending request does not match the completed filter.
	require.NoError(t, s.Append(ctx, requestEvent("r1", "cell-a")))
	assert.Empty(t, notified)

	// A different request completing does not fire either.
	require.NoError(t, s.Append(ctx, requestEvent("r2", "cell-b")))
	require.NoError(t, s.Append(ctx, statusEvent("r2", eventlog.StatusCompleted)))
	assert.Empty(t, notified)

	require.NoError(t, s.Append(ctx, statusEvent("r1", eventlog.StatusCompleted)))
	require.Len(t, notified, 1)
	require.Len(t, notified[0], 1)
	assert.Equal(t, "r1", notified[0][0][eventlog.FieldRequestID])

	require.NoError(t, sub.Unsubscribe())
}

func TestSubscribeDeliversCurrentStateUpFront(t *testing.T) {
	s := New("test")
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, requestEvent("r1", "cell-a")))
	require.NoError(t, s.Append(ctx, statusEvent("r1", eventlog.StatusCompleted)))

	fired := 0
	_, err := s.Subscribe(ctx, eventlog.Filter{
		Table: eventlog.TableExecutions,
		Eq:    map[string]string{eventlog.FieldStatus: eventlog.StatusCompleted},
	}, func(records []eventlog.Record) {
		fired++
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fired, "existing matches must be delivered on registration")
}

func TestUnsubscribeDuringDispatchIsRejected(t *testing.T) {
	s := New("test")
	ctx := context.Background()

	var sub eventlog.Subscription
	var inlineErr error
	done := make(chan struct{})

	var err error
	sub, err = s.Subscribe(ctx, eventlog.Filter{
		Table: eventlog.TableExecutions,
	}, func(records []eventlog.Record) {
		inlineErr = sub.Unsubscribe()
		close(done)
	})
	require.NoError(t, err)

	require.NoError(t, s.Append(ctx, requestEvent("r1", "cell-a")))
	<-done

	// Inline teardown from the query's own dispatch must be rejected; a
	// deferred teardown on a later turn succeeds.
	require.Error(t, inlineErr)
	require.NoError(t, sub.Unsubscribe())
}

func TestUnsubscribedQueryStopsFiring(t *testing.T) {
	s := New("test")
	ctx := context.Background()

	fired := 0
	sub, err := s.Subscribe(ctx, eventlog.Filter{
		Table: eventlog.TableExecutions,
	}, func(records []eventlog.Record) {
		fired++
	})
	require.NoError(t, err)

	require.NoError(t, s.Append(ctx, requestEvent("r1", "cell-a")))
	assert.Equal(t, 1, fired)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, s.Append(ctx, requestEvent("r2", "cell-b")))
	assert.Equal(t, 1, fired)
}

func TestCellSourceUpdatesCellRecord(t *testing.T) {
	s := New("test")
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, eventlog.Event{
		Type: eventlog.EventCellCreated,
		Payload: map[string]string{
			eventlog.FieldCellID:   "setup",
			eventlog.FieldOrderKey: "V",
		},
	}))
	require.NoError(t, s.Append(ctx, eventlog.Event{
		Type: eventlog.EventCellSource,
		Payload: map[string]string{
			eventlog.FieldCellID: "setup",
			eventlog.FieldSource: "x = 1",
		},
	}))

	records, err := s.Query(ctx, eventlog.Filter{
		Table: eventlog.TableCells,
		Eq:    map[string]string{eventlog.FieldCellID: "setup"},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "x = 1", records[0][eventlog.FieldSource])
	assert.Equal(t, "V", records[0][eventlog.FieldOrderKey])
}

func TestSourceForUnknownCellFails(t *testing.T) {
	s := New("test")
	err := s.Append(context.Background(), eventlog.Event{
		Type:    eventlog.EventCellSource,
		Payload: map[string]string{eventlog.FieldCellID: "ghost"},
	})
	require.Error(t, err)
}

func TestClosedStoreRejectsEverything(t *testing.T) {
	s := New("test")
	ctx := context.Background()
	require.NoError(t, s.Close(ctx))

	assert.Error(t, s.Append(ctx, requestEvent("r1", "cell-a")))
	_, err := s.Query(ctx, eventlog.Filter{Table: eventlog.TableExecutions})
	assert.Error(t, err)
	_, err = s.Subscribe(ctx, eventlog.Filter{Table: eventlog.TableExecutions}, func([]eventlog.Record) {})
	assert.Error(t, err)

	// Close stays idempotent.
	require.NoError(t, s.Close(ctx))
}
