package coordinator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/vk/runbook/internal/ctxlog"
	"github.com/vk/runbook/internal/eventlog"
	"github.com/vk/runbook/internal/notebook"
)

// submit announces one execution request for the cell and returns the fresh
// request id for the watcher to key on. Submission is fire-and-forget into
// the log; the sequence number is the 1-based count of requests issued so far.
func (c *Coordinator) submit(ctx context.Context, cell *notebook.Cell) (string, error) {
	requestID := uuid.NewString()
	c.sequence++

	err := c.store.Append(ctx, eventlog.Event{
		Type: eventlog.EventExecutionRequested,
		Payload: map[string]string{
			eventlog.FieldRequestID: requestID,
			eventlog.FieldCellID:    cell.ID,
			eventlog.FieldSequence:  strconv.Itoa(c.sequence),
			eventlog.FieldStatus:    eventlog.StatusPending,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit execution request for cell %q: %w", cell.ID, err)
	}

	ctxlog.FromContext(ctx).Debug("Execution request submitted.",
		"cell", cell.ID, "request_id", requestID, "sequence", c.sequence)
	return requestID, nil
}
