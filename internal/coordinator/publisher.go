package coordinator

import (
	"context"
	"fmt"

	"github.com/vk/runbook/internal/ctxlog"
	"github.com/vk/runbook/internal/eventlog"
	"github.com/vk/runbook/internal/fracindex"
	"github.com/vk/runbook/internal/notebook"
)

// publishStructure announces the notebook and its finalized (post-injection)
// cell list to the shared log, once, at the start of a run. Order keys are
// assigned here, walking the list left to right, so later insertions by other
// writers never force a renumber. Any failure is fatal to the run.
func (c *Coordinator) publishStructure(ctx context.Context, doc *notebook.Document) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("📓 Publishing notebook structure", "notebook_id", c.namespace, "cells", len(doc.Cells))

	err := c.store.Append(ctx, eventlog.Event{
		Type: eventlog.EventNotebookCreated,
		Payload: map[string]string{
			eventlog.FieldNotebookID: c.namespace,
			eventlog.FieldTitle:      doc.Title,
			eventlog.FieldOwner:      "coordinator",
		},
	})
	if err != nil {
		return fmt.Errorf("%w: notebook announce: %v", ErrPublishFailed, err)
	}

	prevKey := ""
	for _, cell := range doc.Cells {
		key, err := fracindex.KeyBetween(prevKey, "")
		if err != nil {
			return fmt.Errorf("%w: order key for cell %q: %v", ErrPublishFailed, cell.ID, err)
		}
		cell.OrderKey = key
		prevKey = key

		err = c.store.Append(ctx, eventlog.Event{
			Type: eventlog.EventCellCreated,
			Payload: map[string]string{
				eventlog.FieldNotebookID: c.namespace,
				eventlog.FieldCellID:     cell.ID,
				eventlog.FieldOrderKey:   key,
				eventlog.FieldKind:       "code",
			},
		})
		if err != nil {
			return fmt.Errorf("%w: cell announce %q: %v", ErrPublishFailed, cell.ID, err)
		}

		// Cell creation strictly precedes the cell's source announcement.
		err = c.store.Append(ctx, eventlog.Event{
			Type: eventlog.EventCellSource,
			Payload: map[string]string{
				eventlog.FieldCellID: cell.ID,
				eventlog.FieldSource: cell.Source,
			},
		})
		if err != nil {
			return fmt.Errorf("%w: cell source %q: %v", ErrPublishFailed, cell.ID, err)
		}

		logger.Debug("Cell published.", "cell", cell.ID, "order_key", key)
	}
	return nil
}
