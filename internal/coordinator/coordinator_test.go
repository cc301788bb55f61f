package coordinator

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/runbook/internal/eventlog"
	"github.com/vk/runbook/internal/memlog"
	"github.com/vk/runbook/internal/notebook"
	"github.com/vk/runbook/internal/testutil"
)

func TestPublishAssignsOrderedKeys(t *testing.T) {
	ctx := context.Background()
	store := memlog.New("test")
	c := New(Options{Store: store, Namespace: "nb", SkipExecution: true})
	defer c.Cleanup(ctx)

	doc := docWithCells("setup", "compute", "report")
	_, err := c.Run(ctx, doc, nil)
	require.NoError(t, err)

	cells, err := store.Query(ctx, eventlog.Filter{Table: eventlog.TableCells})
	require.NoError(t, err)
	require.Len(t, cells, 3)

	// Sorting by order key must reproduce document order.
	sort.Slice(cells, func(i, j int) bool {
		return cells[i][eventlog.FieldOrderKey] < cells[j][eventlog.FieldOrderKey]
	})
	ids := make([]string, 0, 3)
	for _, rec := range cells {
		ids = append(ids, rec[eventlog.FieldCellID])
		assert.NotEmpty(t, rec[eventlog.FieldOrderKey])
		assert.Equal(t, "pass", rec[eventlog.FieldSource], "source must be announced after creation")
	}
	assert.Equal(t, []string{"setup", "compute", "report"}, ids)

	notebooks, err := store.Query(ctx, eventlog.Filter{Table: eventlog.TableNotebooks})
	require.NoError(t, err)
	require.Len(t, notebooks, 1)
	assert.Equal(t, "nb", notebooks[0][eventlog.FieldNotebookID])
}

func TestPublishFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	store := memlog.New("test")
	require.NoError(t, store.Close(ctx))

	c := New(Options{Store: store, Namespace: "nb"})
	_, err := c.Run(ctx, docWithCells("a"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPublishFailed))
}

func TestRunInjectsParametersAsLeadingCell(t *testing.T) {
	ctx := context.Background()
	store := memlog.New("test")

	backend := testutil.NewScriptedBackend(store, nil)
	require.NoError(t, backend.Start(ctx))
	defer backend.Stop()

	c := New(Options{
		Store:       store,
		Namespace:   "nb",
		StopOnError: true,
		ConfiguredParams: map[string]cty.Value{
			"b": cty.NumberIntVal(3),
			"c": cty.NumberIntVal(4),
		},
	})
	defer c.Cleanup(ctx)

	doc := docWithCells("compute")
	doc.Parameters = map[string]cty.Value{
		"a": cty.NumberIntVal(1),
		"b": cty.NumberIntVal(2),
	}

	agg, err := c.Run(ctx, doc, map[string]cty.Value{"c": cty.NumberIntVal(5)})
	require.NoError(t, err)
	require.True(t, agg.Success)

	// The synthetic cell executes first.
	require.Len(t, agg.Results, 2)
	assert.Equal(t, notebook.ParametersCellID, agg.Results[0].CellID)
	assert.Equal(t, "compute", agg.Results[1].CellID)

	cells, err := store.Query(ctx, eventlog.Filter{
		Table: eventlog.TableCells,
		Eq:    map[string]string{eventlog.FieldCellID: notebook.ParametersCellID},
	})
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, "a = 1\nb = 3\nc = 5\n", cells[0][eventlog.FieldSource])
}

func TestSummaryCondensesAggregate(t *testing.T) {
	doc := docWithCells("a", "b", "c")
	outcomes := map[string]testutil.Outcome{
		"b": {Fail: true},
	}
	ctx := context.Background()

	store := memlog.New("test")
	backend := testutil.NewScriptedBackend(store, outcomes)
	require.NoError(t, backend.Start(ctx))
	defer backend.Stop()

	c := New(Options{Store: store, Namespace: "nb", StopOnError: false})
	defer c.Cleanup(ctx)

	_, err := c.Run(ctx, doc, nil)
	require.NoError(t, err)

	sum := c.Summary()
	assert.False(t, sum.Success)
	assert.Equal(t, 2, sum.SuccessfulCount)
	assert.Equal(t, []string{"b"}, sum.FailedIDs)
	assert.Equal(t, "memory://test", sum.Location)
	assert.Greater(t, sum.TotalDuration.Nanoseconds(), int64(0))
}

func TestSummaryBeforeRunStillReportsLocation(t *testing.T) {
	store := memlog.New("test")
	c := New(Options{Store: store, Namespace: "nb"})

	sum := c.Summary()
	assert.False(t, sum.Success)
	assert.Equal(t, "memory://test", sum.Location)
}

func TestCleanupIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memlog.New("test")

	backend := testutil.NewScriptedBackend(store, nil)
	require.NoError(t, backend.Start(ctx))
	defer backend.Stop()

	c := New(Options{Store: store, Namespace: "nb", StopOnError: true})
	_, err := c.Run(ctx, docWithCells("a"), nil)
	require.NoError(t, err)

	// Calling cleanup twice produces no error and no duplicate teardown.
	c.Cleanup(ctx)
	c.Cleanup(ctx)
}

func TestCleanupWithoutRunIsSafe(t *testing.T) {
	store := memlog.New("test")
	c := New(Options{Store: store, Namespace: "nb"})
	c.Cleanup(context.Background())
	c.Cleanup(context.Background())
}
