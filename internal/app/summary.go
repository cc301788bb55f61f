package app

import (
	"fmt"
	"time"

	"github.com/vk/runbook/internal/coordinator"
)

// timeRound keeps reported durations readable.
const timeRound = time.Millisecond

// printSummary writes the human-readable run report to the app's output
// writer. The live-view location is always reported, success or not:
// observability into a failed run is a first-class requirement.
func (a *App) printSummary(sum coordinator.Summary, agg *coordinator.Aggregate) {
	fmt.Fprintln(a.outW)
	if sum.Success {
		fmt.Fprintln(a.outW, "Run succeeded.")
	} else {
		fmt.Fprintln(a.outW, "Run failed.")
	}
	fmt.Fprintf(a.outW, "  cells run:  %d (%d ok, %d failed)\n",
		len(agg.Results), sum.SuccessfulCount, len(sum.FailedIDs))
	fmt.Fprintf(a.outW, "  duration:   %s\n", sum.TotalDuration.Round(timeRound))
	fmt.Fprintf(a.outW, "  live view:  %s\n", sum.Location)

	for _, res := range agg.Results {
		switch {
		case res.Skipped:
			fmt.Fprintf(a.outW, "  - %s: not run\n", res.CellID)
		case res.Success:
			fmt.Fprintf(a.outW, "  - %s: ok (%s)\n", res.CellID, res.Duration.Round(timeRound))
		default:
			fmt.Fprintf(a.outW, "  - %s: FAILED: %s\n", res.CellID, res.Error)
		}
	}
}
