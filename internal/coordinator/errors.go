package coordinator

import "errors"

// Error kinds surfaced by a run. Fatal kinds abort the whole run; per-cell
// kinds are recorded on that cell's result by the driver and, depending on
// the stop-on-error policy, halt the loop or allow continuation.
var (
	// ErrPublishFailed marks a failure while announcing notebook structure.
	// Partial publication leaves the log unusable for this run, so it is
	// fatal and aborts before any execution request is issued.
	ErrPublishFailed = errors.New("structure publish failed")

	// ErrBackendUnavailable means no ready backend session appeared within
	// the bounded readiness wait for a cell.
	ErrBackendUnavailable = errors.New("no ready execution backend session")

	// ErrExecutionTimeout means neither a completed nor a failed signal
	// arrived within the execution timeout. The backend-side execution is
	// not retracted and may still finish after the coordinator stops
	// listening; that orphan is accepted as benign.
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrBackendFailure is a failed status reported directly by the backend.
	ErrBackendFailure = errors.New("backend reported execution failure")

	// ErrLogicalFailure is a request the backend marked completed whose cell
	// outputs carry an error. The backend's completed status only means "the
	// backend finished running the request", not "the code succeeded"; the
	// two are decoupled in the backend's contract and must not be conflated.
	ErrLogicalFailure = errors.New("execution completed with error output")
)
