package reconcile

import "context"

// ProgressFunc receives progress updates for a run or batch session.
type ProgressFunc func(percent int, message string)

// RunContext carries per-execution state into every reconciliation step in
// place of fields on the orchestrator. Progress and Canceled may be nil.
type RunContext struct {
	RunID    string
	Progress ProgressFunc
	Canceled func() bool
}

func (rc RunContext) report(percent int, message string) {
	if rc.Progress != nil {
		rc.Progress(percent, message)
	}
}

// stopped reports whether work should end before the next item.
func (rc RunContext) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return rc.Canceled != nil && rc.Canceled()
}
