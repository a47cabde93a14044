package runtime

import (
	"fmt"

	"github.com/pithecene-io/taskmanager/types"
)

// Exit codes reported by the run command.
const (
	ExitCodeCommitted         = 0 // every task committed
	ExitCodeFailed            = 1 // failed and rolled back
	ExitCodeNeedsIntervention = 2 // a commit or rollback failed
	ExitCodeInvalidInput      = 3 // invalid arguments or batch definition
)

// Outcome summarizes a finished batch run for callers that report a single
// result, such as the CLI.
type Outcome struct {
	Status            types.Status `json:"status"`
	Message           string       `json:"message"`
	ExitCode          int          `json:"exit_code"`
	NeedsIntervention bool         `json:"needs_intervention"`
}

// DetermineOutcome maps a finished batch run to an outcome.
//
// Exit code mapping:
//   - 0: status committed
//   - 1: any failure that was fully compensated
//   - 2: a commit or rollback failed (operator intervention required)
func DetermineOutcome(br *types.BatchRun) *Outcome {
	status := br.Status()
	out := &Outcome{
		Status:            status,
		Message:           br.Message(),
		NeedsIntervention: br.NeedsIntervention(),
	}

	switch {
	case out.NeedsIntervention:
		out.ExitCode = ExitCodeNeedsIntervention
	case status == types.StatusCommitted:
		out.ExitCode = ExitCodeCommitted
		if out.Message == "" {
			out.Message = fmt.Sprintf("batch run committed (%d tasks)", len(types.Latest(br.Runs)))
		}
	default:
		out.ExitCode = ExitCodeFailed
	}
	return out
}
