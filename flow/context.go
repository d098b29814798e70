package flow

import (
	dispute "github.com/goliatone/go-dispute"
)

// RunContext identifies the run a step executes for. It is passed
// explicitly to every executor and carries the correlation fields.
type RunContext struct {
	RunID      string
	CaseID     string
	CustomerID string
	Step       dispute.Step
}

func contextOf(run *dispute.Run) RunContext {
	return RunContext{
		RunID:      run.RunID,
		CaseID:     run.CaseID,
		CustomerID: run.CustomerID,
		Step:       run.CurrentStep,
	}
}

// Fields returns the log correlation fields.
func (rc RunContext) Fields() map[string]any {
	fields := map[string]any{
		"run_id":  rc.RunID,
		"case_id": rc.CaseID,
	}
	if rc.CustomerID != "" {
		fields["customer_id"] = rc.CustomerID
	}
	if rc.Step != "" {
		fields["step"] = string(rc.Step)
	}
	return fields
}
