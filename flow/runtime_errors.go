package flow

import (
	"fmt"

	apperrors "github.com/goliatone/go-errors"

	dispute "github.com/goliatone/go-dispute"
)

const (
	ErrCodeInvalidTransition = "FLOW_INVALID_TRANSITION"
	ErrCodeInvalidTable      = "FLOW_INVALID_TABLE"
)

var (
	ErrInvalidTransition = apperrors.New("invalid transition", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidTransition)
	ErrInvalidTable = apperrors.New("invalid transition table", apperrors.CategoryValidation).
			WithTextCode(ErrCodeInvalidTable)
)

func invalidTransition(step dispute.Step, outcome Outcome) error {
	return dispute.NewError(ErrInvalidTransition, fmt.Sprintf("no transition from %s on %q", step, outcome), nil, map[string]any{
		"step":    string(step),
		"outcome": string(outcome),
	})
}

func invalidTable(format string, args ...any) error {
	return dispute.NewError(ErrInvalidTable, fmt.Sprintf(format, args...), nil, nil)
}

// halts reports whether err must stop the engine without routing the run
// to handle_error. Store failures leave the run at its last durable state,
// and a lost version race belongs to whoever won it.
func halts(err error) bool {
	switch dispute.ErrorCode(err) {
	case dispute.ErrCodePersistence, dispute.ErrCodeVersionConflict, dispute.ErrCodeNotFound:
		return true
	}
	return false
}

func preconditionFailed(run *dispute.Run, reason string) error {
	return dispute.NewError(dispute.ErrPreconditionFailed, reason, nil, map[string]any{
		"run_id":       run.RunID,
		"current_step": string(run.CurrentStep),
		"review":       string(run.HumanReview.Status),
	})
}

func runNotFound(runID string) error {
	return dispute.NewError(dispute.ErrNotFound, "run not found", nil, map[string]any{"run_id": runID})
}
