package flow

import (
	"context"
	"strings"

	dispute "github.com/goliatone/go-dispute"
	"github.com/goliatone/go-dispute/store"
)

// DecisionStatus reports how far a submitted decision got.
type DecisionStatus string

const (
	DecisionSuccess        DecisionStatus = "success"
	DecisionPartialSuccess DecisionStatus = "partial_success"
)

// DecisionResult is returned by SubmitDecision. PartialSuccess means the
// decision was recorded but the run could not be resumed; Resume may be
// retried.
type DecisionResult struct {
	Status   DecisionStatus       `json:"status"`
	RunID    string               `json:"run_id"`
	Decision dispute.ReviewStatus `json:"decision"`
	Message  string               `json:"message,omitempty"`
	Run      *dispute.Run         `json:"run,omitempty"`
}

// SubmitDecision records a reviewer's decision on a suspended run and
// resumes it. Invalid decisions and runs that are not awaiting review are
// rejected without touching the stored run.
func (e *Engine) SubmitDecision(ctx context.Context, decision dispute.HumanReviewDecision) (*DecisionResult, error) {
	if err := decision.Validate(); err != nil {
		return nil, err
	}

	unlock := e.locker.Lock(decision.RunID)
	defer unlock()

	run, err := e.load(ctx, decision.RunID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(strings.TrimSpace(decision.CaseID), run.CaseID) {
		return nil, dispute.NewError(dispute.ErrValidation, "case id does not match run", nil, map[string]any{
			"run_id":  run.RunID,
			"case_id": decision.CaseID,
		})
	}
	if run.FinalResolution != nil || !run.AwaitingReview() {
		return nil, preconditionFailed(run, "run is not awaiting human review")
	}
	if run.HumanReview.Status.Decided() {
		return nil, preconditionFailed(run, "decision already recorded")
	}

	reviewedAt := decision.DecidedAt
	if reviewedAt.IsZero() {
		reviewedAt = e.now()
	}
	reviewedAt = reviewedAt.UTC()

	review := run.HumanReview
	review.Status = decision.Decision
	review.Reviewer = strings.TrimSpace(decision.Reviewer)
	review.Comments = strings.TrimSpace(decision.Comments)
	review.ReviewedAt = &reviewedAt
	review.Decision = nil
	review.Message = ""
	if decision.Decision == dispute.ReviewApproved {
		chosen := run.ResolutionProposal
		if decision.ModifiedResolution != nil {
			chosen = decision.ModifiedResolution
			review.Message = "approved with modified resolution"
		}
		if chosen == nil {
			return nil, preconditionFailed(run, "no resolution to approve")
		}
		cp := chosen.Clone()
		cp.Normalize(run.CaseID)
		review.Decision = cp
	}

	logger := e.runLogger(contextOf(run))
	if _, err := e.deps.Store.Patch(ctx, run.RunID, run.Version, store.Patch{HumanReview: &review}); err != nil {
		return nil, dispute.Persistence("record review decision", err)
	}
	logger.Info("review decision %s recorded by %q", decision.Decision, review.Reviewer)

	result := &DecisionResult{RunID: run.RunID, Decision: decision.Decision}
	resumed, err := e.resumeLocked(ctx, run.RunID)
	if err != nil {
		logger.Warn("decision recorded but resume failed: %v", err)
		result.Status = DecisionPartialSuccess
		result.Message = "decision recorded, resume failed: " + errorMessage(err)
		result.Run = resumed
		if result.Run == nil {
			result.Run, _ = e.deps.Store.Get(ctx, run.RunID)
		}
		return result, nil
	}
	result.Status = DecisionSuccess
	result.Run = resumed
	return result, nil
}
