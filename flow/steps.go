package flow

import (
	"context"
	"fmt"

	dispute "github.com/goliatone/go-dispute"
	"github.com/goliatone/go-dispute/runner"
	"github.com/goliatone/go-dispute/store"
)

// CaseResolvedStatus is the case status written once a resolution executes.
const CaseResolvedStatus = "Resolved"

func (e *Engine) defaultExecutors() map[dispute.Step]StepExecutor {
	return map[dispute.Step]StepExecutor{
		dispute.StepFetchData:          e.fetchData,
		dispute.StepValidateDispute:    e.validateDispute,
		dispute.StepGenerateResolution: e.generateResolution,
		dispute.StepSendHumanReview:    e.sendHumanReview,
		dispute.StepWaitHumanReview:    e.waitHumanReview,
		dispute.StepExecuteResolution:  e.executeResolution,
		dispute.StepStoreResults:       e.storeResults,
		dispute.StepHandleError:        e.handleError,
	}
}

func (e *Engine) fetchData(ctx context.Context, in StepInput) (StepOutput, error) {
	data, err := e.deps.Fetcher.Fetch(ctx, in.RC.CaseID, in.RC.CustomerID)
	if err != nil {
		return StepOutput{}, err
	}
	if len(data.Degraded) > 0 {
		in.Logger.Warn("continuing with degraded sources %v", data.Degraded)
	}
	return StepOutput{Patch: store.Patch{SourcedData: &data}}, nil
}

func (e *Engine) validateDispute(_ context.Context, in StepInput) (StepOutput, error) {
	if err := dispute.ValidateCase(in.Run.SourcedData); err != nil {
		return StepOutput{}, err
	}
	in.Logger.Info("dispute validated")
	return StepOutput{}, nil
}

func (e *Engine) generateResolution(ctx context.Context, in StepInput) (StepOutput, error) {
	proposal, err := e.deps.Proposer.Propose(ctx, in.RC.CaseID, in.Run.SourcedData)
	if err != nil {
		return StepOutput{}, dispute.NewError(dispute.ErrTransientExternal, "resolution generation failed", err, nil)
	}
	proposal.Normalize(in.RC.CaseID)
	if err := proposal.Check(); err != nil {
		return StepOutput{}, err
	}

	llm := proposal.Cost
	costs := store.Costs{
		LLMCost:   llm.TotalCost,
		TotalCost: llm.TotalCost,
		Breakdown: dispute.CostBreakdown{LLM: llm, TotalCost: llm.TotalCost},
	}
	in.Logger.Info("proposed %s $%.2f (confidence %.2f, cached=%t, fallback=%t)",
		proposal.Action, proposal.Amount, proposal.Confidence, proposal.FromCache, proposal.FallbackUsed)
	return StepOutput{Patch: store.Patch{ResolutionProposal: &proposal, Costs: &costs}}, nil
}

func (e *Engine) sendHumanReview(ctx context.Context, in StepInput) (StepOutput, error) {
	if in.Run.ResolutionProposal == nil {
		return StepOutput{}, dispute.NewError(dispute.ErrValidation, "no resolution proposal to review", nil, nil)
	}
	now := e.now().UTC()
	if e.deps.Notifier != nil {
		req := dispute.NewReviewRequest(in.Run, now)
		err := e.sideCall.Run(ctx, func(ctx context.Context) error {
			return e.deps.Notifier.NotifyPendingReview(ctx, req)
		})
		if err != nil {
			in.Logger.Warn("review notification failed: %v", err)
		}
	}
	review := dispute.HumanReview{Status: dispute.ReviewPending, RequestedAt: &now}
	return StepOutput{Patch: store.Patch{HumanReview: &review}}, nil
}

func (e *Engine) waitHumanReview(_ context.Context, in StepInput) (StepOutput, error) {
	review := in.Run.HumanReview
	switch review.Status {
	case dispute.ReviewApproved:
		in.Logger.Info("review approved by %q", review.Reviewer)
		return StepOutput{Outcome: OutcomeApproved}, nil
	case dispute.ReviewRejected:
		msg := dispute.RejectionMessage(review.Comments)
		in.Logger.Info("review rejected by %q", review.Reviewer)
		return StepOutput{Outcome: OutcomeRejected, Patch: store.Patch{ErrorMessage: &msg}}, nil
	default:
		return StepOutput{Outcome: OutcomePending}, nil
	}
}

// executeResolution is the only caller of CreateRefund. It re-reads the run
// and refuses to move money unless the persisted review is approved and the
// caller still owns the version that claimed execution.
func (e *Engine) executeResolution(ctx context.Context, in StepInput) (StepOutput, error) {
	fresh, err := e.load(ctx, in.RC.RunID)
	if err != nil {
		return StepOutput{}, err
	}
	if fresh.HumanReview.Status != dispute.ReviewApproved {
		return StepOutput{}, dispute.NewError(dispute.ErrSecurityViolation, "refund attempted without approved human review", nil, map[string]any{
			"run_id": fresh.RunID,
			"review": string(fresh.HumanReview.Status),
		})
	}
	if fresh.Version != in.Run.Version || fresh.CurrentStep != dispute.StepExecuteResolution {
		return StepOutput{}, dispute.NewError(dispute.ErrVersionConflict, "execution claimed by another worker", nil, map[string]any{
			"run_id":           fresh.RunID,
			"expected_version": in.Run.Version,
			"actual_version":   fresh.Version,
		})
	}
	if fresh.FinalResolution != nil {
		return StepOutput{}, nil
	}

	resolution := fresh.ApprovedResolution()
	if resolution == nil {
		return StepOutput{}, dispute.NewError(dispute.ErrValidation, "approved run has no resolution", nil, nil)
	}
	if err := resolution.Check(); err != nil {
		return StepOutput{}, err
	}

	final := dispute.FinalResolution{
		Action:     resolution.Action,
		Amount:     resolution.Amount,
		Reason:     resolution.Reason,
		Confidence: resolution.Confidence,
		ApprovedBy: fresh.HumanReview.Reviewer,
	}
	if resolution.Action.MovesMoney() && resolution.Amount > 0 {
		if err := e.refund(ctx, fresh, resolution, &final); err != nil {
			return StepOutput{}, err
		}
	}
	final.ExecutedAt = e.now().UTC()

	err = e.caseCall.Run(ctx, func(ctx context.Context) error {
		return e.deps.Cases.UpdateCase(ctx, fresh.CaseID, final, CaseResolvedStatus)
	})
	if err != nil {
		in.Logger.Warn("case update failed after execution: %v", err)
	}
	in.Logger.Info("executed %s $%.2f (refund %s%s)", final.Action, final.Amount, final.RefundID, final.ChargeRefund)
	return StepOutput{Patch: store.Patch{FinalResolution: &final}}, nil
}

func (e *Engine) refund(ctx context.Context, run *dispute.Run, resolution *dispute.ResolutionProposal, final *dispute.FinalResolution) error {
	amount := resolution.Amount
	if resolution.ChargeID != "" && e.deps.Payments != nil {
		id, err := runner.Query(ctx, e.refunds, func(ctx context.Context) (string, error) {
			return e.deps.Payments.CreateRefund(ctx, resolution.ChargeID, &amount, resolution.Reason)
		})
		if err != nil {
			return dispute.NewError(dispute.ErrTransientExternal, "payment refund failed", err, map[string]any{"charge_id": resolution.ChargeID})
		}
		final.ChargeRefund = id
		return nil
	}

	accountID, err := e.billingAccount(ctx, run.CustomerID)
	if err != nil {
		return err
	}
	id, err := runner.Query(ctx, e.refunds, func(ctx context.Context) (string, error) {
		return e.deps.Billing.CreateRefund(ctx, accountID, amount, resolution.Reason)
	})
	if err != nil {
		return dispute.NewError(dispute.ErrTransientExternal, "billing refund failed", err, map[string]any{"account_id": accountID})
	}
	final.RefundID = id
	return nil
}

func (e *Engine) billingAccount(ctx context.Context, customerID string) (string, error) {
	type resolved struct {
		id string
		ok bool
	}
	acct, err := runner.Query(ctx, e.caseCall, func(ctx context.Context) (resolved, error) {
		id, ok, err := e.deps.Billing.ResolveAccount(ctx, customerID)
		return resolved{id: id, ok: ok}, err
	})
	if err != nil {
		return "", dispute.NewError(dispute.ErrTransientExternal, "billing account lookup failed", err, map[string]any{"customer_id": customerID})
	}
	if !acct.ok || acct.id == "" {
		if customerID == "" {
			return "", dispute.NewError(dispute.ErrValidation, "no billing account to refund", nil, nil)
		}
		return customerID, nil
	}
	return acct.id, nil
}

func (e *Engine) storeResults(ctx context.Context, in StepInput) (StepOutput, error) {
	if in.Run.FinalResolution == nil {
		return StepOutput{}, dispute.NewError(dispute.ErrPreconditionFailed, "no executed resolution to store", nil, nil)
	}
	if e.deps.Archiver != nil {
		err := e.sideCall.Run(ctx, func(ctx context.Context) error {
			return e.deps.Archiver.StoreResolution(ctx, in.Run)
		})
		if err != nil {
			in.Logger.Warn("archiving resolution failed: %v", err)
		}
	}
	e.notifyCompletion(ctx, in, dispute.StatusCompleted)
	in.Logger.Info("results stored (llm cost $%.6f, total $%.6f)", in.Run.LLMCost, in.Run.TotalCost)
	return StepOutput{}, nil
}

func (e *Engine) handleError(ctx context.Context, in StepInput) (StepOutput, error) {
	msg := in.Run.ErrorMessage
	if msg == "" {
		msg = fmt.Sprintf("run failed at %s", in.RC.Step)
	}
	in.Logger.Error("workflow failed: %s", msg)
	if in.Run.HumanReview.Status.Decided() {
		e.notifyCompletion(ctx, in, dispute.StatusFailed)
	}
	return StepOutput{Patch: store.Patch{ErrorMessage: &msg}}, nil
}

func (e *Engine) notifyCompletion(ctx context.Context, in StepInput, status dispute.Status) {
	if e.deps.Notifier == nil {
		return
	}
	run := in.Run
	notice := dispute.CompletionNotice{
		RunID:        run.RunID,
		CaseID:       run.CaseID,
		CustomerName: dispute.FactsOf(run.SourcedData).CustomerName,
		Decision:     run.HumanReview.Status,
		Status:       status,
		Resolution:   run.FinalResolution,
	}
	err := e.sideCall.Run(ctx, func(ctx context.Context) error {
		return e.deps.Notifier.NotifyCompletion(ctx, notice)
	})
	if err != nil {
		in.Logger.Warn("completion notification failed: %v", err)
	}
}
