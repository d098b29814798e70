package store

import (
	"context"
	"time"

	dispute "github.com/goliatone/go-dispute"
)

// AnyVersion disables the optimistic version check on a write.
const AnyVersion = -1

// RunStore persists dispute runs. Every write is compare-and-set on Version
// unless AnyVersion is passed. Get returns (nil, nil) when the run is absent.
type RunStore interface {
	Create(ctx context.Context, run *dispute.Run) (*dispute.Run, error)
	Get(ctx context.Context, runID string) (*dispute.Run, error)
	Patch(ctx context.Context, runID string, expectedVersion int, patch Patch) (*dispute.Run, error)
	ListByCase(ctx context.Context, caseID string) ([]*dispute.Run, error)
	ListByStep(ctx context.Context, step dispute.Step, limit int) ([]*dispute.Run, error)
	MarkCompleted(ctx context.Context, runID string, expectedVersion int, final dispute.FinalResolution) (*dispute.Run, error)
	MarkFailed(ctx context.Context, runID string, expectedVersion int, message string) (*dispute.Run, error)
}

// Patch is a partial update. Nil fields are left untouched; set fields
// replace the stored value wholesale.
type Patch struct {
	CurrentStep        *dispute.Step
	Status             *dispute.Status
	SourcedData        *dispute.SourcedData
	ResolutionProposal *dispute.ResolutionProposal
	HumanReview        *dispute.HumanReview
	FinalResolution    *dispute.FinalResolution
	ErrorMessage       *string
	Costs              *Costs
	CompletedAt        *time.Time
}

// Costs is the cost portion of a patch.
type Costs struct {
	LLMCost   float64
	TotalCost float64
	Breakdown dispute.CostBreakdown
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.CurrentStep == nil &&
		p.Status == nil &&
		p.SourcedData == nil &&
		p.ResolutionProposal == nil &&
		p.HumanReview == nil &&
		p.FinalResolution == nil &&
		p.ErrorMessage == nil &&
		p.Costs == nil &&
		p.CompletedAt == nil
}

// Apply returns a copy of run with the patch applied and the version bumped.
func Apply(run *dispute.Run, p Patch, now time.Time) *dispute.Run {
	out := run.Clone()
	if p.CurrentStep != nil {
		out.CurrentStep = *p.CurrentStep
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.SourcedData != nil {
		cp := (&dispute.Run{SourcedData: *p.SourcedData}).Clone()
		out.SourcedData = cp.SourcedData
	}
	if p.ResolutionProposal != nil {
		out.ResolutionProposal = p.ResolutionProposal.Clone()
	}
	if p.HumanReview != nil {
		cp := (&dispute.Run{HumanReview: *p.HumanReview}).Clone()
		out.HumanReview = cp.HumanReview
	}
	if p.FinalResolution != nil {
		final := *p.FinalResolution
		out.FinalResolution = &final
	}
	if p.ErrorMessage != nil {
		out.ErrorMessage = *p.ErrorMessage
	}
	if p.Costs != nil {
		out.LLMCost = p.Costs.LLMCost
		out.TotalCost = p.Costs.TotalCost
		out.CostBreakdown = p.Costs.Breakdown
	}
	if p.CompletedAt != nil {
		at := p.CompletedAt.UTC()
		out.CompletedAt = &at
	}
	out.Version++
	out.UpdatedAt = now.UTC()
	return out
}

// CompletedPatch marks a run completed with its executed resolution.
func CompletedPatch(final dispute.FinalResolution, at time.Time) Patch {
	step := dispute.StepCompleted
	status := dispute.StatusCompleted
	empty := ""
	return Patch{
		CurrentStep:     &step,
		Status:          &status,
		FinalResolution: &final,
		ErrorMessage:    &empty,
		CompletedAt:     &at,
	}
}

// FailedPatch marks a run failed.
func FailedPatch(message string, at time.Time) Patch {
	step := dispute.StepError
	status := dispute.StatusFailed
	if message == "" {
		message = "unknown error"
	}
	return Patch{
		CurrentStep:  &step,
		Status:       &status,
		ErrorMessage: &message,
		CompletedAt:  &at,
	}
}

func checkVersion(run *dispute.Run, expectedVersion int) error {
	if expectedVersion == AnyVersion || run.Version == expectedVersion {
		return nil
	}
	return versionConflict(run.RunID, expectedVersion, run.Version)
}

func versionConflict(runID string, expected, actual int) error {
	return dispute.NewError(dispute.ErrVersionConflict, "run was modified concurrently", nil, map[string]any{
		"run_id":           runID,
		"expected_version": expected,
		"actual_version":   actual,
	})
}

func notFound(runID string) error {
	return dispute.NewError(dispute.ErrNotFound, "run not found", nil, map[string]any{"run_id": runID})
}

func prepareCreate(run *dispute.Run, now time.Time) (*dispute.Run, error) {
	if run == nil || run.RunID == "" {
		return nil, dispute.NewError(dispute.ErrValidation, "run id required", nil, nil)
	}
	out := run.Clone()
	out.Version = 1
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now.UTC()
	}
	out.UpdatedAt = now.UTC()
	return out, nil
}

func exists(runID string) error {
	return dispute.NewError(dispute.ErrVersionConflict, "run already exists", nil, map[string]any{"run_id": runID})
}
