package dispute

import (
	"time"
)

// Step names a stage of the dispute pipeline.
type Step string

const (
	StepFetchData          Step = "fetch_data"
	StepValidateDispute    Step = "validate_dispute"
	StepGenerateResolution Step = "generate_resolution"
	StepSendHumanReview    Step = "send_human_review"
	StepWaitHumanReview    Step = "wait_human_review"
	StepExecuteResolution  Step = "execute_resolution"
	StepStoreResults       Step = "store_results"
	StepHandleError        Step = "handle_error"

	// StepCompleted and StepError are terminal markers, never executed.
	StepCompleted Step = "completed"
	StepError     Step = "error"
)

// Steps lists every executable step in pipeline order.
var Steps = []Step{
	StepFetchData,
	StepValidateDispute,
	StepGenerateResolution,
	StepSendHumanReview,
	StepWaitHumanReview,
	StepExecuteResolution,
	StepStoreResults,
	StepHandleError,
}

func (s Step) String() string { return string(s) }

// Terminal reports whether s is one of the end markers.
func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepError
}

// Status is the coarse lifecycle of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ReviewStatus is the state of the human review gate.
type ReviewStatus string

const (
	ReviewNone     ReviewStatus = ""
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Decided reports whether a reviewer has acted.
func (s ReviewStatus) Decided() bool {
	return s == ReviewApproved || s == ReviewRejected
}

// SourcedData holds the payloads gathered by the fetch step.
type SourcedData struct {
	Case         Record   `json:"case,omitempty"`
	Account      Record   `json:"account,omitempty"`
	Subscription Record   `json:"subscription,omitempty"`
	Charges      Record   `json:"charges,omitempty"`
	Degraded     []string `json:"degraded,omitempty"`
}

// HumanReview is the persisted review gate state.
type HumanReview struct {
	Status      ReviewStatus        `json:"status,omitempty"`
	Reviewer    string              `json:"reviewer,omitempty"`
	Comments    string              `json:"comments,omitempty"`
	Message     string              `json:"message,omitempty"`
	Decision    *ResolutionProposal `json:"decision,omitempty"`
	RequestedAt *time.Time          `json:"requested_at,omitempty"`
	ReviewedAt  *time.Time          `json:"reviewed_at,omitempty"`
}

// FinalResolution is the executed outcome of an approved review.
type FinalResolution struct {
	Action       Action    `json:"action"`
	Amount       float64   `json:"amount"`
	Reason       string    `json:"reason"`
	Confidence   float64   `json:"confidence"`
	RefundID     string    `json:"refund_id,omitempty"`
	ChargeRefund string    `json:"charge_refund_id,omitempty"`
	ApprovedBy   string    `json:"approved_by,omitempty"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// Run is the persisted record of one pipeline execution.
type Run struct {
	RunID              string              `json:"run_id"`
	CaseID             string              `json:"case_id"`
	CustomerID         string              `json:"customer_id"`
	CurrentStep        Step                `json:"current_step"`
	Status             Status              `json:"status"`
	SourcedData        SourcedData         `json:"sourced_data"`
	ResolutionProposal *ResolutionProposal `json:"resolution_proposal,omitempty"`
	HumanReview        HumanReview         `json:"human_review"`
	FinalResolution    *FinalResolution    `json:"final_resolution,omitempty"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	LLMCost            float64             `json:"llm_cost"`
	TotalCost          float64             `json:"total_cost"`
	CostBreakdown      CostBreakdown       `json:"cost_breakdown"`
	Version            int                 `json:"version"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
}

// AwaitingReview reports whether the run is parked at the suspension point.
func (r *Run) AwaitingReview() bool {
	return r != nil && r.CurrentStep == StepWaitHumanReview && r.Status == StatusRunning
}

// ApprovedResolution returns the resolution a reviewer signed off on,
// preferring a modified resolution over the original proposal.
func (r *Run) ApprovedResolution() *ResolutionProposal {
	if r == nil {
		return nil
	}
	if r.HumanReview.Decision != nil {
		return r.HumanReview.Decision
	}
	return r.ResolutionProposal
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	cp := *r
	cp.SourcedData = SourcedData{
		Case:         r.SourcedData.Case.Clone(),
		Account:      r.SourcedData.Account.Clone(),
		Subscription: r.SourcedData.Subscription.Clone(),
		Charges:      r.SourcedData.Charges.Clone(),
		Degraded:     append([]string(nil), r.SourcedData.Degraded...),
	}
	cp.ResolutionProposal = r.ResolutionProposal.Clone()
	cp.HumanReview.Decision = r.HumanReview.Decision.Clone()
	cp.HumanReview.RequestedAt = cloneTime(r.HumanReview.RequestedAt)
	cp.HumanReview.ReviewedAt = cloneTime(r.HumanReview.ReviewedAt)
	if r.FinalResolution != nil {
		final := *r.FinalResolution
		cp.FinalResolution = &final
	}
	cp.CostBreakdown = r.CostBreakdown
	cp.CompletedAt = cloneTime(r.CompletedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
