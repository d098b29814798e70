package dispute

import (
	"context"
	"time"
)

// CaseSource is the case management system.
type CaseSource interface {
	GetCase(ctx context.Context, caseID string) (Record, error)
	GetAccount(ctx context.Context, accountID string) (Record, error)
	UpdateCase(ctx context.Context, caseID string, resolution FinalResolution, status string) error
}

// BillingSource is the subscription billing system.
type BillingSource interface {
	// ResolveAccount maps a customer to a billing account. ok is false when none exists.
	ResolveAccount(ctx context.Context, customerID string) (accountID string, ok bool, err error)
	ActiveSubscription(ctx context.Context, accountID string) (Record, error)
	CreateRefund(ctx context.Context, accountID string, amount float64, reason string) (string, error)
}

// PaymentSource is the payment processor.
type PaymentSource interface {
	ListCharges(ctx context.Context, customerID string) (Record, error)
	// CreateRefund refunds a charge; a nil amount refunds it in full.
	CreateRefund(ctx context.Context, chargeID string, amount *float64, reason string) (string, error)
}

// GenerationCase is the dispute view handed to retrieval and generation.
type GenerationCase struct {
	CaseID      string  `json:"case_id"`
	DisputeType string  `json:"dispute_type"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Segment     string  `json:"customer_segment"`
}

// GenerationContext carries everything a generator may consider.
type GenerationContext struct {
	Case           GenerationCase `json:"case"`
	Sourced        SourcedData    `json:"sourced"`
	SimilarCases   []Record       `json:"similar_cases"`
	PolicyExcerpts []Record       `json:"policies"`
}

// Generation is the output of a Generator with its token usage.
type Generation struct {
	Proposal     ResolutionProposal
	InputTokens  int
	OutputTokens int
}

// Generator turns a context into a proposal. It is treated as a black box.
type Generator interface {
	Generate(ctx context.Context, in GenerationContext) (Generation, error)
}

// Retriever supplies precedent cases and policy excerpts, and archives results.
type Retriever interface {
	SimilarCases(ctx context.Context, c GenerationCase) ([]Record, error)
	RelevantPolicies(ctx context.Context, c GenerationCase) ([]Record, error)
}

// Archiver keeps resolved disputes for future retrieval.
type Archiver interface {
	StoreResolution(ctx context.Context, run *Run) error
}

// ReviewRequest is sent to reviewers when a proposal is ready.
type ReviewRequest struct {
	RunID       string             `json:"run_id"`
	CaseID      string             `json:"case_id"`
	CustomerID  string             `json:"customer_id"`
	Resolution  ResolutionProposal `json:"resolution"`
	Summary     CaseSummary        `json:"case_summary"`
	SystemData  SourcedData        `json:"system_data"`
	RequestedAt time.Time          `json:"requested_at"`
	Reminder    bool               `json:"reminder,omitempty"`
}

// CaseSummary is the human readable header of a review request.
type CaseSummary struct {
	CustomerName string  `json:"customer_name"`
	DisputeType  string  `json:"dispute_type"`
	Amount       float64 `json:"amount"`
	Description  string  `json:"description"`
}

// CompletionNotice is sent once a run reaches a terminal state after review.
type CompletionNotice struct {
	RunID        string           `json:"run_id"`
	CaseID       string           `json:"case_id"`
	CustomerName string           `json:"customer_name"`
	Decision     ReviewStatus     `json:"decision"`
	Status       Status           `json:"status"`
	Resolution   *FinalResolution `json:"resolution,omitempty"`
}

// Notifier delivers reviewer and completion messages. Delivery is best effort.
type Notifier interface {
	NotifyPendingReview(ctx context.Context, req ReviewRequest) error
	NotifyCompletion(ctx context.Context, notice CompletionNotice) error
}

// NewReviewRequest builds the reviewer payload from a run.
func NewReviewRequest(run *Run, at time.Time) ReviewRequest {
	facts := FactsOf(run.SourcedData)
	req := ReviewRequest{
		RunID:      run.RunID,
		CaseID:     run.CaseID,
		CustomerID: run.CustomerID,
		Summary: CaseSummary{
			CustomerName: orDefault(facts.CustomerName, "Unknown"),
			DisputeType:  orDefault(facts.DisputeType, "Unknown"),
			Amount:       facts.Amount,
			Description:  facts.Description,
		},
		SystemData:  run.Clone().SourcedData,
		RequestedAt: at,
	}
	if run.ResolutionProposal != nil {
		req.Resolution = *run.ResolutionProposal.Clone()
	}
	return req
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
