package dispute

import (
	"fmt"
	"math"
	"strings"
)

// Action is the kind of remedy a resolution applies.
type Action string

const (
	ActionFullRefund    Action = "full_refund"
	ActionPartialRefund Action = "partial_refund"
	ActionDenyRefund    Action = "deny_refund"
	ActionAccountCredit Action = "account_credit"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionFullRefund, ActionPartialRefund, ActionDenyRefund, ActionAccountCredit:
		return true
	}
	return false
}

// MovesMoney reports whether executing a issues a refund.
func (a Action) MovesMoney() bool {
	return a == ActionFullRefund || a == ActionPartialRefund
}

// RiskLevel grades a proposal.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ResolutionProposal is a recommended remedy awaiting human sign-off.
type ResolutionProposal struct {
	CaseID              string         `json:"case_id,omitempty"`
	Action              Action         `json:"action" validate:"required,oneof=full_refund partial_refund deny_refund account_credit"`
	Amount              float64        `json:"amount" validate:"gte=0"`
	Reason              string         `json:"reason" validate:"required"`
	Confidence          float64        `json:"confidence" validate:"gte=0,lte=1"`
	RequiresHumanReview bool           `json:"requires_human_review"`
	SupportingFactors   []string       `json:"supporting_factors,omitempty"`
	RiskLevel           RiskLevel      `json:"risk_level,omitempty"`
	ChargeID            string         `json:"charge_id,omitempty"`
	FromCache           bool           `json:"from_cache,omitempty"`
	FallbackUsed        bool           `json:"fallback_used,omitempty"`
	Cost                GenerationCost `json:"cost"`
}

// Clone returns a deep copy.
func (p *ResolutionProposal) Clone() *ResolutionProposal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.SupportingFactors = append([]string(nil), p.SupportingFactors...)
	return &cp
}

// Check validates a proposal's shape without mutating it.
func (p *ResolutionProposal) Check() error {
	if p == nil {
		return NewError(ErrValidation, "resolution proposal required", nil, nil)
	}
	if !p.Action.Valid() {
		return NewError(ErrValidation, fmt.Sprintf("unknown action %q", p.Action), nil, nil)
	}
	if p.Amount < 0 || math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) {
		return NewError(ErrValidation, "amount must be a non-negative number", nil, map[string]any{"amount": p.Amount})
	}
	if strings.TrimSpace(p.Reason) == "" {
		return NewError(ErrValidation, "reason required", nil, nil)
	}
	if p.Confidence < 0 || p.Confidence > 1 || math.IsNaN(p.Confidence) {
		return NewError(ErrValidation, "confidence must be within [0,1]", nil, map[string]any{"confidence": p.Confidence})
	}
	return nil
}

// Normalize forces the review requirement and fills defaults.
func (p *ResolutionProposal) Normalize(caseID string) {
	if p == nil {
		return
	}
	p.RequiresHumanReview = true
	if p.CaseID == "" {
		p.CaseID = caseID
	}
	if p.RiskLevel == "" {
		p.RiskLevel = RiskMedium
	}
	p.Reason = strings.TrimSpace(p.Reason)
}

// CaseComment renders the note left on the case once a resolution executes.
func CaseComment(action Action, amount float64, reason string) string {
	if reason == "" {
		reason = "No reason provided"
	}
	return fmt.Sprintf("Dispute Resolution: %s - $%s. Reason: %s", action, formatAmount(amount), reason)
}

func formatAmount(amount float64) string {
	if amount == math.Trunc(amount) {
		return fmt.Sprintf("%.0f", amount)
	}
	return fmt.Sprintf("%.2f", amount)
}
