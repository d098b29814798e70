package dispute

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackResolutionTiers(t *testing.T) {
	tests := []struct {
		name       string
		amount     float64
		segment    string
		action     Action
		refund     float64
		confidence float64
		risk       RiskLevel
	}{
		{name: "small amount", amount: 30, segment: "Standard", action: ActionFullRefund, refund: 30, confidence: 0.8, risk: RiskLow},
		{name: "medium premium", amount: 100, segment: "Premium", action: ActionPartialRefund, refund: 75, confidence: 0.6, risk: RiskMedium},
		{name: "medium standard", amount: 100, segment: "Standard", action: ActionPartialRefund, refund: 50, confidence: 0.6, risk: RiskMedium},
		{name: "medium unknown segment", amount: 150, segment: "", action: ActionPartialRefund, refund: 75, confidence: 0.6, risk: RiskMedium},
		{name: "boundary 50 is medium", amount: 50, segment: "Standard", action: ActionPartialRefund, refund: 25, confidence: 0.6, risk: RiskMedium},
		{name: "large amount", amount: 500, segment: "Premium", action: ActionDenyRefund, refund: 0, confidence: 0.4, risk: RiskHigh},
		{name: "boundary 200 is large", amount: 200, segment: "Standard", action: ActionDenyRefund, refund: 0, confidence: 0.4, risk: RiskHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := FallbackResolution("case-1", tt.amount, tt.segment)
			assert.Equal(t, tt.action, p.Action)
			assert.InDelta(t, tt.refund, p.Amount, 1e-9)
			assert.InDelta(t, tt.confidence, p.Confidence, 1e-9)
			assert.Equal(t, tt.risk, p.RiskLevel)
			assert.True(t, p.RequiresHumanReview)
			assert.True(t, p.FallbackUsed)
			assert.Equal(t, "case-1", p.CaseID)
			assert.NoError(t, p.Check())
		})
	}
}

func TestFallbackResolutionMentionsSegment(t *testing.T) {
	p := FallbackResolution("c", 120, "Premium")
	assert.Contains(t, p.Reason, "Premium tier")
}

func TestCaseCommentFormat(t *testing.T) {
	assert.Equal(t,
		"Dispute Resolution: full_refund - $40. Reason: Small amount",
		CaseComment(ActionFullRefund, 40, "Small amount"),
	)
	assert.Equal(t,
		"Dispute Resolution: partial_refund - $37.50. Reason: No reason provided",
		CaseComment(ActionPartialRefund, 37.5, ""),
	)
}

func TestPriceTokens(t *testing.T) {
	cost := PriceTokens(1_000_000, 500_000)
	assert.InDelta(t, 0.15, cost.InputCost, 1e-12)
	assert.InDelta(t, 0.30, cost.OutputCost, 1e-12)
	assert.InDelta(t, 0.45, cost.TotalCost, 1e-12)

	zero := PriceTokens(-5, 0)
	assert.Equal(t, 0, zero.InputTokens)
	assert.Zero(t, zero.TotalCost)
}
