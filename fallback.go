package dispute

import "fmt"

const (
	smallDisputeLimit  = 50.0
	mediumDisputeLimit = 200.0
	premiumSegment     = "Premium"
)

// FallbackResolution is the deterministic proposal used when generation fails.
// It never costs anything and always requires human review.
func FallbackResolution(caseID string, amount float64, segment string) ResolutionProposal {
	if segment == "" {
		segment = DefaultSegment
	}
	p := ResolutionProposal{
		CaseID:              caseID,
		RequiresHumanReview: true,
		FallbackUsed:        true,
	}
	switch {
	case amount < smallDisputeLimit:
		p.Action = ActionFullRefund
		p.Amount = amount
		p.Reason = "Small amount dispute - approved for customer satisfaction (fallback logic)"
		p.Confidence = 0.8
		p.RiskLevel = RiskLow
		p.SupportingFactors = []string{"Small amount", "Customer satisfaction priority"}
	case amount < mediumDisputeLimit:
		ratio := 0.5
		if segment == premiumSegment {
			ratio = 0.75
		}
		p.Action = ActionPartialRefund
		p.Amount = amount * ratio
		p.Reason = fmt.Sprintf("Medium amount dispute - partial refund based on %s tier (fallback logic)", segment)
		p.Confidence = 0.6
		p.RiskLevel = RiskMedium
		p.SupportingFactors = []string{"Medium amount", segment + " customer tier"}
	default:
		p.Action = ActionDenyRefund
		p.Amount = 0
		p.Reason = "High amount dispute - requires detailed manual review (fallback logic)"
		p.Confidence = 0.4
		p.RiskLevel = RiskHigh
		p.SupportingFactors = []string{"High financial impact", "Requires detailed investigation"}
	}
	return p
}
