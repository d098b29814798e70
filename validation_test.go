package dispute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCase(t *testing.T) {
	tests := []struct {
		name    string
		data    SourcedData
		wantErr string
	}{
		{
			name: "billing dispute",
			data: SourcedData{Case: Record{"Dispute_Type__c": "Billing Error", "Amount__c": 40.0}},
		},
		{
			name: "charge dispute with string amount",
			data: SourcedData{Case: Record{"dispute_type": "Duplicate Charge", "amount": "12.5"}},
		},
		{
			name:    "missing case",
			data:    SourcedData{},
			wantErr: "case data not found",
		},
		{
			name:    "not billing",
			data:    SourcedData{Case: Record{"dispute_type": "technical issue", "amount": 10.0}},
			wantErr: "not a billing dispute",
		},
		{
			name:    "negative amount",
			data:    SourcedData{Case: Record{"dispute_type": "billing", "amount": -1.0}},
			wantErr: "negative amounts not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCase(tt.data)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, HasCode(err, ErrCodeValidation))
		})
	}
}

func TestHumanReviewDecisionValidate(t *testing.T) {
	d := &HumanReviewDecision{RunID: "r", CaseID: "c", Decision: " Approved "}
	require.NoError(t, d.Validate())
	assert.Equal(t, ReviewApproved, d.Decision)

	bad := &HumanReviewDecision{RunID: "r", CaseID: "c", Decision: "maybe"}
	err := bad.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))

	missing := &HumanReviewDecision{Decision: ReviewRejected}
	assert.True(t, HasCode(missing.Validate(), ErrCodeValidation))

	modifiedOnReject := &HumanReviewDecision{
		RunID:              "r",
		CaseID:             "c",
		Decision:           ReviewRejected,
		ModifiedResolution: &ResolutionProposal{Action: ActionFullRefund, Amount: 1, Reason: "x"},
	}
	assert.True(t, HasCode(modifiedOnReject.Validate(), ErrCodeValidation))

	badModified := &HumanReviewDecision{
		RunID:              "r",
		CaseID:             "c",
		Decision:           ReviewApproved,
		ModifiedResolution: &ResolutionProposal{Action: "gift_card", Amount: 1, Reason: "x"},
	}
	assert.True(t, HasCode(badModified.Validate(), ErrCodeValidation))
}

func TestRejectionMessage(t *testing.T) {
	assert.Equal(t, "Human rejected: insufficient evidence", RejectionMessage("insufficient evidence"))
	assert.Equal(t, "Human rejected: no reason provided", RejectionMessage("  "))
}

func TestFactsOfReadsAliases(t *testing.T) {
	facts := FactsOf(SourcedData{
		Case:    Record{"Id": "500X", "AccountId": "001A", "Amount__c": "99.5", "Dispute_Type__c": "Billing"},
		Account: Record{"Name": "Acme", "Customer_Segment__c": "Premium"},
	})
	assert.Equal(t, "500X", facts.CaseID)
	assert.Equal(t, "001A", facts.AccountID)
	assert.InDelta(t, 99.5, facts.Amount, 1e-9)
	assert.Equal(t, "Acme", facts.CustomerName)
	assert.Equal(t, "Premium", facts.Segment)

	empty := FactsOf(SourcedData{})
	assert.Equal(t, DefaultSegment, empty.Segment)
	assert.Zero(t, empty.Amount)
}

func TestRunCloneIsDeep(t *testing.T) {
	run := &Run{
		RunID:              "r",
		SourcedData:        SourcedData{Case: Record{"nested": map[string]any{"a": 1.0}}, Degraded: []string{"billing"}},
		ResolutionProposal: &ResolutionProposal{Action: ActionFullRefund, SupportingFactors: []string{"x"}},
		FinalResolution:    &FinalResolution{Action: ActionFullRefund},
	}
	cp := run.Clone()
	cp.SourcedData.Case["nested"].(map[string]any)["a"] = 2.0
	cp.SourcedData.Degraded[0] = "payment"
	cp.ResolutionProposal.SupportingFactors[0] = "y"
	cp.FinalResolution.Amount = 10

	assert.Equal(t, 1.0, run.SourcedData.Case["nested"].(map[string]any)["a"])
	assert.Equal(t, "billing", run.SourcedData.Degraded[0])
	assert.Equal(t, "x", run.ResolutionProposal.SupportingFactors[0])
	assert.Zero(t, run.FinalResolution.Amount)
}
