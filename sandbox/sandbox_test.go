package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dispute "github.com/goliatone/go-dispute"
)

func TestDefaultFixturesSeedSystems(t *testing.T) {
	fx, err := ParseFixtures([]byte(DefaultFixtures))
	require.NoError(t, err)
	sys := NewSystems(fx)
	ctx := context.Background()

	rec, err := sys.Cases.GetCase(ctx, "CASE-001")
	require.NoError(t, err)
	amount, ok := rec.Float(dispute.KeyAmount...)
	require.True(t, ok)
	assert.Equal(t, 40.0, amount)
	assert.Equal(t, "ACC-001", rec.Text(dispute.KeyAccountID...))

	acct, ok, err := sys.Billing.ResolveAccount(ctx, "CUST-002")
	require.NoError(t, err)
	require.True(t, ok)
	sub, err := sys.Billing.ActiveSubscription(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, "SUB-002", sub.Text("id"))

	_, err = sys.Cases.GetCase(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFaultInjection(t *testing.T) {
	sys := NewSystems(nil)
	boom := errors.New("boom")
	sys.Payments.Fail("list_charges", boom)

	_, err := sys.Payments.ListCharges(context.Background(), "c")
	assert.ErrorIs(t, err, boom)

	sys.Payments.Fail("list_charges", nil)
	_, err = sys.Payments.ListCharges(context.Background(), "c")
	assert.NoError(t, err)
}

func TestUpdateCaseRecordsComment(t *testing.T) {
	sys := NewSystems(nil)
	sys.Cases.PutCase("C1", dispute.Record{"Id": "C1"})

	err := sys.Cases.UpdateCase(context.Background(), "C1", dispute.FinalResolution{
		Action: dispute.ActionFullRefund, Amount: 40, Reason: "Duplicate charge",
	}, "Resolved")
	require.NoError(t, err)

	updates := sys.Cases.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, "Dispute Resolution: full_refund - $40. Reason: Duplicate charge", updates[0].Comment)
	assert.Equal(t, "Resolved", updates[0].Status)
}

func TestGeneratorDefaultsToTieredAnswer(t *testing.T) {
	g := NewGenerator()
	out, err := g.Generate(context.Background(), dispute.GenerationContext{
		Case: dispute.GenerationCase{CaseID: "C1", Amount: 120, Segment: "Premium"},
	})
	require.NoError(t, err)
	assert.Equal(t, dispute.ActionPartialRefund, out.Proposal.Action)
	assert.InDelta(t, 90, out.Proposal.Amount, 1e-9)
	assert.False(t, out.Proposal.FallbackUsed)
	assert.NotContains(t, out.Proposal.Reason, "fallback")
	assert.Positive(t, out.InputTokens)
	assert.Equal(t, 1, g.Calls())
}

func TestKnowledgeBaseArchivesAsPrecedent(t *testing.T) {
	kb := NewKnowledgeBase()
	run := &dispute.Run{
		RunID:           "r1",
		CaseID:          "C1",
		SourcedData:     dispute.SourcedData{Case: dispute.Record{"dispute_type": "Billing Error"}},
		FinalResolution: &dispute.FinalResolution{Action: dispute.ActionFullRefund, Amount: 20, Reason: "ok"},
	}
	require.NoError(t, kb.StoreResolution(context.Background(), run))

	similar, err := kb.SimilarCases(context.Background(), dispute.GenerationCase{DisputeType: "billing error"})
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "C1", similar[0].Text("case_id"))
	assert.Len(t, kb.Archived(), 1)
}
