package fetch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dispute "github.com/goliatone/go-dispute"
)

type fakeCases struct {
	caseRecord dispute.Record
	caseErr    error
	account    dispute.Record
	accountErr error
	accountIDs []string
	delay      time.Duration
}

func (f *fakeCases) GetCase(ctx context.Context, caseID string) (dispute.Record, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.caseRecord, f.caseErr
}

func (f *fakeCases) GetAccount(_ context.Context, accountID string) (dispute.Record, error) {
	f.accountIDs = append(f.accountIDs, accountID)
	return f.account, f.accountErr
}

func (f *fakeCases) UpdateCase(context.Context, string, dispute.FinalResolution, string) error {
	return nil
}

type fakeBilling struct {
	accountID string
	resolved  bool
	sub       dispute.Record
	err       error
}

func (f *fakeBilling) ResolveAccount(context.Context, string) (string, bool, error) {
	return f.accountID, f.resolved, f.err
}

func (f *fakeBilling) ActiveSubscription(context.Context, string) (dispute.Record, error) {
	return f.sub, nil
}

func (f *fakeBilling) CreateRefund(context.Context, string, float64, string) (string, error) {
	return "", errors.New("not expected")
}

type fakePayments struct {
	charges dispute.Record
	err     error
	calls   atomic.Int32
}

func (f *fakePayments) ListCharges(context.Context, string) (dispute.Record, error) {
	f.calls.Add(1)
	return f.charges, f.err
}

func (f *fakePayments) CreateRefund(context.Context, string, *float64, string) (string, error) {
	return "", errors.New("not expected")
}

func TestFetchCollectsAllSources(t *testing.T) {
	cases := &fakeCases{
		caseRecord: dispute.Record{"Id": "case-1", "AccountId": "acct-1", "Amount__c": 40.0},
		account:    dispute.Record{"Name": "Ada", "Customer_Segment__c": "Premium"},
	}
	billing := &fakeBilling{accountID: "zu-1", resolved: true, sub: dispute.Record{"status": "active"}}
	payments := &fakePayments{charges: dispute.Record{"data": []any{}}}

	c := NewCoordinator(cases, billing, payments)
	data, err := c.Fetch(context.Background(), "case-1", "cust-1")
	require.NoError(t, err)

	assert.Equal(t, "case-1", data.Case.Text(dispute.KeyCaseID...))
	assert.Equal(t, "Ada", data.Account.Text(dispute.KeyCustomerName...))
	assert.Equal(t, "active", data.Subscription.Text("status"))
	assert.Contains(t, data.Charges, "data")
	assert.Empty(t, data.Degraded)
	assert.Equal(t, []string{"acct-1"}, cases.accountIDs)
}

func TestFetchDegradesBillingAndPayment(t *testing.T) {
	cases := &fakeCases{caseRecord: dispute.Record{"id": "case-1", "amount": 40.0}}
	billing := &fakeBilling{err: errors.New("billing 500")}
	payments := &fakePayments{err: errors.New("payment timeout")}

	c := NewCoordinator(cases, billing, payments)
	data, err := c.Fetch(context.Background(), "case-1", "cust-1")
	require.NoError(t, err)

	assert.NotNil(t, data.Subscription)
	assert.Empty(t, data.Subscription)
	assert.NotNil(t, data.Charges)
	assert.Empty(t, data.Charges)
	assert.Equal(t, []string{SourceBilling, SourcePayment}, data.Degraded)
	assert.Empty(t, cases.accountIDs, "no account id on the case means no account read")
}

func TestFetchCaseFailureIsFatal(t *testing.T) {
	cases := &fakeCases{caseErr: errors.New("crm unavailable")}
	c := NewCoordinator(cases, &fakeBilling{resolved: false}, &fakePayments{})

	_, err := c.Fetch(context.Background(), "case-1", "cust-1")
	require.Error(t, err)
	assert.True(t, dispute.HasCode(err, dispute.ErrCodeTransientExternal))
}

func TestFetchAccountFailureDegrades(t *testing.T) {
	cases := &fakeCases{
		caseRecord: dispute.Record{"id": "case-1", "account_id": "acct-9"},
		accountErr: errors.New("account lookup failed"),
	}
	c := NewCoordinator(cases, nil, nil)

	data, err := c.Fetch(context.Background(), "case-1", "cust-1")
	require.NoError(t, err)
	assert.Equal(t, []string{SourceAccount}, data.Degraded)
	assert.Empty(t, data.Account)
}

func TestFetchUnresolvedBillingAccountIsNotDegraded(t *testing.T) {
	cases := &fakeCases{caseRecord: dispute.Record{"id": "case-1"}}
	c := NewCoordinator(cases, &fakeBilling{resolved: false}, &fakePayments{charges: dispute.Record{}})

	data, err := c.Fetch(context.Background(), "case-1", "cust-1")
	require.NoError(t, err)
	assert.Empty(t, data.Degraded)
	assert.Empty(t, data.Subscription)
}

func TestFetchHonoursDeadline(t *testing.T) {
	cases := &fakeCases{caseRecord: dispute.Record{"id": "case-1"}, delay: time.Second}
	c := NewCoordinator(cases, nil, nil, WithDeadline(20*time.Millisecond))

	start := time.Now()
	_, err := c.Fetch(context.Background(), "case-1", "cust-1")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestFetchRetriesTransientReads(t *testing.T) {
	payments := &flakyPayments{failures: 1}
	c := NewCoordinator(&fakeCases{caseRecord: dispute.Record{"id": "case-1"}}, nil, payments, WithRetries(2))

	data, err := c.Fetch(context.Background(), "case-1", "cust-1")
	require.NoError(t, err)
	assert.Empty(t, data.Degraded)
	assert.Equal(t, int32(2), payments.calls.Load())
}

type flakyPayments struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyPayments) ListCharges(context.Context, string) (dispute.Record, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("blip")
	}
	return dispute.Record{"data": []any{}}, nil
}

func (f *flakyPayments) CreateRefund(context.Context, string, *float64, string) (string, error) {
	return "", nil
}
