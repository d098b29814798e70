package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	dispute "github.com/goliatone/go-dispute"
)

// ErrNotFound is returned for unknown ids.
var ErrNotFound = errors.New("sandbox: not found")

// faults injects failures per operation name.
type faults struct {
	mu   sync.Mutex
	errs map[string]error
}

// Fail makes op return err until cleared with a nil err.
func (f *faults) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

func (f *faults) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[op]
}

// CaseUpdate is a recorded UpdateCase call.
type CaseUpdate struct {
	CaseID     string
	Status     string
	Comment    string
	Resolution dispute.FinalResolution
}

// CaseSystem is an in-memory case management system.
type CaseSystem struct {
	faults
	mu       sync.Mutex
	cases    map[string]dispute.Record
	accounts map[string]dispute.Record
	updates  []CaseUpdate
}

func NewCaseSystem() *CaseSystem {
	return &CaseSystem{cases: map[string]dispute.Record{}, accounts: map[string]dispute.Record{}}
}

func (s *CaseSystem) PutCase(id string, rec dispute.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[id] = rec.Clone()
}

func (s *CaseSystem) PutAccount(id string, rec dispute.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id] = rec.Clone()
}

func (s *CaseSystem) GetCase(ctx context.Context, caseID string) (dispute.Record, error) {
	if err := s.check(ctx, "get_case"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *CaseSystem) GetAccount(ctx context.Context, accountID string) (dispute.Record, error) {
	if err := s.check(ctx, "get_account"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return rec.Clone(), nil
}

// UpdateCase records the resolution and leaves the standard comment.
func (s *CaseSystem) UpdateCase(ctx context.Context, caseID string, resolution dispute.FinalResolution, status string) error {
	if err := s.check(ctx, "update_case"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	comment := dispute.CaseComment(resolution.Action, resolution.Amount, resolution.Reason)
	s.updates = append(s.updates, CaseUpdate{CaseID: caseID, Status: status, Comment: comment, Resolution: resolution})
	if rec, ok := s.cases[caseID]; ok {
		rec["Status"] = status
		rec["Resolution_Comment__c"] = comment
	}
	return nil
}

// Updates returns the recorded UpdateCase calls.
func (s *CaseSystem) Updates() []CaseUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CaseUpdate(nil), s.updates...)
}

// Refund is a recorded refund.
type Refund struct {
	ID     string
	Target string
	Amount float64
	Full   bool
	Reason string
}

// BillingSystem is an in-memory subscription billing system.
type BillingSystem struct {
	faults
	mu            sync.Mutex
	accounts      map[string]string
	subscriptions map[string]dispute.Record
	refunds       []Refund
}

func NewBillingSystem() *BillingSystem {
	return &BillingSystem{accounts: map[string]string{}, subscriptions: map[string]dispute.Record{}}
}

func (s *BillingSystem) PutAccount(customerID, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[customerID] = accountID
}

func (s *BillingSystem) PutSubscription(accountID string, rec dispute.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[accountID] = rec.Clone()
}

func (s *BillingSystem) ResolveAccount(ctx context.Context, customerID string) (string, bool, error) {
	if err := s.check(ctx, "resolve_account"); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.accounts[customerID]
	return id, ok, nil
}

func (s *BillingSystem) ActiveSubscription(ctx context.Context, accountID string) (dispute.Record, error) {
	if err := s.check(ctx, "active_subscription"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.subscriptions[accountID]
	if !ok {
		return dispute.Record{}, nil
	}
	return rec.Clone(), nil
}

func (s *BillingSystem) CreateRefund(ctx context.Context, accountID string, amount float64, reason string) (string, error) {
	if err := s.check(ctx, "create_refund"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("ref_%03d", len(s.refunds)+1)
	s.refunds = append(s.refunds, Refund{ID: id, Target: accountID, Amount: amount, Reason: reason})
	return id, nil
}

// Refunds returns the refunds issued so far.
func (s *BillingSystem) Refunds() []Refund {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Refund(nil), s.refunds...)
}

// PaymentSystem is an in-memory payment processor.
type PaymentSystem struct {
	faults
	mu      sync.Mutex
	charges map[string]dispute.Record
	refunds []Refund
}

func NewPaymentSystem() *PaymentSystem {
	return &PaymentSystem{charges: map[string]dispute.Record{}}
}

func (s *PaymentSystem) PutCharges(customerID string, rec dispute.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charges[customerID] = rec.Clone()
}

func (s *PaymentSystem) ListCharges(ctx context.Context, customerID string) (dispute.Record, error) {
	if err := s.check(ctx, "list_charges"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.charges[customerID]
	if !ok {
		return dispute.Record{"data": []any{}}, nil
	}
	return rec.Clone(), nil
}

func (s *PaymentSystem) CreateRefund(ctx context.Context, chargeID string, amount *float64, reason string) (string, error) {
	if err := s.check(ctx, "create_refund"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("re_%03d", len(s.refunds)+1)
	r := Refund{ID: id, Target: chargeID, Reason: reason, Full: amount == nil}
	if amount != nil {
		r.Amount = *amount
	}
	s.refunds = append(s.refunds, r)
	return id, nil
}

func (s *PaymentSystem) Refunds() []Refund {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Refund(nil), s.refunds...)
}
