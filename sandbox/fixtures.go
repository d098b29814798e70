package sandbox

import (
	"os"

	"gopkg.in/yaml.v3"

	dispute "github.com/goliatone/go-dispute"
)

// Fixtures seed the in-memory systems.
type Fixtures struct {
	Cases           map[string]dispute.Record `yaml:"cases"`
	Accounts        map[string]dispute.Record `yaml:"accounts"`
	BillingAccounts map[string]string         `yaml:"billing_accounts"`
	Subscriptions   map[string]dispute.Record `yaml:"subscriptions"`
	Charges         map[string]dispute.Record `yaml:"charges"`
	Precedents      []dispute.Record          `yaml:"precedents"`
	Policies        []dispute.Record          `yaml:"policies"`
}

// LoadFixtures reads fixtures from a YAML file.
func LoadFixtures(path string) (*Fixtures, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFixtures(raw)
}

// ParseFixtures decodes YAML fixtures. Environment variables are not expanded.
func ParseFixtures(raw []byte) (*Fixtures, error) {
	var fx Fixtures
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return nil, dispute.NewError(dispute.ErrValidation, "invalid fixtures", err, nil)
	}
	return &fx, nil
}

// Systems bundles one instance of every sandbox collaborator.
type Systems struct {
	Cases     *CaseSystem
	Billing   *BillingSystem
	Payments  *PaymentSystem
	Generator *Generator
	Knowledge *KnowledgeBase
	Outbox    *Outbox
}

// NewSystems builds collaborators seeded from fx. A nil fx yields empty systems.
func NewSystems(fx *Fixtures) *Systems {
	if fx == nil {
		fx = &Fixtures{}
	}
	s := &Systems{
		Cases:     NewCaseSystem(),
		Billing:   NewBillingSystem(),
		Payments:  NewPaymentSystem(),
		Generator: NewGenerator(),
		Knowledge: NewKnowledgeBase(),
		Outbox:    NewOutbox(),
	}
	for id, rec := range fx.Cases {
		s.Cases.PutCase(id, rec)
	}
	for id, rec := range fx.Accounts {
		s.Cases.PutAccount(id, rec)
	}
	for customer, account := range fx.BillingAccounts {
		s.Billing.PutAccount(customer, account)
	}
	for account, rec := range fx.Subscriptions {
		s.Billing.PutSubscription(account, rec)
	}
	for customer, rec := range fx.Charges {
		s.Payments.PutCharges(customer, rec)
	}
	for _, p := range fx.Precedents {
		s.Knowledge.AddPrecedent(p)
	}
	for _, p := range fx.Policies {
		s.Knowledge.AddPolicy(p)
	}
	return s
}

// DefaultFixtures is a small data set covering each fallback tier.
const DefaultFixtures = `
cases:
  CASE-001:
    Id: CASE-001
    AccountId: ACC-001
    Dispute_Type__c: Billing Error
    Amount__c: 40
    Description: Charged twice for the March invoice
  CASE-002:
    Id: CASE-002
    AccountId: ACC-002
    Dispute_Type__c: Incorrect Charge
    Amount__c: 120
    Description: Upgrade charged before the plan changed
  CASE-003:
    Id: CASE-003
    AccountId: ACC-001
    Dispute_Type__c: Billing Error
    Amount__c: 450
    Description: Annual renewal disputed
  CASE-004:
    Id: CASE-004
    AccountId: ACC-001
    Dispute_Type__c: Technical Issue
    Amount__c: 10
    Description: App crashes on login
accounts:
  ACC-001:
    Name: Ada Lovelace
    Customer_Segment__c: Standard
  ACC-002:
    Name: Grace Hopper
    Customer_Segment__c: Premium
billing_accounts:
  CUST-001: ZU-001
  CUST-002: ZU-002
subscriptions:
  ZU-001:
    id: SUB-001
    status: active
    plan_name: Basic
    monthly_amount: 40
  ZU-002:
    id: SUB-002
    status: active
    plan_name: Pro
    monthly_amount: 120
charges:
  CUST-001:
    data:
      - id: ch_001
        amount: 4000
        status: succeeded
  CUST-002:
    data:
      - id: ch_002
        amount: 12000
        status: succeeded
precedents:
  - case_id: CASE-900
    dispute_type: Billing Error
    amount: 35
    resolution: full_refund
    reason: Duplicate charge confirmed
policies:
  - title: Duplicate charges
    content: Duplicate charges are refunded in full after verification.
`
