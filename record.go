package dispute

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Record is an opaque payload returned by an external system.
type Record map[string]any

// Clone returns a deep copy, going through JSON for nested values.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		out := make(Record, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out
	}
	var out Record
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Text returns the first non-empty string value among keys.
func (r Record) Text(keys ...string) string {
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case json.Number:
			return t.String()
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			return strconv.Itoa(t)
		}
	}
	return ""
}

// Float returns the first numeric value among keys. Numeric strings are parsed.
func (r Record) Float(keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t, true
		case float32:
			return float64(t), true
		case int:
			return float64(t), true
		case int64:
			return float64(t), true
		case json.Number:
			f, err := t.Float64()
			if err == nil {
				return f, true
			}
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// Case record keys. The CRM style aliases match what upstream case systems emit.
var (
	KeyCaseID          = []string{"id", "Id"}
	KeyAccountID       = []string{"account_id", "AccountId"}
	KeyDisputeType     = []string{"dispute_type", "Dispute_Type__c"}
	KeyAmount          = []string{"amount", "Amount__c"}
	KeyDescription     = []string{"description", "Description"}
	KeyChargeID        = []string{"charge_id", "Charge_Id__c"}
	KeyCustomerName    = []string{"name", "Name"}
	KeyCustomerSegment = []string{"customer_segment", "Customer_Segment__c"}
)

// DefaultSegment is used when the account carries no segment.
const DefaultSegment = "Standard"

// CaseFacts is the typed view of the case and account payloads the pipeline reads.
type CaseFacts struct {
	CaseID       string
	AccountID    string
	DisputeType  string
	Amount       float64
	Description  string
	ChargeID     string
	CustomerName string
	Segment      string
}

// FactsOf extracts CaseFacts from sourced data.
func FactsOf(data SourcedData) CaseFacts {
	amount, _ := data.Case.Float(KeyAmount...)
	segment := data.Account.Text(KeyCustomerSegment...)
	if segment == "" {
		segment = DefaultSegment
	}
	return CaseFacts{
		CaseID:       data.Case.Text(KeyCaseID...),
		AccountID:    data.Case.Text(KeyAccountID...),
		DisputeType:  data.Case.Text(KeyDisputeType...),
		Amount:       amount,
		Description:  data.Case.Text(KeyDescription...),
		ChargeID:     data.Case.Text(KeyChargeID...),
		CustomerName: data.Account.Text(KeyCustomerName...),
		Segment:      segment,
	}
}
