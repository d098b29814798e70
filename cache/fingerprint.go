package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	dispute "github.com/goliatone/go-dispute"
)

// Fingerprint identifies generation inputs that should share a proposal.
//
// The description is deliberately absent, so two disputes on the same case
// with equal amount, type, segment and retrieval counts but different
// narratives collide. Callers that need narrative sensitivity must add it.
type Fingerprint struct {
	CaseID        string  `json:"case_id"`
	Amount        float64 `json:"amount"`
	DisputeType   string  `json:"dispute_type"`
	Segment       string  `json:"customer_segment"`
	SimilarCases  int     `json:"similar_cases_count"`
	PolicyMatches int     `json:"policies_count"`
}

// FingerprintOf derives the fingerprint of a generation context.
func FingerprintOf(in dispute.GenerationContext) Fingerprint {
	return Fingerprint{
		CaseID:        in.Case.CaseID,
		Amount:        in.Case.Amount,
		DisputeType:   in.Case.DisputeType,
		Segment:       in.Case.Segment,
		SimilarCases:  len(in.SimilarCases),
		PolicyMatches: len(in.PolicyExcerpts),
	}
}

// Key returns the hex sha256 of the canonical fingerprint encoding.
func (f Fingerprint) Key() string {
	canon := struct {
		Amount        string `json:"amount"`
		CaseID        string `json:"case_id"`
		Segment       string `json:"customer_segment"`
		DisputeType   string `json:"dispute_type"`
		PolicyMatches int    `json:"policies_count"`
		SimilarCases  int    `json:"similar_cases_count"`
	}{
		Amount:        strconv.FormatFloat(f.Amount, 'f', -1, 64),
		CaseID:        canonicalText(f.CaseID),
		Segment:       canonicalText(f.Segment),
		DisputeType:   canonicalText(f.DisputeType),
		PolicyMatches: f.PolicyMatches,
		SimilarCases:  f.SimilarCases,
	}
	raw, _ := json.Marshal(canon)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func canonicalText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
