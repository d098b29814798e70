package sandbox

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	dispute "github.com/goliatone/go-dispute"
)

// Generator is a deterministic stand-in for a language model. By default it
// answers with the tiered rule, reworded as a model would, and reports token
// usage proportional to the prompt size. Script overrides the answer.
type Generator struct {
	faults
	mu     sync.Mutex
	script *dispute.ResolutionProposal
	calls  int
}

func NewGenerator() *Generator {
	return &Generator{}
}

// Script makes every call return p. A nil p restores the default behaviour.
func (g *Generator) Script(p *dispute.ResolutionProposal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = p.Clone()
}

// Calls returns how many generations were requested.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *Generator) Generate(ctx context.Context, in dispute.GenerationContext) (dispute.Generation, error) {
	g.mu.Lock()
	g.calls++
	script := g.script.Clone()
	g.mu.Unlock()

	if err := g.check(ctx, "generate"); err != nil {
		return dispute.Generation{}, err
	}

	var proposal dispute.ResolutionProposal
	if script != nil {
		proposal = *script
	} else {
		proposal = dispute.FallbackResolution(in.Case.CaseID, in.Case.Amount, in.Case.Segment)
		proposal.FallbackUsed = false
		proposal.Reason = strings.Replace(proposal.Reason, " (fallback logic)", "", 1)
		if len(in.SimilarCases) > 0 {
			proposal.SupportingFactors = append(proposal.SupportingFactors, "Consistent with similar cases")
			proposal.Confidence = minFloat(proposal.Confidence+0.1, 1)
		}
	}

	prompt, _ := json.Marshal(in)
	answer, _ := json.Marshal(proposal)
	return dispute.Generation{
		Proposal:     proposal,
		InputTokens:  len(prompt) / 4,
		OutputTokens: len(answer) / 4,
	}, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// KnowledgeBase serves precedents and policies and archives resolutions.
type KnowledgeBase struct {
	faults
	mu         sync.Mutex
	precedents []dispute.Record
	policies   []dispute.Record
	archived   []*dispute.Run
}

func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{}
}

func (k *KnowledgeBase) AddPrecedent(rec dispute.Record) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.precedents = append(k.precedents, rec.Clone())
}

func (k *KnowledgeBase) AddPolicy(rec dispute.Record) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.policies = append(k.policies, rec.Clone())
}

// SimilarCases returns up to three precedents of the same dispute type.
func (k *KnowledgeBase) SimilarCases(ctx context.Context, c dispute.GenerationCase) ([]dispute.Record, error) {
	if err := k.check(ctx, "similar_cases"); err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	out := []dispute.Record{}
	for _, p := range k.precedents {
		if strings.EqualFold(p.Text("dispute_type"), c.DisputeType) {
			out = append(out, p.Clone())
		}
		if len(out) == 3 {
			break
		}
	}
	return out, nil
}

// RelevantPolicies returns up to three policies.
func (k *KnowledgeBase) RelevantPolicies(ctx context.Context, _ dispute.GenerationCase) ([]dispute.Record, error) {
	if err := k.check(ctx, "relevant_policies"); err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	out := []dispute.Record{}
	for i, p := range k.policies {
		if i == 3 {
			break
		}
		out = append(out, p.Clone())
	}
	return out, nil
}

// StoreResolution archives a resolved run and makes it a precedent.
func (k *KnowledgeBase) StoreResolution(ctx context.Context, run *dispute.Run) error {
	if err := k.check(ctx, "store_resolution"); err != nil {
		return err
	}
	if run == nil || run.FinalResolution == nil {
		return nil
	}
	facts := dispute.FactsOf(run.SourcedData)
	k.mu.Lock()
	defer k.mu.Unlock()
	k.archived = append(k.archived, run.Clone())
	k.precedents = append(k.precedents, dispute.Record{
		"case_id":      run.CaseID,
		"dispute_type": facts.DisputeType,
		"amount":       run.FinalResolution.Amount,
		"resolution":   string(run.FinalResolution.Action),
		"reason":       run.FinalResolution.Reason,
	})
	return nil
}

// Archived returns the archived runs.
func (k *KnowledgeBase) Archived() []*dispute.Run {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]*dispute.Run, 0, len(k.archived))
	for _, r := range k.archived {
		out = append(out, r.Clone())
	}
	return out
}

// Outbox records notifications instead of delivering them.
type Outbox struct {
	faults
	mu          sync.Mutex
	reviews     []dispute.ReviewRequest
	completions []dispute.CompletionNotice
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) NotifyPendingReview(ctx context.Context, req dispute.ReviewRequest) error {
	if err := o.check(ctx, "notify_review"); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reviews = append(o.reviews, req)
	return nil
}

func (o *Outbox) NotifyCompletion(ctx context.Context, notice dispute.CompletionNotice) error {
	if err := o.check(ctx, "notify_completion"); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completions = append(o.completions, notice)
	return nil
}

func (o *Outbox) Reviews() []dispute.ReviewRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]dispute.ReviewRequest(nil), o.reviews...)
}

func (o *Outbox) Completions() []dispute.CompletionNotice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]dispute.CompletionNotice(nil), o.completions...)
}
