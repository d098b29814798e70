package generation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	dispute "github.com/goliatone/go-dispute"
	"github.com/goliatone/go-dispute/cache"
	"github.com/goliatone/go-dispute/runner"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultRatePerSecond = 5.0
	DefaultBurst         = 5

	minReasonLength = 10
)

// Logger is the subset of the engine logger the gateway writes to.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Observer receives gateway outcomes. All methods must be safe for concurrent use.
type Observer interface {
	ObserveGeneration(outcome Outcome, d time.Duration)
}

// Outcome labels how a proposal was obtained.
type Outcome string

const (
	OutcomeGenerated Outcome = "generated"
	OutcomeCached    Outcome = "cached"
	OutcomeFallback  Outcome = "fallback"
)

// Option configures a Gateway.
type Option func(*Gateway)

func WithCache(c *cache.ResolutionCache) Option {
	return func(g *Gateway) {
		if c != nil {
			g.cache = c
		}
	}
}

func WithRetriever(r dispute.Retriever) Option {
	return func(g *Gateway) { g.retriever = r }
}

// WithLimiter replaces the token bucket guarding generator calls.
func WithLimiter(l *rate.Limiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithLogger(l Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func WithObserver(o Observer) Option {
	return func(g *Gateway) { g.observer = o }
}

// WithRetrievalHandler sets the runner used for retriever calls.
func WithRetrievalHandler(h *runner.Handler) Option {
	return func(g *Gateway) { g.retrieval = h }
}

// Gateway produces resolution proposals. It consults the cache first, then
// calls the generator under a rate limit and timeout, and falls back to the
// deterministic rule on any failure or malformed output.
type Gateway struct {
	generator dispute.Generator
	retriever dispute.Retriever
	cache     *cache.ResolutionCache
	limiter   *rate.Limiter
	timeout   time.Duration
	retrieval *runner.Handler
	logger    Logger
	observer  Observer

	calls     atomic.Int64
	cacheHits atomic.Int64
	failures  atomic.Int64
	fallbacks atomic.Int64
	tokens    atomic.Int64
}

// NewGateway builds a gateway. A nil generator always falls back.
func NewGateway(generator dispute.Generator, opts ...Option) *Gateway {
	g := &Gateway{
		generator: generator,
		cache:     cache.New(),
		limiter:   rate.NewLimiter(rate.Limit(DefaultRatePerSecond), DefaultBurst),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.generator == nil {
		g.logf("warn", "no generator configured, proposals will use fallback logic")
	}
	return g
}

// Cache exposes the proposal cache for maintenance jobs.
func (g *Gateway) Cache() *cache.ResolutionCache {
	return g.cache
}

// ClearCache drops every cached proposal and reports how many went.
func (g *Gateway) ClearCache() int {
	n := g.cache.Clear()
	g.logf("info", "cleared %d cached proposals", n)
	return n
}

// Propose returns a sanitised proposal for the sourced dispute. It never
// fails for generation problems; only context cancellation is returned.
func (g *Gateway) Propose(ctx context.Context, caseID string, sourced dispute.SourcedData) (dispute.ResolutionProposal, error) {
	facts := dispute.FactsOf(sourced)
	if facts.CaseID == "" {
		facts.CaseID = caseID
	}
	gc := dispute.GenerationCase{
		CaseID:      facts.CaseID,
		DisputeType: facts.DisputeType,
		Amount:      facts.Amount,
		Description: facts.Description,
		Segment:     facts.Segment,
	}
	in := dispute.GenerationContext{
		Case:           gc,
		Sourced:        sourced,
		SimilarCases:   g.similarCases(ctx, gc),
		PolicyExcerpts: g.policies(ctx, gc),
	}

	start := time.Now()
	proposal, fromCache, err := g.cache.GetOrGenerate(ctx, cache.FingerprintOf(in), func(ctx context.Context) (dispute.ResolutionProposal, error) {
		return g.generate(ctx, in)
	})
	switch {
	case err == nil && fromCache:
		g.cacheHits.Add(1)
		proposal.Cost = dispute.GenerationCost{}
		g.observe(OutcomeCached, start)
		g.logf("info", "using cached proposal for case %s", gc.CaseID)
		return withCharge(proposal, facts.ChargeID), nil
	case err == nil:
		g.observe(OutcomeGenerated, start)
		return withCharge(proposal, facts.ChargeID), nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return dispute.ResolutionProposal{}, ctxErr
	}
	g.failures.Add(1)
	g.fallbacks.Add(1)
	g.logf("warn", "generation failed for case %s, using fallback logic: %v", gc.CaseID, err)
	fallback := dispute.FallbackResolution(gc.CaseID, gc.Amount, gc.Segment)
	g.observe(OutcomeFallback, start)
	return withCharge(fallback, facts.ChargeID), nil
}

// withCharge points refunds at the case's payment charge. Cached proposals
// are shared across cases, so the charge always comes from this case.
func withCharge(p dispute.ResolutionProposal, chargeID string) dispute.ResolutionProposal {
	if p.Action.MovesMoney() {
		p.ChargeID = chargeID
	} else {
		p.ChargeID = ""
	}
	return p
}

func (g *Gateway) generate(ctx context.Context, in dispute.GenerationContext) (dispute.ResolutionProposal, error) {
	if g.generator == nil {
		return dispute.ResolutionProposal{}, dispute.NewError(dispute.ErrTransientExternal, "no generator configured", nil, nil)
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if g.limiter != nil {
		if err := g.limiter.Wait(callCtx); err != nil {
			return dispute.ResolutionProposal{}, dispute.NewError(dispute.ErrTransientExternal, "generation rate limit wait failed", err, nil)
		}
	}

	g.calls.Add(1)
	out, err := g.generator.Generate(callCtx, in)
	if err != nil {
		return dispute.ResolutionProposal{}, dispute.NewError(dispute.ErrTransientExternal, "generator call failed", err, map[string]any{
			"case_id": in.Case.CaseID,
		})
	}
	g.tokens.Add(int64(out.InputTokens + out.OutputTokens))

	proposal, err := Sanitize(out.Proposal, in.Case.CaseID)
	if err != nil {
		return dispute.ResolutionProposal{}, err
	}
	proposal.Cost = dispute.PriceTokens(out.InputTokens, out.OutputTokens)
	proposal.FallbackUsed = false
	g.logf("info", "generated proposal %s $%.2f for case %s (cost $%.4f)", proposal.Action, proposal.Amount, in.Case.CaseID, proposal.Cost.TotalCost)
	return proposal, nil
}

// Sanitize enforces the proposal contract on generator output: known action,
// non-negative amount, a reason of at least ten characters, confidence in
// [0,1] and a known risk level. Review is always required.
func Sanitize(p dispute.ResolutionProposal, caseID string) (dispute.ResolutionProposal, error) {
	out := *p.Clone()
	out.Normalize(caseID)
	switch out.RiskLevel {
	case dispute.RiskLow, dispute.RiskMedium, dispute.RiskHigh:
	default:
		return dispute.ResolutionProposal{}, dispute.NewError(dispute.ErrValidation, fmt.Sprintf("unknown risk level %q", out.RiskLevel), nil, nil)
	}
	if err := out.Check(); err != nil {
		return dispute.ResolutionProposal{}, err
	}
	if len(strings.TrimSpace(out.Reason)) < minReasonLength {
		return dispute.ResolutionProposal{}, dispute.NewError(dispute.ErrValidation, "reason too short", nil, map[string]any{"reason": out.Reason})
	}
	out.Confidence = math.Max(0, math.Min(1, out.Confidence))
	out.FromCache = false
	return out, nil
}

func (g *Gateway) similarCases(ctx context.Context, gc dispute.GenerationCase) []dispute.Record {
	if g.retriever == nil {
		return []dispute.Record{}
	}
	out, err := runner.Query(ctx, g.retrieval, func(ctx context.Context) ([]dispute.Record, error) {
		return g.retriever.SimilarCases(ctx, gc)
	})
	if err != nil {
		g.logf("warn", "similar case retrieval failed for case %s: %v", gc.CaseID, err)
		return []dispute.Record{}
	}
	if out == nil {
		return []dispute.Record{}
	}
	return out
}

func (g *Gateway) policies(ctx context.Context, gc dispute.GenerationCase) []dispute.Record {
	if g.retriever == nil {
		return []dispute.Record{}
	}
	out, err := runner.Query(ctx, g.retrieval, func(ctx context.Context) ([]dispute.Record, error) {
		return g.retriever.RelevantPolicies(ctx, gc)
	})
	if err != nil {
		g.logf("warn", "policy retrieval failed for case %s: %v", gc.CaseID, err)
		return []dispute.Record{}
	}
	if out == nil {
		return []dispute.Record{}
	}
	return out
}

// Stats is a snapshot of gateway counters plus the cache view.
type Stats struct {
	Calls        int64       `json:"calls_made"`
	CacheHits    int64       `json:"cache_hits"`
	Failures     int64       `json:"failures"`
	FallbackUsed int64       `json:"fallback_used"`
	TotalTokens  int64       `json:"total_tokens"`
	FallbackRate float64     `json:"fallback_rate"`
	Healthy      bool        `json:"healthy"`
	Cache        cache.Stats `json:"cache"`
}

func (g *Gateway) Stats() Stats {
	s := Stats{
		Calls:        g.calls.Load(),
		CacheHits:    g.cacheHits.Load(),
		Failures:     g.failures.Load(),
		FallbackUsed: g.fallbacks.Load(),
		TotalTokens:  g.tokens.Load(),
		Cache:        g.cache.Stats(),
	}
	if s.Calls > 0 {
		s.FallbackRate = float64(s.FallbackUsed) / float64(s.Calls)
	}
	s.Healthy = g.generator != nil && (s.Calls == 0 || s.Failures < s.Calls)
	return s
}

func (g *Gateway) observe(outcome Outcome, start time.Time) {
	if g.observer != nil {
		g.observer.ObserveGeneration(outcome, time.Since(start))
	}
}

func (g *Gateway) logf(level, msg string, args ...any) {
	if g.logger == nil {
		return
	}
	switch level {
	case "warn":
		g.logger.Warn(msg, args...)
	case "error":
		g.logger.Error(msg, args...)
	default:
		g.logger.Info(msg, args...)
	}
}
