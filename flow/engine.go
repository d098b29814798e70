package flow

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/goliatone/go-errors"

	dispute "github.com/goliatone/go-dispute"
	"github.com/goliatone/go-dispute/runner"
	"github.com/goliatone/go-dispute/store"
)

const (
	DefaultCallTimeout  = 10 * time.Second
	DefaultPendingLimit = 100
)

// Fetcher gathers the sourced data of a dispute.
type Fetcher interface {
	Fetch(ctx context.Context, caseID, customerID string) (dispute.SourcedData, error)
}

// Proposer produces a resolution proposal for sourced data. It is expected
// to absorb generator failures and only fail on cancellation.
type Proposer interface {
	Propose(ctx context.Context, caseID string, sourced dispute.SourcedData) (dispute.ResolutionProposal, error)
}

// Dependencies are the collaborators an Engine drives. Payments, Archiver
// and Notifier are optional.
type Dependencies struct {
	Store    store.RunStore
	Fetcher  Fetcher
	Proposer Proposer
	Cases    dispute.CaseSource
	Billing  dispute.BillingSource
	Payments dispute.PaymentSource
	Archiver dispute.Archiver
	Notifier dispute.Notifier
}

// StepInput is everything a step may read. Run is a private copy of the
// persisted record.
type StepInput struct {
	RC     RunContext
	Run    *dispute.Run
	Logger Logger
}

// StepOutput selects the outgoing transition and carries the fields the
// step wants persisted alongside it.
type StepOutput struct {
	Outcome Outcome
	Patch   store.Patch
}

// StepExecutor runs one pipeline step.
type StepExecutor func(ctx context.Context, in StepInput) (StepOutput, error)

type Option func(*Engine)

func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = normalizeLogger(l) }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator replaces uuid run ids.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithCallTimeout bounds every collaborator call the engine makes itself.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithTransitions replaces the pipeline graph. It is validated in NewEngine.
func WithTransitions(t Transitions) Option {
	return func(e *Engine) { e.transitions = t }
}

// WithExecutor overrides the executor of one step.
func WithExecutor(step dispute.Step, exec StepExecutor) Option {
	return func(e *Engine) {
		if exec != nil {
			e.overrides[step] = exec
		}
	}
}

func WithPendingLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pendingLimit = n
		}
	}
}

// Engine drives dispute runs through the pipeline, persisting after every
// step. Work on a single run is serialised in process by a per-run lock and
// across processes by the store's version check.
type Engine struct {
	deps        Dependencies
	transitions Transitions
	executors   map[dispute.Step]StepExecutor
	overrides   map[dispute.Step]StepExecutor
	locker      *runLocker
	logger      Logger
	metrics     MetricsRecorder
	now         func() time.Time
	newID       func() string

	callTimeout  time.Duration
	pendingLimit int

	refunds  *runner.Handler
	caseCall *runner.Handler
	sideCall *runner.Handler
}

// NewEngine wires an engine and validates its transition table.
func NewEngine(deps Dependencies, opts ...Option) (*Engine, error) {
	if err := checkDependencies(deps); err != nil {
		return nil, err
	}
	e := &Engine{
		deps:         deps,
		transitions:  DefaultTransitions(),
		overrides:    make(map[dispute.Step]StepExecutor),
		locker:       newRunLocker(),
		logger:       NewFmtLogger(nil),
		metrics:      nopRecorder{},
		now:          time.Now,
		newID:        uuid.NewString,
		callTimeout:  DefaultCallTimeout,
		pendingLimit: DefaultPendingLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	e.executors = e.defaultExecutors()
	for step, exec := range e.overrides {
		e.executors[step] = exec
	}
	if err := ValidateTransitions(e.transitions, e.executors); err != nil {
		return nil, err
	}

	// Money moving calls are never retried: a timeout may still have refunded.
	e.refunds = runner.NewHandler(runner.WithName("refund"), runner.WithTimeout(e.callTimeout))
	e.caseCall = runner.NewHandler(runner.WithName("case update"), runner.WithTimeout(e.callTimeout), runner.WithMaxRetries(1))
	e.sideCall = runner.NewHandler(runner.WithName("side effect"), runner.WithTimeout(e.callTimeout))
	return e, nil
}

func checkDependencies(deps Dependencies) error {
	var missing []string
	if deps.Store == nil {
		missing = append(missing, "store")
	}
	if deps.Fetcher == nil {
		missing = append(missing, "fetcher")
	}
	if deps.Proposer == nil {
		missing = append(missing, "proposer")
	}
	if deps.Cases == nil {
		missing = append(missing, "cases")
	}
	if deps.Billing == nil {
		missing = append(missing, "billing")
	}
	if len(missing) > 0 {
		return dispute.NewError(dispute.ErrValidation, "missing engine dependencies: "+strings.Join(missing, ", "), nil, nil)
	}
	return nil
}

// Start creates a run for the case and drives it until it completes, fails
// or suspends for review. The run id is returned whenever a run was created.
func (e *Engine) Start(ctx context.Context, caseID, customerID string) (string, error) {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return "", dispute.NewError(dispute.ErrValidation, "case id required", nil, nil)
	}
	now := e.now().UTC()
	run := &dispute.Run{
		RunID:       e.newID(),
		CaseID:      caseID,
		CustomerID:  strings.TrimSpace(customerID),
		CurrentStep: dispute.StepFetchData,
		Status:      dispute.StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	unlock := e.locker.Lock(run.RunID)
	defer unlock()

	created, err := e.deps.Store.Create(ctx, run)
	if err != nil {
		return "", dispute.Persistence("create run", err)
	}
	e.recordRunStarted()
	e.runLogger(contextOf(created)).Info("workflow started")

	_, err = e.drive(ctx, created)
	return created.RunID, err
}

// Resume continues a run parked at wait_human_review once a decision has
// been recorded. A run that already executed its resolution is never
// executed again; if it stopped at store_results it is driven to completed.
func (e *Engine) Resume(ctx context.Context, runID string) (*dispute.Run, error) {
	unlock := e.locker.Lock(runID)
	defer unlock()
	return e.resumeLocked(ctx, runID)
}

func (e *Engine) resumeLocked(ctx context.Context, runID string) (*dispute.Run, error) {
	run, err := e.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.FinalResolution != nil {
		if run.CurrentStep == dispute.StepStoreResults {
			e.runLogger(contextOf(run)).Info("resolution already executed, finishing store_results")
			return e.drive(ctx, run)
		}
		e.runLogger(contextOf(run)).Info("resume ignored, resolution already executed")
		return run, nil
	}
	if run.CurrentStep != dispute.StepWaitHumanReview {
		return nil, preconditionFailed(run, "run is not awaiting human review")
	}
	if !run.HumanReview.Status.Decided() {
		return nil, preconditionFailed(run, "human review decision not recorded")
	}
	e.runLogger(contextOf(run)).Info("resuming after %s review", run.HumanReview.Status)
	return e.drive(ctx, run)
}

// Get returns a run snapshot.
func (e *Engine) Get(ctx context.Context, runID string) (*dispute.Run, error) {
	return e.load(ctx, runID)
}

// ListByCase returns every run of a case, oldest first.
func (e *Engine) ListByCase(ctx context.Context, caseID string) ([]*dispute.Run, error) {
	runs, err := e.deps.Store.ListByCase(ctx, caseID)
	if err != nil {
		return nil, dispute.Persistence("list runs by case", err)
	}
	return runs, nil
}

// ListPending returns runs suspended for a review decision.
func (e *Engine) ListPending(ctx context.Context) ([]*dispute.Run, error) {
	runs, err := e.deps.Store.ListByStep(ctx, dispute.StepWaitHumanReview, e.pendingLimit)
	if err != nil {
		return nil, dispute.Persistence("list pending runs", err)
	}
	out := make([]*dispute.Run, 0, len(runs))
	for _, run := range runs {
		if run.AwaitingReview() && run.HumanReview.Status == dispute.ReviewPending {
			out = append(out, run)
		}
	}
	return out, nil
}

// CaseCosts sums the generation and external costs of a case's runs.
func (e *Engine) CaseCosts(ctx context.Context, caseID string) (dispute.CostSummary, error) {
	runs, err := e.ListByCase(ctx, caseID)
	if err != nil {
		return dispute.CostSummary{}, err
	}
	return dispute.SummarizeCosts(caseID, runs), nil
}

func (e *Engine) load(ctx context.Context, runID string) (*dispute.Run, error) {
	run, err := e.deps.Store.Get(ctx, runID)
	if err != nil {
		return nil, dispute.Persistence("load run", err)
	}
	if run == nil {
		return nil, runNotFound(runID)
	}
	return run, nil
}

// drive executes steps from run.CurrentStep until a terminal marker or the
// suspension point. Step failures route the run to handle_error and are not
// returned; store failures, lost version races and security violations are.
func (e *Engine) drive(ctx context.Context, run *dispute.Run) (*dispute.Run, error) {
	var violation error
	for !run.CurrentStep.Terminal() {
		step := run.CurrentStep
		rc := contextOf(run)
		logger := e.runLogger(rc)
		exec, ok := e.executors[step]
		if !ok {
			return run, invalidTransition(step, OutcomeNext)
		}

		start := e.now()
		out, err := runStep(ctx, exec, StepInput{RC: rc, Run: run.Clone(), Logger: logger})
		e.recordStep(step, start, err)

		if err != nil {
			if halts(err) {
				logger.Error("step failed, run left at last durable state: %v", err)
				return run, err
			}
			if dispute.HasCode(err, dispute.ErrCodeSecurityViolation) {
				withLoggerFields(logger, map[string]any{"security_violation": true}).Error("refund blocked: %v", err)
				e.recordSecurityViolation()
				violation = err
			} else {
				logger.Error("step failed: %v", err)
			}
			next, routeErr := e.routeToError(ctx, run, errorMessage(err))
			if routeErr != nil {
				return run, routeErr
			}
			run = next
			continue
		}

		if e.transitions.Suspends(step, out.Outcome) {
			logger.Info("workflow suspended awaiting human review")
			return run, violation
		}
		nextStep, err := e.transitions.Next(step, out.Outcome)
		if err != nil {
			logger.Error("transition rejected: %v", err)
			next, routeErr := e.routeToError(ctx, run, errorMessage(err))
			if routeErr != nil {
				return run, routeErr
			}
			run = next
			continue
		}
		next, err := e.advance(ctx, run, nextStep, out.Patch)
		if err != nil {
			logger.Error("persisting %s -> %s failed: %v", step, nextStep, err)
			return run, err
		}
		run = next
	}
	return run, violation
}

func (e *Engine) advance(ctx context.Context, run *dispute.Run, next dispute.Step, patch store.Patch) (*dispute.Run, error) {
	var (
		out *dispute.Run
		err error
	)
	switch next {
	case dispute.StepCompleted:
		if !patch.Empty() {
			if run, err = e.deps.Store.Patch(ctx, run.RunID, run.Version, patch); err != nil {
				return nil, dispute.Persistence("persist step result", err)
			}
		}
		if run.FinalResolution == nil {
			return nil, dispute.NewError(dispute.ErrPreconditionFailed, "cannot complete a run without an executed resolution", nil, map[string]any{"run_id": run.RunID})
		}
		out, err = e.deps.Store.MarkCompleted(ctx, run.RunID, run.Version, *run.FinalResolution)
	case dispute.StepError:
		msg := run.ErrorMessage
		if patch.ErrorMessage != nil {
			msg = *patch.ErrorMessage
		}
		out, err = e.deps.Store.MarkFailed(ctx, run.RunID, run.Version, msg)
	default:
		patch.CurrentStep = &next
		out, err = e.deps.Store.Patch(ctx, run.RunID, run.Version, patch)
	}
	if err != nil {
		return nil, dispute.Persistence("advance run", err)
	}
	if out.CurrentStep.Terminal() {
		e.recordRunFinished(out.Status)
		e.runLogger(contextOf(out)).Info("workflow finished with status %s", out.Status)
	}
	return out, nil
}

func (e *Engine) routeToError(ctx context.Context, run *dispute.Run, message string) (*dispute.Run, error) {
	if run.CurrentStep == dispute.StepHandleError {
		return e.advance(ctx, run, dispute.StepError, store.Patch{ErrorMessage: &message})
	}
	return e.advance(ctx, run, dispute.StepHandleError, store.Patch{ErrorMessage: &message})
}

func (e *Engine) runLogger(rc RunContext) Logger {
	return withLoggerFields(e.logger, rc.Fields())
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var ge *apperrors.Error
	if stderrors.As(err, &ge) && strings.TrimSpace(ge.Message) != "" {
		if ge.Source != nil {
			return ge.Message + ": " + ge.Source.Error()
		}
		return ge.Message
	}
	return err.Error()
}
