package fetch

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	dispute "github.com/goliatone/go-dispute"
	"github.com/goliatone/go-dispute/runner"
)

const (
	DefaultMaxConcurrency = 4
	DefaultCallTimeout    = 10 * time.Second
	DefaultDeadline       = 30 * time.Second
)

// Source names recorded in SourcedData.Degraded.
const (
	SourceBilling = "billing"
	SourcePayment = "payment"
	SourceAccount = "account"
)

type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Option func(*Coordinator)

// WithMaxConcurrency bounds in-flight collaborator calls across all runs.
func WithMaxConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.limit = n
		}
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithDeadline bounds a whole Fetch.
func WithDeadline(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.deadline = d
		}
	}
}

// WithRetries sets how many times a failed read is retried.
func WithRetries(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.retries = n
		}
	}
}

func WithLogger(l Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator gathers a dispute's data from the case, billing and payment
// systems concurrently. One instance is shared by every run in a process so
// the concurrency bound holds globally.
type Coordinator struct {
	cases    dispute.CaseSource
	billing  dispute.BillingSource
	payments dispute.PaymentSource

	limit       int
	callTimeout time.Duration
	deadline    time.Duration
	retries     int
	logger      Logger

	once     sync.Once
	sem      *semaphore.Weighted
	handlers map[string]*runner.Handler
}

func NewCoordinator(cases dispute.CaseSource, billing dispute.BillingSource, payments dispute.PaymentSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		cases:       cases,
		billing:     billing,
		payments:    payments,
		limit:       DefaultMaxConcurrency,
		callTimeout: DefaultCallTimeout,
		deadline:    DefaultDeadline,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Coordinator) init() {
	c.once.Do(func() {
		c.sem = semaphore.NewWeighted(int64(c.limit))
		c.handlers = make(map[string]*runner.Handler)
		for _, name := range []string{"case", SourceAccount, SourceBilling, SourcePayment} {
			opts := []runner.Option{
				runner.WithName(name + " fetch"),
				runner.WithTimeout(c.callTimeout),
				runner.WithMaxRetries(c.retries),
				runner.WithRetryIf(retryable),
			}
			if c.logger != nil {
				opts = append(opts, runner.WithLogger(c.logger))
			}
			c.handlers[name] = runner.NewHandler(opts...)
		}
	})
}

// Fetch reads the case, account, subscription and charges for a dispute.
// A case failure is fatal. Any other failure yields an empty payload and a
// Degraded entry. Fetch returns only after every launched call finished.
func (c *Coordinator) Fetch(ctx context.Context, caseID, customerID string) (dispute.SourcedData, error) {
	c.init()
	if c.cases == nil {
		return dispute.SourcedData{}, dispute.NewError(dispute.ErrTransientExternal, "case source not configured", nil, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	var (
		mu       sync.Mutex
		out      = dispute.SourcedData{Account: dispute.Record{}, Subscription: dispute.Record{}, Charges: dispute.Record{}}
		degraded []string
	)
	degrade := func(source string, err error) {
		mu.Lock()
		degraded = append(degraded, source)
		mu.Unlock()
		c.warn("%s fetch failed for case %s, using empty defaults: %v", source, caseID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)

	g.Go(func() error {
		record, err := c.call(gctx, "case", func(ctx context.Context) (dispute.Record, error) {
			return c.cases.GetCase(ctx, caseID)
		})
		if err != nil {
			return dispute.NewError(dispute.ErrTransientExternal, "case fetch failed", err, map[string]any{"case_id": caseID})
		}
		mu.Lock()
		out.Case = record
		mu.Unlock()

		accountID := record.Text(dispute.KeyAccountID...)
		if accountID == "" {
			return nil
		}
		account, err := c.call(gctx, SourceAccount, func(ctx context.Context) (dispute.Record, error) {
			return c.cases.GetAccount(ctx, accountID)
		})
		if err != nil {
			degrade(SourceAccount, err)
			return nil
		}
		mu.Lock()
		out.Account = account
		mu.Unlock()
		return nil
	})

	if c.billing != nil {
		g.Go(func() error {
			sub, err := c.subscription(gctx, customerID)
			if err != nil {
				degrade(SourceBilling, err)
				return nil
			}
			mu.Lock()
			out.Subscription = sub
			mu.Unlock()
			return nil
		})
	}

	if c.payments != nil {
		g.Go(func() error {
			charges, err := c.call(gctx, SourcePayment, func(ctx context.Context) (dispute.Record, error) {
				return c.payments.ListCharges(ctx, customerID)
			})
			if err != nil {
				degrade(SourcePayment, err)
				return nil
			}
			mu.Lock()
			out.Charges = charges
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return dispute.SourcedData{}, err
	}
	out.Degraded = sortedSources(degraded)
	c.info("fetched data for case %s (degraded: %v)", caseID, out.Degraded)
	return out, nil
}

func (c *Coordinator) subscription(ctx context.Context, customerID string) (dispute.Record, error) {
	type resolved struct {
		id string
		ok bool
	}
	acct, err := runner.Query(ctx, c.handlers[SourceBilling], func(ctx context.Context) (resolved, error) {
		if err := c.acquire(ctx); err != nil {
			return resolved{}, err
		}
		defer c.sem.Release(1)
		id, ok, err := c.billing.ResolveAccount(ctx, customerID)
		return resolved{id: id, ok: ok}, err
	})
	if err != nil {
		return nil, err
	}
	if !acct.ok {
		return dispute.Record{}, nil
	}
	return c.call(ctx, SourceBilling, func(ctx context.Context) (dispute.Record, error) {
		return c.billing.ActiveSubscription(ctx, acct.id)
	})
}

func (c *Coordinator) call(ctx context.Context, name string, fn func(context.Context) (dispute.Record, error)) (dispute.Record, error) {
	record, err := runner.Query(ctx, c.handlers[name], func(ctx context.Context) (dispute.Record, error) {
		if err := c.acquire(ctx); err != nil {
			return nil, err
		}
		defer c.sem.Release(1)
		return fn(ctx)
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = dispute.Record{}
	}
	return record, nil
}

func (c *Coordinator) acquire(ctx context.Context) error {
	return c.sem.Acquire(ctx, 1)
}

func retryable(err error) bool {
	return !dispute.HasCode(err, dispute.ErrCodeValidation)
}

func sortedSources(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	order := map[string]int{SourceAccount: 0, SourceBilling: 1, SourcePayment: 2}
	out := append([]string(nil), in...)
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}

func (c *Coordinator) info(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Coordinator) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
