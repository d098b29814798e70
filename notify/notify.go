package notify

import (
	"context"
	"errors"
	"time"

	dispute "github.com/goliatone/go-dispute"
	"github.com/goliatone/go-dispute/runner"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 2
)

// Logger is the subset of the engine logger notifiers write to.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Option configures a Fanout.
type Option func(*Fanout)

func WithTimeout(d time.Duration) Option {
	return func(f *Fanout) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithRetries(n int) Option {
	return func(f *Fanout) {
		if n >= 0 {
			f.retries = n
		}
	}
}

func WithBackoff(base, max time.Duration) Option {
	return func(f *Fanout) {
		f.backoff = runner.ExponentialBackoffStrategy{Base: base, Factor: 2, Max: max}
	}
}

func WithLogger(l Logger) Option {
	return func(f *Fanout) { f.logger = l }
}

// Fanout delivers every notification to all targets. Each target gets its
// own retried attempt; one failing channel does not stop the others.
type Fanout struct {
	targets []dispute.Notifier
	timeout time.Duration
	retries int
	backoff runner.RetryStrategy
	logger  Logger
	handler *runner.Handler
}

// NewFanout builds a fan-out notifier over targets. Nil targets are skipped.
func NewFanout(targets []dispute.Notifier, opts ...Option) *Fanout {
	f := &Fanout{timeout: DefaultTimeout, retries: DefaultRetries}
	for _, t := range targets {
		if t != nil {
			f.targets = append(f.targets, t)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	handlerOpts := []runner.Option{
		runner.WithName("notification"),
		runner.WithTimeout(f.timeout),
		runner.WithMaxRetries(f.retries),
	}
	if f.backoff != nil {
		handlerOpts = append(handlerOpts, runner.WithRetryStrategy(f.backoff))
	}
	f.handler = runner.NewHandler(handlerOpts...)
	return f
}

// Len reports how many targets are configured.
func (f *Fanout) Len() int {
	return len(f.targets)
}

func (f *Fanout) NotifyPendingReview(ctx context.Context, req dispute.ReviewRequest) error {
	return f.each(ctx, "review request", req.RunID, func(ctx context.Context, n dispute.Notifier) error {
		return n.NotifyPendingReview(ctx, req)
	})
}

func (f *Fanout) NotifyCompletion(ctx context.Context, notice dispute.CompletionNotice) error {
	return f.each(ctx, "completion notice", notice.RunID, func(ctx context.Context, n dispute.Notifier) error {
		return n.NotifyCompletion(ctx, notice)
	})
}

func (f *Fanout) each(ctx context.Context, kind, runID string, send func(context.Context, dispute.Notifier) error) error {
	var errs []error
	for _, target := range f.targets {
		err := f.handler.Run(ctx, func(ctx context.Context) error {
			return send(ctx, target)
		})
		if err != nil {
			if f.logger != nil {
				f.logger.Warn("%s for run %s not delivered: %v", kind, runID, err)
			}
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return dispute.NewError(dispute.ErrTransientExternal, kind+" delivery failed", errors.Join(errs...), map[string]any{
		"run_id": runID,
		"failed": len(errs),
	})
}

// LogNotifier writes notifications to a logger. It is the default channel
// when nothing else is configured.
type LogNotifier struct {
	Logger Logger
}

func (n LogNotifier) NotifyPendingReview(_ context.Context, req dispute.ReviewRequest) error {
	if n.Logger == nil {
		return nil
	}
	verb := "review requested"
	if req.Reminder {
		verb = "review reminder"
	}
	n.Logger.Info("%s: run %s case %s %s $%.2f (%s, confidence %.2f)",
		verb, req.RunID, req.CaseID, req.Resolution.Action, req.Resolution.Amount, req.Summary.DisputeType, req.Resolution.Confidence)
	return nil
}

func (n LogNotifier) NotifyCompletion(_ context.Context, notice dispute.CompletionNotice) error {
	if n.Logger == nil {
		return nil
	}
	if notice.Resolution == nil {
		n.Logger.Info("dispute %s: run %s case %s (%s)", notice.Status, notice.RunID, notice.CaseID, notice.Decision)
		return nil
	}
	n.Logger.Info("dispute %s: run %s case %s %s $%.2f", notice.Status, notice.RunID, notice.CaseID, notice.Resolution.Action, notice.Resolution.Amount)
	return nil
}
