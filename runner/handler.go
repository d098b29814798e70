package runner

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Handler runs outbound calls under a timeout with bounded retries.
// One handler is shared by every call to the same collaborator.
type Handler struct {
	mu sync.Mutex

	name          string
	logger        Logger
	errorHandler  func(error)
	retryStrategy RetryStrategy
	retryIf       func(error) bool

	runs           int
	successfulRuns int
	failedRuns     int

	maxRetries int
	timeout    time.Duration
	deadline   time.Time
}

// NewHandler constructs a Handler from options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		name:          "call",
		errorHandler:  func(error) {},
		retryStrategy: NoDelayStrategy{},
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	return h
}

// Run executes fn, retrying failures until maxRetries is exhausted or the
// context ends. Each attempt gets its own timeout.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	if h == nil {
		return fn(ctx)
	}
	if fn == nil {
		return nil
	}

	h.mu.Lock()
	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	h.mu.Unlock()

	var err error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		err = h.attempt(ctx, fn)
		if err == nil {
			break
		}
		if attempt == maxRetries || !h.shouldRetry(err) || ctx.Err() != nil {
			break
		}

		h.logError("%s failed, attempt %d of %d: %v", h.name, attempt+1, maxRetries+1, err)
		decision := DecideRetry(strategy, attempt, err)
		if !decision.ShouldRetry {
			break
		}
		if waitErr := sleep(ctx, decision.Delay); waitErr != nil {
			break
		}
	}

	h.mu.Lock()
	h.runs++
	if err == nil {
		h.successfulRuns++
	} else {
		h.failedRuns++
	}
	h.mu.Unlock()

	if err == nil {
		return nil
	}

	wrapped := errors.Wrap(err, errors.CategoryExternal, fmt.Sprintf("%s failed after %d attempts", h.name, attempts)).
		WithTextCode("RUNNER_CALL_FAILED").
		WithMetadata(map[string]any{
			"call":     h.name,
			"attempts": attempts,
		})
	h.errorHandler(wrapped)
	return wrapped
}

// Stats reports lifetime counters for the handler.
func (h *Handler) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Runs: h.runs, Succeeded: h.successfulRuns, Failed: h.failedRuns}
}

// Stats summarises handler usage.
type Stats struct {
	Runs      int
	Succeeded int
	Failed    int
}

func (h *Handler) attempt(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := h.contextWithSettings(ctx)
	defer cancel()
	return fn(ctx)
}

func (h *Handler) shouldRetry(err error) bool {
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if h.retryIf == nil {
		return true
	}
	return h.retryIf(err)
}

func (h *Handler) logError(format string, args ...any) {
	if h.logger != nil {
		h.logger.Error(format, args...)
	}
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout != 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout != 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}

// Query runs fn through h and returns its value.
func Query[R any](ctx context.Context, h *Handler, fn func(context.Context) (R, error)) (R, error) {
	var result R
	err := h.Run(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
