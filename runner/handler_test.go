package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestHandler_NoError_NoRetries(t *testing.T) {
	h := NewHandler()

	cf := countingFunc{failUntil: 0}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cf.calls != 1 {
		t.Errorf("expected calls=1, got %d", cf.calls)
	}
	if stats := h.Stats(); stats.Runs != 1 || stats.Succeeded != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestHandler_SuccessOnSecondAttempt(t *testing.T) {
	h := NewHandler(WithMaxRetries(3))

	cf := countingFunc{failUntil: 1}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cf.calls != 2 {
		t.Errorf("expected calls=2, got %d", cf.calls)
	}
	if stats := h.Stats(); stats.Succeeded != 1 || stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestHandler_AllAttemptsFail(t *testing.T) {
	var handled error
	h := NewHandler(
		WithName("billing.subscription"),
		WithMaxRetries(2),
		WithErrorHandler(func(err error) { handled = err }),
	)

	cf := countingFunc{failUntil: 5}
	err := h.Run(context.Background(), cf.fn)
	if err == nil {
		t.Fatal("expected error")
	}

	if cf.calls != 3 {
		t.Errorf("expected calls=3 (1 initial + 2 retries), got %d", cf.calls)
	}
	if !strings.Contains(err.Error(), "billing.subscription") {
		t.Errorf("expected call name in error, got %q", err.Error())
	}
	if handled == nil {
		t.Error("expected error handler to be invoked")
	}
	if stats := h.Stats(); stats.Failed != 1 {
		t.Errorf("expected one failed run, got %+v", stats)
	}
}

func TestHandler_RetryIfStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	h := NewHandler(
		WithMaxRetries(5),
		WithRetryIf(func(err error) bool { return !errors.Is(err, permanent) }),
	)

	calls := 0
	err := h.Run(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestHandler_Timeout(t *testing.T) {
	h := NewHandler(
		WithTimeout(50*time.Millisecond),
		WithMaxRetries(0),
	)

	start := time.Now()
	err := h.Run(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
			return nil
		}
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed >= 500*time.Millisecond {
		t.Error("expected function to time out quickly, but took too long")
	}
}

func TestHandler_TimeoutAppliesPerAttempt(t *testing.T) {
	h := NewHandler(
		WithTimeout(30*time.Millisecond),
		WithMaxRetries(1),
	)

	calls := 0
	err := h.Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected second attempt to get a fresh timeout, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestHandler_Deadline(t *testing.T) {
	deadline := time.Now().Add(50 * time.Millisecond)
	h := NewHandler(WithDeadline(deadline))

	start := time.Now()
	err := h.Run(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
			return nil
		}
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected deadline error")
	}
	if elapsed >= 500*time.Millisecond {
		t.Error("expected function to stop at deadline, but took too long")
	}
}

func TestHandler_CanceledContextStopsRetries(t *testing.T) {
	h := NewHandler(
		WithMaxRetries(5),
		WithRetryStrategy(ExponentialBackoffStrategy{Base: time.Second, Factor: 2}),
	)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := h.Run(ctx, func(context.Context) error {
		calls++
		return errors.New("unavailable")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected backoff to be interrupted after first call, got %d calls", calls)
	}
	if time.Since(start) >= time.Second {
		t.Error("expected cancellation to interrupt backoff sleep")
	}
}

func TestHandler_Concurrency(t *testing.T) {
	h := NewHandler(WithMaxRetries(1))
	wg := sync.WaitGroup{}
	const goroutines = 10

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cf := &countingFunc{failUntil: 1}
			_ = h.Run(context.Background(), cf.fn)
		}()
	}
	wg.Wait()

	stats := h.Stats()
	if stats.Runs != goroutines {
		t.Errorf("expected runs=%d, got %d", goroutines, stats.Runs)
	}
	if stats.Succeeded != goroutines {
		t.Errorf("expected successes=%d, got %d", goroutines, stats.Succeeded)
	}
}

func TestHandler_Logger(t *testing.T) {
	ml := &mockLogger{}
	h := NewHandler(
		WithLogger(ml),
		WithMaxRetries(1),
	)

	cf := countingFunc{failUntil: 2}
	_ = h.Run(context.Background(), cf.fn)

	if len(ml.errorMessages) == 0 {
		t.Error("expected some error logs, got none")
	}
}

func TestQuery(t *testing.T) {
	h := NewHandler(WithMaxRetries(2))

	calls := 0
	res, err := Query(context.Background(), h, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("forced failure")
		}
		return "Hello, World!", nil
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if res != "Hello, World!" {
		t.Errorf("expected result='Hello, World!', got '%s'", res)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestQueryReturnsZeroOnFailure(t *testing.T) {
	h := NewHandler()
	res, err := Query(context.Background(), h, func(context.Context) (int, error) {
		return 42, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if res != 0 {
		t.Errorf("expected zero value on failure, got %d", res)
	}
}

func TestNilHandlerRunsDirectly(t *testing.T) {
	var h *Handler
	calls := 0
	if err := h.Run(context.Background(), func(context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

type mockLogger struct {
	mu            sync.Mutex
	infoMessages  []string
	errorMessages []string
}

func (m *mockLogger) Info(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMessages = append(m.infoMessages, fmt.Sprintf(msg, args...))
}

func (m *mockLogger) Error(msg string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMessages = append(m.errorMessages, fmt.Sprintf(msg, args...))
}

type countingFunc struct {
	calls     int
	failUntil int // fail this many times, then succeed
}

func (cf *countingFunc) fn(_ context.Context) error {
	cf.calls++
	if cf.calls <= cf.failUntil {
		return fmt.Errorf("forced error attempt %d", cf.calls)
	}
	return nil
}
