package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dispute "github.com/goliatone/go-dispute"
)

var (
	_ RunStore = (*MemoryStore)(nil)
	_ RunStore = (*SQLStore)(nil)
	_ RunStore = (*RedisStore)(nil)
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) RunStore { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) RunStore {
		s, err := OpenSQLite(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("DISPUTE_REDIS_ADDR")
	if addr == "" {
		t.Skip("DISPUTE_REDIS_ADDR not set")
	}
	runStoreSuite(t, func(t *testing.T) RunStore {
		s, err := OpenRedis(context.Background(), addr, "", 0)
		require.NoError(t, err)
		s.keyPrefix = "dispute-test:" + uuid.NewString() + ":"
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func newRun(caseID string) *dispute.Run {
	return &dispute.Run{
		RunID:       uuid.NewString(),
		CaseID:      caseID,
		CustomerID:  "cust-1",
		CurrentStep: dispute.StepFetchData,
		Status:      dispute.StatusRunning,
	}
}

func runStoreSuite(t *testing.T, factory func(t *testing.T) RunStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := factory(t)
		run := newRun("case-1")
		created, err := s.Create(ctx, run)
		require.NoError(t, err)
		assert.Equal(t, 1, created.Version)
		assert.False(t, created.CreatedAt.IsZero())

		got, err := s.Get(ctx, run.RunID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, run.CaseID, got.CaseID)
		assert.Equal(t, dispute.StepFetchData, got.CurrentStep)
		assert.Equal(t, 1, got.Version)
	})

	t.Run("get missing returns nil", func(t *testing.T) {
		s := factory(t)
		got, err := s.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("duplicate create conflicts", func(t *testing.T) {
		s := factory(t)
		run := newRun("case-1")
		_, err := s.Create(ctx, run)
		require.NoError(t, err)
		_, err = s.Create(ctx, run)
		require.Error(t, err)
		assert.True(t, dispute.HasCode(err, dispute.ErrCodeVersionConflict))
	})

	t.Run("patch is field level and bumps version", func(t *testing.T) {
		s := factory(t)
		run := newRun("case-1")
		_, err := s.Create(ctx, run)
		require.NoError(t, err)

		step := dispute.StepValidateDispute
		data := dispute.SourcedData{Case: dispute.Record{"amount": 40.0}, Degraded: []string{"payment"}}
		patched, err := s.Patch(ctx, run.RunID, 1, Patch{CurrentStep: &step, SourcedData: &data})
		require.NoError(t, err)
		assert.Equal(t, 2, patched.Version)

		msg := "note"
		patched, err = s.Patch(ctx, run.RunID, 2, Patch{ErrorMessage: &msg})
		require.NoError(t, err)

		got, err := s.Get(ctx, run.RunID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Version)
		assert.Equal(t, dispute.StepValidateDispute, got.CurrentStep)
		assert.Equal(t, []string{"payment"}, got.SourcedData.Degraded)
		assert.Equal(t, 40.0, got.SourcedData.Case["amount"])
		assert.Equal(t, "note", got.ErrorMessage)
		assert.Equal(t, patched.Version, got.Version)
	})

	t.Run("stale patch conflicts without mutation", func(t *testing.T) {
		s := factory(t)
		run := newRun("case-1")
		_, err := s.Create(ctx, run)
		require.NoError(t, err)

		step := dispute.StepValidateDispute
		_, err = s.Patch(ctx, run.RunID, 1, Patch{CurrentStep: &step})
		require.NoError(t, err)

		other := dispute.StepHandleError
		_, err = s.Patch(ctx, run.RunID, 1, Patch{CurrentStep: &other})
		require.Error(t, err)
		assert.True(t, dispute.HasCode(err, dispute.ErrCodeVersionConflict))

		got, err := s.Get(ctx, run.RunID)
		require.NoError(t, err)
		assert.Equal(t, dispute.StepValidateDispute, got.CurrentStep)
		assert.Equal(t, 2, got.Version)
	})

	t.Run("unconditional patch", func(t *testing.T) {
		s := factory(t)
		run := newRun("case-1")
		_, err := s.Create(ctx, run)
		require.NoError(t, err)
		msg := "repair"
		got, err := s.Patch(ctx, run.RunID, AnyVersion, Patch{ErrorMessage: &msg})
		require.NoError(t, err)
		assert.Equal(t, "repair", got.ErrorMessage)
	})

	t.Run("patch missing run", func(t *testing.T) {
		s := factory(t)
		msg := "x"
		_, err := s.Patch(ctx, "missing", 1, Patch{ErrorMessage: &msg})
		require.Error(t, err)
		assert.True(t, dispute.HasCode(err, dispute.ErrCodeNotFound))
	})

	t.Run("concurrent compare and set", func(t *testing.T) {
		s := factory(t)
		run := newRun("case-1")
		_, err := s.Create(ctx, run)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, 2)
		attempt := func() {
			defer wg.Done()
			step := dispute.StepValidateDispute
			_, err := s.Patch(ctx, run.RunID, 1, Patch{CurrentStep: &step})
			errs <- err
		}
		wg.Add(2)
		go attempt()
		go attempt()
		wg.Wait()
		close(errs)

		success, conflicts := 0, 0
		for err := range errs {
			switch {
			case err == nil:
				success++
			case dispute.HasCode(err, dispute.ErrCodeVersionConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, success)
		assert.Equal(t, 1, conflicts)
	})

	t.Run("mark completed and failed", func(t *testing.T) {
		s := factory(t)
		ok := newRun("case-1")
		bad := newRun("case-1")
		_, err := s.Create(ctx, ok)
		require.NoError(t, err)
		_, err = s.Create(ctx, bad)
		require.NoError(t, err)

		done, err := s.MarkCompleted(ctx, ok.RunID, 1, dispute.FinalResolution{Action: dispute.ActionFullRefund, Amount: 40, ExecutedAt: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, dispute.StatusCompleted, done.Status)
		assert.Equal(t, dispute.StepCompleted, done.CurrentStep)
		require.NotNil(t, done.FinalResolution)
		assert.Equal(t, 40.0, done.FinalResolution.Amount)
		assert.NotNil(t, done.CompletedAt)

		failed, err := s.MarkFailed(ctx, bad.RunID, 1, "boom")
		require.NoError(t, err)
		assert.Equal(t, dispute.StatusFailed, failed.Status)
		assert.Equal(t, dispute.StepError, failed.CurrentStep)
		assert.Equal(t, "boom", failed.ErrorMessage)
	})

	t.Run("list by case and step", func(t *testing.T) {
		s := factory(t)
		for i := 0; i < 3; i++ {
			run := newRun("case-A")
			run.CreatedAt = time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC)
			_, err := s.Create(ctx, run)
			require.NoError(t, err)
		}
		other := newRun("case-B")
		_, err := s.Create(ctx, other)
		require.NoError(t, err)

		step := dispute.StepWaitHumanReview
		_, err = s.Patch(ctx, other.RunID, 1, Patch{CurrentStep: &step})
		require.NoError(t, err)

		byCase, err := s.ListByCase(ctx, "case-A")
		require.NoError(t, err)
		require.Len(t, byCase, 3)
		for i := 1; i < len(byCase); i++ {
			assert.False(t, byCase[i].CreatedAt.Before(byCase[i-1].CreatedAt), fmt.Sprintf("run %d out of order", i))
		}

		waiting, err := s.ListByStep(ctx, dispute.StepWaitHumanReview, 10)
		require.NoError(t, err)
		require.Len(t, waiting, 1)
		assert.Equal(t, other.RunID, waiting[0].RunID)

		fetching, err := s.ListByStep(ctx, dispute.StepFetchData, 2)
		require.NoError(t, err)
		assert.Len(t, fetching, 2)

		none, err := s.ListByCase(ctx, "case-Z")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestApplyLeavesUnsetFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &dispute.Run{
		RunID:        "r",
		CurrentStep:  dispute.StepGenerateResolution,
		Status:       dispute.StatusRunning,
		ErrorMessage: "keep",
		Version:      4,
		HumanReview:  dispute.HumanReview{Status: dispute.ReviewPending},
	}
	review := dispute.HumanReview{Status: dispute.ReviewApproved, Reviewer: "ops"}
	out := Apply(run, Patch{HumanReview: &review}, now)

	assert.Equal(t, dispute.ReviewApproved, out.HumanReview.Status)
	assert.Equal(t, "keep", out.ErrorMessage)
	assert.Equal(t, dispute.StepGenerateResolution, out.CurrentStep)
	assert.Equal(t, 5, out.Version)
	assert.Equal(t, now, out.UpdatedAt)
	assert.Equal(t, dispute.ReviewPending, run.HumanReview.Status, "input must not be mutated")
	assert.True(t, Patch{}.Empty())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, closeFn, err := Open(context.Background(), Options{Driver: "cassandra"})
	require.Error(t, err)
	assert.NoError(t, closeFn())

	s, closeFn, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.NoError(t, closeFn())
}
