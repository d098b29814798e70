package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	dispute "github.com/goliatone/go-dispute"
)

// MemoryStore is a thread-safe in-process RunStore.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*dispute.Run
	now  func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*dispute.Run),
		now:  time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, run *dispute.Run) (*dispute.Run, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	rec, err := prepareCreate(run, s.now())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[rec.RunID]; ok {
		return nil, exists(rec.RunID)
	}
	s.runs[rec.RunID] = rec
	return rec.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, runID string) (*dispute.Run, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Patch(_ context.Context, runID string, expectedVersion int, patch Patch) (*dispute.Run, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, notFound(runID)
	}
	if err := checkVersion(rec, expectedVersion); err != nil {
		return nil, err
	}
	next := Apply(rec, patch, s.now())
	s.runs[runID] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ListByCase(_ context.Context, caseID string) ([]*dispute.Run, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	return s.filter(func(r *dispute.Run) bool { return r.CaseID == caseID }, 0), nil
}

func (s *MemoryStore) ListByStep(_ context.Context, step dispute.Step, limit int) ([]*dispute.Run, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	return s.filter(func(r *dispute.Run) bool { return r.CurrentStep == step }, limit), nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, runID string, expectedVersion int, final dispute.FinalResolution) (*dispute.Run, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	return s.Patch(ctx, runID, expectedVersion, CompletedPatch(final, s.now()))
}

func (s *MemoryStore) MarkFailed(ctx context.Context, runID string, expectedVersion int, message string) (*dispute.Run, error) {
	if s == nil {
		return nil, errors.New("in-memory store not configured")
	}
	return s.Patch(ctx, runID, expectedVersion, FailedPatch(message, s.now()))
}

func (s *MemoryStore) filter(match func(*dispute.Run) bool, limit int) []*dispute.Run {
	s.mu.RLock()
	out := make([]*dispute.Run, 0)
	for _, rec := range s.runs {
		if match(rec) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()
	sortByCreated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortByCreated(runs []*dispute.Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
}
