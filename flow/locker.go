package flow

import (
	"strings"
	"sync"
)

// runLocker serialises work on one run id inside the process. Entries are
// reference counted and dropped once no caller holds or waits on them.
type runLocker struct {
	mu    sync.Mutex
	locks map[string]*runLockRef
}

type runLockRef struct {
	mu   sync.Mutex
	refs int
}

func newRunLocker() *runLocker {
	return &runLocker{locks: make(map[string]*runLockRef)}
}

func (l *runLocker) Lock(runID string) func() {
	if l == nil {
		return func() {}
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return func() {}
	}
	l.mu.Lock()
	ref, ok := l.locks[runID]
	if !ok || ref == nil {
		ref = &runLockRef{}
		l.locks[runID] = ref
	}
	ref.refs++
	l.mu.Unlock()

	ref.mu.Lock()
	return func() {
		ref.mu.Unlock()
		l.mu.Lock()
		ref.refs--
		if ref.refs <= 0 {
			delete(l.locks, runID)
		}
		l.mu.Unlock()
	}
}

func (l *runLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
