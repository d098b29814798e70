package flow

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-logger/glog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dispute "github.com/goliatone/go-dispute"
)

func TestRunLockerSerialisesAndReleases(t *testing.T) {
	l := newRunLocker()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("run-1")
			defer unlock()
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, l.size())
}

func TestRunLockerIndependentRuns(t *testing.T) {
	l := newRunLocker()
	unlockA := l.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
	assert.Zero(t, l.size())

	noop := l.Lock("  ")
	noop()
}

func TestFmtLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := withLoggerFields(NewFmtLogger(&buf), RunContext{RunID: "r1", CaseID: "c1", Step: dispute.StepFetchData}.Fields())

	logger.Info("fetched %d sources", 4)
	line := buf.String()
	assert.Contains(t, line, "INFO")
	assert.Contains(t, line, "fetched 4 sources")
	assert.Contains(t, line, "case_id=c1 run_id=r1 step=fetch_data")
}

func TestRunContextFields(t *testing.T) {
	rc := contextOf(&dispute.Run{RunID: "r1", CaseID: "c1", CustomerID: "u1", CurrentStep: dispute.StepWaitHumanReview})
	require.Equal(t, dispute.StepWaitHumanReview, rc.Step)
	assert.Equal(t, "wait_human_review", rc.Fields()["step"])
	assert.Equal(t, "u1", rc.Fields()["customer_id"])

	bare := RunContext{RunID: "r2", CaseID: "c2"}.Fields()
	assert.NotContains(t, bare, "customer_id")
	assert.NotContains(t, bare, "step")
}

func TestErrorMessageIncludesSource(t *testing.T) {
	err := dispute.NewError(dispute.ErrTransientExternal, "billing refund failed", assert.AnError, nil)
	assert.Equal(t, "billing refund failed: "+assert.AnError.Error(), errorMessage(err))
	assert.Equal(t, "plain", errorMessage(assertErr("plain")))
	assert.Empty(t, errorMessage(nil))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestCleanStackTraceDropsPanicFrames(t *testing.T) {
	stack := "goroutine 7 [running]:\nruntime/debug.Stack()\npanic({0x1, 0x2})\n\t/usr/local/go/src/runtime/panic.go:785\nmain.step()\n\t/app/step.go:12"
	assert.Equal(t, "main.step()\n\t/app/step.go:12", cleanStackTrace([]byte(stack)))
	assert.Equal(t, "no panic here", cleanStackTrace([]byte("no panic here")))
}

func TestGlogLoggerCarriesRunFields(t *testing.T) {
	buf := &bytes.Buffer{}
	base := glog.NewLogger(
		glog.WithWriter(buf),
		glog.WithLoggerTypeJSON(),
		glog.WithLevel("trace"),
	)
	logger := NewGlogLogger(base)
	withLoggerFields(logger, RunContext{RunID: "r1", CaseID: "c1", Step: dispute.StepFetchData}.Fields()).Info("fetched %d sources", 3)

	logged := buf.String()
	assert.Contains(t, logged, "fetched 3 sources")
	assert.Contains(t, logged, "run_id")

	_, ok := NewGlogLogger(nil).(*FmtLogger)
	assert.True(t, ok, "nil logger falls back to FmtLogger")
}
