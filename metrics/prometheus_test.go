package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dispute "github.com/goliatone/go-dispute"
	"github.com/goliatone/go-dispute/cache"
	"github.com/goliatone/go-dispute/flow"
	"github.com/goliatone/go-dispute/generation"
)

var (
	_ flow.MetricsRecorder    = (*Recorder)(nil)
	_ flow.RunMetricsRecorder = (*Recorder)(nil)
	_ generation.Observer     = (*Recorder)(nil)
)

func TestRecorderCountsStepsAndRuns(t *testing.T) {
	r := NewRecorder(nil)

	r.RecordDuration("fetch_data", 20*time.Millisecond)
	r.RecordSuccess("fetch_data")
	r.RecordError("execute_resolution")
	r.RecordError("execute_resolution")
	r.RecordRunStarted()
	r.RecordRunFinished(dispute.StatusFailed)
	r.RecordSecurityViolation()
	r.ObserveGeneration(generation.OutcomeFallback, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.stepOutcomes.WithLabelValues("fetch_data", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.stepOutcomes.WithLabelValues("execute_resolution", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsFinished.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.securityViolations))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.generations.WithLabelValues("fallback")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.stepDuration))
}

func TestRecorderExportsCacheStats(t *testing.T) {
	r := NewRecorder(nil)
	stats := cache.Stats{Size: 3, Hits: 5, Misses: 2, HitRate: 5.0 / 7}
	require.NoError(t, r.WatchCache(func() cache.Stats { return stats }))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, "dispute_cache_entries 3")
	assert.Contains(t, body, "dispute_cache_hits_total 5")
	assert.True(t, strings.Contains(body, "dispute_cache_misses_total 2"))

	assert.Error(t, r.WatchCache(func() cache.Stats { return stats }), "duplicate registration")
}
