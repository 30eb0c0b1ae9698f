package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestStageTiming(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(clock)

	done := m.StartStage("prove")
	clock.Advance(2 * time.Second)
	done(nil)

	done = m.StartStage("prove")
	clock.Advance(time.Second)
	done(errors.New("backend down"))

	require.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
	require.Equal(t, float64(1), testutil.ToFloat64(m.stageFailures.WithLabelValues("prove")))

	expected := `
# HELP zgate_stage_duration_seconds Duration of pipeline stages
# TYPE zgate_stage_duration_seconds histogram
zgate_stage_duration_seconds_bucket{stage="prove",le="0.01"} 0
zgate_stage_duration_seconds_bucket{stage="prove",le="0.05"} 0
zgate_stage_duration_seconds_bucket{stage="prove",le="0.1"} 0
zgate_stage_duration_seconds_bucket{stage="prove",le="0.5"} 0
zgate_stage_duration_seconds_bucket{stage="prove",le="1"} 1
zgate_stage_duration_seconds_bucket{stage="prove",le="5"} 2
zgate_stage_duration_seconds_bucket{stage="prove",le="10"} 2
zgate_stage_duration_seconds_bucket{stage="prove",le="30"} 2
zgate_stage_duration_seconds_bucket{stage="prove",le="60"} 2
zgate_stage_duration_seconds_bucket{stage="prove",le="300"} 2
zgate_stage_duration_seconds_bucket{stage="prove",le="+Inf"} 2
zgate_stage_duration_seconds_sum{stage="prove"} 3
zgate_stage_duration_seconds_count{stage="prove"} 2
`
	require.NoError(t, testutil.CollectAndCompare(m.stageDuration, strings.NewReader(expected)))
}

func TestObserveRun(t *testing.T) {
	m := New(nil)
	m.ObserveRun(nil)
	m.ObserveRun(nil)
	m.ObserveRun(errors.New("x"))

	require.Equal(t, float64(2), testutil.ToFloat64(m.runs.WithLabelValues(OutcomeSuccess)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues(OutcomeFailure)))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.StartStage("recover")(errors.New("ignored"))
	m.ObserveRun(nil)
	require.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "never.prom")))
}

func TestWriteTextfile(t *testing.T) {
	m := New(clockwork.NewFakeClock())
	m.StartStage("persist")(nil)
	m.ObserveRun(nil)

	path := filepath.Join(t.TempDir(), "zgate.prom")
	require.NoError(t, m.WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `zgate_runs_total{outcome="success"} 1`)
	require.Contains(t, string(b), `zgate_stage_duration_seconds_count{stage="persist"} 1`)
}
