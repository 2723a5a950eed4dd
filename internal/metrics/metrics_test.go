package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()
	at := time.Unix(1_700_000_000, 0)

	r.RunFinished(OutcomeSuccess, at)
	r.RunFinished(OutcomeFailed, at.Add(time.Minute))
	r.RunFinished(OutcomeSuccess, at)
	r.RowsLoaded("events", 4)
	r.RowsLoaded("events", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 6.0, testutil.ToFloat64(r.rowsLoaded.WithLabelValues("events")))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(r.lastSuccess))
}

func TestRecorder_StageDuration(t *testing.T) {
	r := NewRecorder()
	r.ObserveStage("fetch", 250*time.Millisecond)
	r.ObserveStage("load", time.Second)

	assert.Equal(t, 2, testutil.CollectAndCount(r.stageDuration))

	expected := `
# HELP convoetl_runs_total Total number of ingestion runs by outcome.
# TYPE convoetl_runs_total counter
convoetl_runs_total{outcome="failed"} 1
`
	r.RunFinished(OutcomeFailed, time.Now())
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "convoetl_runs_total"))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveStage("load", time.Second)
	r.RowsLoaded("sessions", 1)
	r.RunFinished(OutcomeSuccess, time.Now())
	assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
	assert.Nil(t, r.WithProcessCollectors())
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.RunFinished(OutcomeSuccess, time.Unix(1_700_000_000, 0))
	r.RowsLoaded("sessions", 3)

	path := filepath.Join(t.TempDir(), "convoetl.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `convoetl_runs_total{outcome="success"} 1`)
	assert.Contains(t, string(data), `convoetl_rows_loaded_total{table="sessions"} 3`)
	assert.Contains(t, string(data), "convoetl_last_success_timestamp_seconds 1.7e+09")
}

func TestRecorder_WriteTextfileEmptyPath(t *testing.T) {
	assert.NoError(t, NewRecorder().WriteTextfile(""))
}
