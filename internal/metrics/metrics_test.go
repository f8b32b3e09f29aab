package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/covid-loader/internal/model"
)

func TestRecorder_Observe(t *testing.T) {
	r := New()
	start := time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC)

	r.Observe(&model.LoadSummary{
		StartedAt: start, CompletedAt: start.Add(2 * time.Second),
		RowsRead: 10, RowsLoaded: 8, RowsSkipped: 2,
		FactsWritten: 30, Mismatches: 1, Warnings: 3,
	})
	r.Observe(&model.LoadSummary{Error: "boom", RowsRead: 1})
	r.Observe(&model.LoadSummary{AlreadyLoaded: true})
	r.Observe(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.loads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.loads.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.loads.WithLabelValues("already-loaded")))
	assert.Equal(t, 11.0, testutil.ToFloat64(r.rows.WithLabelValues("read")))
	assert.Equal(t, 8.0, testutil.ToFloat64(r.rows.WithLabelValues("loaded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.rows.WithLabelValues("skipped")))
	assert.Equal(t, 30.0, testutil.ToFloat64(r.facts))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.mismatches))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.warnings))
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.Observe(&model.LoadSummary{FactsWritten: 4})

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "covid_loader_facts_written_total 4")
	assert.Contains(t, string(body), "go_goroutines")
}
