package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.Registry())
			assert.NotNil(t, m.RBA)
			assert.NotNil(t, m.EBird)
			assert.NotNil(t, m.Delivery)
			assert.NotNil(t, m.Datastore)
		})
	}
	wg.Wait()
}

func TestRBAMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.RBA.RecordRun("scheduled")
	m.RBA.RecordRegion("US-CO-013", "success", 2*time.Second)
	m.RBA.RecordObservations("US-CO-013", "converted", 5)
	m.RBA.RecordObservations("US-CO-013", "skipped", 1)
	m.RBA.RecordMessages("US-CO-013", 2)
	m.RBA.RecordBucketChange("1-3d")

	assert.InDelta(t, 1, testutil.ToFloat64(m.RBA.PipelineRunsTotal.WithLabelValues("scheduled")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RBA.RegionRunsTotal.WithLabelValues("US-CO-013", "success")), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(m.RBA.ObservationsTotal.WithLabelValues("US-CO-013", "converted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RBA.ObservationsTotal.WithLabelValues("US-CO-013", "skipped")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.RBA.MessagesTotal.WithLabelValues("US-CO-013")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RBA.BucketChangesTotal.WithLabelValues("1-3d")), 0)

	var metric dto.Metric
	require.NoError(t, m.RBA.RegionDuration.Write(&metric))
	assert.Equal(t, uint64(1), metric.GetHistogram().GetSampleCount())
	assert.InDelta(t, 2.0, metric.GetHistogram().GetSampleSum(), 1e-9)
}

func TestEBirdAndDeliveryMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.EBird.RecordRequest("recent_notable", "200", 150*time.Millisecond)
	m.EBird.RecordRequest("recent_notable", "503", time.Second)
	m.EBird.RecordCacheHit("subnational2")
	m.Delivery.RecordDelivery("discord", "success")
	m.Delivery.SetCircuitState("discord/123", 2)
	m.Datastore.RecordDbOperation("save", "checklists", "success")

	assert.InDelta(t, 1, testutil.ToFloat64(m.EBird.RequestsTotal.WithLabelValues("recent_notable", "503")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EBird.CacheHitsTotal.WithLabelValues("subnational2")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Delivery.DeliveriesTotal.WithLabelValues("discord", "success")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Delivery.CircuitBreakerState.WithLabelValues("discord/123")), 0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.RBA.RecordRun("on_demand")
	m.Datastore.RecordDbOperation("get", "threads", "success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rba_pipeline_runs_total{trigger="on_demand"} 1`)
	assert.Contains(t, string(body), `datastore_db_operations_total{operation="get",status="success",table="threads"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
