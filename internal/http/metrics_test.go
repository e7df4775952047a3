package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/clients/:client_id/stats", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, id := range []string{"lexsy", "techcorp", "acme"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/clients/"+id+"/stats", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, mm := range sm.Metrics {
			found[mm.Name] = true
			switch mm.Name {
			case "lexrag.http.requests_total":
				sum, ok := mm.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1, "one series per route template, not per client")
				assert.Equal(t, int64(3), sum.DataPoints[0].Value)
				endpoint, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("endpoint"))
				assert.Equal(t, "/api/v1/clients/:client_id/stats", endpoint.AsString())
			case "lexrag.http.request_duration_seconds":
				hist, ok := mm.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				require.Len(t, hist.DataPoints, 1)
				assert.Equal(t, uint64(3), hist.DataPoints[0].Count)
			}
		}
	}
	assert.True(t, found["lexrag.http.requests_total"])
	assert.True(t, found["lexrag.http.request_duration_seconds"])
	assert.True(t, found["lexrag.http.response_size_bytes"])
	assert.True(t, found["lexrag.http.active_requests"])
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "unmatched", normalizePath(""))
	assert.Equal(t, "/health", normalizePath("/health"))
	assert.Equal(t, "/api/v1/clients/:client_id/ask", normalizePath("/api/v1/clients/:client_id/ask"))
}
