package metrics_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lightninglabs/coinswap/metrics"
)

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	metrics.SwapsStarted.WithLabelValues("taker").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	metrics.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "coinswap_swaps_started_total")
}
