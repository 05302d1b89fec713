package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagesSent_CountsByType(t *testing.T) {
	before := testutil.ToFloat64(MessagesSent.WithLabelValues("PING"))
	MessagesSent.WithLabelValues("PING").Inc()
	MessagesSent.WithLabelValues("PING").Inc()

	assert.Equal(t, before+2, testutil.ToFloat64(MessagesSent.WithLabelValues("PING")))
}

func TestMetricsHandler_ServesRegistry(t *testing.T) {
	Refutations.Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "swim_refutations_total"))
	assert.True(t, strings.Contains(string(body), "swim_uptime_seconds"))
}
