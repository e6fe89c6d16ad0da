package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsRecordingIsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordProviderCall("openai", "llm", 10*time.Millisecond)
	m.RecordProviderRotation("openai", "anthropic")
	m.RecordCommandDispatch("echo", time.Millisecond, "")
	m.RecordChainStep("greet", "prompt", time.Millisecond)
	m.RecordChainRun("greet", "done")
	m.RecordHTTPRequest("POST", "/v1/chat/completions", 200, time.Millisecond)
}

func TestMetricsHandlerExposesRecordedSeries(t *testing.T) {
	m := NewMetrics()
	m.RecordProviderCall("openai", "llm", 10*time.Millisecond)
	m.RecordHTTPRequest("POST", "/v1/chat/completions", 200, 5*time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "conduit_provider_calls_total")
	require.Contains(t, body, "conduit_http_requests_total")
}

func TestStatusClass(t *testing.T) {
	require.Equal(t, "2xx", statusClass(200))
	require.Equal(t, "4xx", statusClass(404))
	require.Equal(t, "5xx", statusClass(503))
	require.Equal(t, "unknown", statusClass(0))
}
