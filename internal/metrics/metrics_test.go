package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserversAndTextfileFlush(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	SetServiceUp("nginx-metrics-test", false)
	ObserveEscalation("nginx-metrics-test", "still_down", 2)
	ObserveNotification("critical", OutcomeDelivered)
	SetDiskFree("/metrics-test", 0.42)
	ObserveRun("services", "ok", 1500*time.Millisecond)

	assert.Equal(t, 0.0, testutil.ToFloat64(serviceUp.WithLabelValues("nginx-metrics-test")))
	assert.Equal(t, 2.0, testutil.ToFloat64(failureAttempts.WithLabelValues("nginx-metrics-test")))
	assert.Equal(t, 0.42, testutil.ToFloat64(diskFreeRatio.WithLabelValues("/metrics-test")))

	path := filepath.Join(t.TempDir(), "hostwatch.prom")
	require.NoError(t, Flush(reg, Sink{Textfile: path}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `hostwatch_service_up{service="nginx-metrics-test"} 0`)
	assert.Contains(t, string(data), `hostwatch_runs_total{check="services",result="ok"}`)
}

func TestFlushPushesToGateway(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	ObserveRun("disk", "ok", time.Second)

	require.NoError(t, Flush(reg, Sink{PushgatewayURL: gateway.URL, Job: "hostwatch", Instance: "web-1"}))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(path, "/metrics/job/hostwatch/instance/web-1"), path)
	assert.NotEmpty(t, body)
}

func TestFlushReportsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	err := Flush(reg, Sink{Textfile: filepath.Join(t.TempDir(), "missing", "dir", "x.prom")})
	assert.Error(t, err)
}
