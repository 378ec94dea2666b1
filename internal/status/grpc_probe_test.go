package status

import (
	"context"
	"net"
	"testing"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/miradorstack/hostwatch/internal/models"
)

type staticEvaluator struct {
	states    map[string]models.RunState
	restarted []string
}

func (s *staticEvaluator) Evaluate(_ context.Context, names []string) []models.ServiceObservation {
	out := make([]models.ServiceObservation, 0, len(names))
	for _, name := range names {
		out = append(out, models.ServiceObservation{Name: name, State: s.states[name], Detail: "active/running"})
	}
	return out
}

func (s *staticEvaluator) Restart(_ context.Context, name string) error {
	s.restarted = append(s.restarted, name)
	return nil
}

func startHealthServer(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", status)
	healthpb.RegisterHealthServer(srv, healthSrv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestGRPCHealthProbe(t *testing.T) {
	serving := startHealthServer(t, healthpb.HealthCheckResponse_SERVING)
	notServing := startHealthServer(t, healthpb.HealthCheckResponse_NOT_SERVING)

	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.Addr().String()
	dead.Close()

	next := &staticEvaluator{states: map[string]models.RunState{
		"api":     models.StateRunning,
		"worker":  models.StateRunning,
		"gateway": models.StateRunning,
		"batch":   models.StateStopped,
		"nginx":   models.StateRunning,
	}}

	clientMetrics := grpc_prometheus.NewClientMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(clientMetrics))

	probe := NewGRPCHealthProbe(next, nil, map[string]string{
		"api":     serving,
		"worker":  notServing,
		"gateway": deadAddr,
		"batch":   serving,
	}, 2*time.Second, clientMetrics)

	obs := probe.Evaluate(context.Background(), []string{"api", "worker", "gateway", "batch", "nginx"})
	require.Len(t, obs, 5)

	assert.Equal(t, models.StateRunning, obs[0].State)
	assert.Equal(t, models.StateStopped, obs[1].State)
	assert.Contains(t, obs[1].Detail, "NOT_SERVING")
	assert.Equal(t, models.StateUnknown, obs[2].State)
	assert.ErrorIs(t, obs[2].Err, ErrTransientQuery)
	assert.Equal(t, models.StateStopped, obs[3].State, "stopped units are not probed")
	assert.Equal(t, models.StateRunning, obs[4].State)

	families, err := reg.Gather()
	require.NoError(t, err)
	var sawStarted bool
	for _, mf := range families {
		if mf.GetName() == "grpc_client_started_total" {
			sawStarted = true
		}
	}
	assert.True(t, sawStarted, "client interceptor should record started RPCs")

	require.NoError(t, probe.Restart(context.Background(), "api"))
	assert.Equal(t, []string{"api"}, next.restarted)
}
