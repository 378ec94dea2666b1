package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/miradorstack/hostwatch/internal/models"
)

// DefaultProbeTimeout bounds a single gRPC health check.
const DefaultProbeTimeout = 5 * time.Second

// GRPCHealthProbe refines an Evaluator: services the init system reports running and
// that have a configured endpoint must also answer SERVING on grpc.health.v1.
type GRPCHealthProbe struct {
	next          Evaluator
	logger        *slog.Logger
	targets       map[string]string
	timeout       time.Duration
	clientMetrics *grpc_prometheus.ClientMetrics
	dialOpts      []grpc.DialOption
}

// NewGRPCHealthProbe wraps next. targets maps service name to host:port. clientMetrics
// may be nil.
func NewGRPCHealthProbe(next Evaluator, logger *slog.Logger, targets map[string]string, timeout time.Duration, clientMetrics *grpc_prometheus.ClientMetrics, dialOpts ...grpc.DialOption) *GRPCHealthProbe {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &GRPCHealthProbe{
		next:          next,
		logger:        logger,
		targets:       targets,
		timeout:       timeout,
		clientMetrics: clientMetrics,
		dialOpts:      dialOpts,
	}
}

// Evaluate implements Evaluator.
func (p *GRPCHealthProbe) Evaluate(ctx context.Context, names []string) []models.ServiceObservation {
	observations := p.next.Evaluate(ctx, names)
	for i, obs := range observations {
		addr, ok := p.targets[obs.Name]
		if !ok || obs.State != models.StateRunning {
			continue
		}
		observations[i] = p.probe(ctx, obs, addr)
	}
	return observations
}

// Restart forwards to the wrapped evaluator when it can restart services.
func (p *GRPCHealthProbe) Restart(ctx context.Context, name string) error {
	r, ok := p.next.(Restarter)
	if !ok {
		return &RestartError{Service: name, Kind: KindCommandFailed, Output: "evaluator cannot restart services"}
	}
	return r.Restart(ctx, name)
}

func (p *GRPCHealthProbe) probe(ctx context.Context, obs models.ServiceObservation, addr string) models.ServiceObservation {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if p.clientMetrics != nil {
		opts = append(opts, grpc.WithUnaryInterceptor(p.clientMetrics.UnaryClientInterceptor()))
	}
	opts = append(opts, p.dialOpts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		obs.State = models.StateUnknown
		obs.Err = fmt.Errorf("%w: %s: dial %s: %w", ErrTransientQuery, obs.Name, addr, err)
		return obs
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		p.logger.Warn("grpc health probe failed", slog.String("service", obs.Name), slog.String("address", addr), slog.Any("error", err))
		obs.State = models.StateUnknown
		obs.Err = fmt.Errorf("%w: %s: health check %s: %w", ErrTransientQuery, obs.Name, addr, err)
		return obs
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		obs.State = models.StateStopped
		obs.Detail = fmt.Sprintf("%s, grpc %s", obs.Detail, resp.GetStatus())
	}
	return obs
}
