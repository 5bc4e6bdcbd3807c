package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DirectoryService is the health service name reporting directory reachability.
const DirectoryService = "officeverse.Directory"

// Admin serves the standard gRPC health protocol for orchestrators. The
// overall status ("") is SERVING while the server runs; DirectoryService
// follows the most recent probe.
type Admin struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewAdmin creates an admin server that will listen on addr.
//
// Precondition: logger must be non-nil.
func NewAdmin(addr string, logger *zap.Logger, opts ...grpc.ServerOption) *Admin {
	a := &Admin{
		addr:   addr,
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		logger: logger.Named("admin"),
	}
	healthpb.RegisterHealthServer(a.grpc, a.health)
	a.health.SetServingStatus(DirectoryService, healthpb.HealthCheckResponse_UNKNOWN)
	return a
}

// Start listens on the configured address and serves until Stop.
func (a *Admin) Start() error {
	lis, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.addr, err)
	}
	return a.Serve(lis)
}

// Serve serves the health protocol on lis until Stop.
func (a *Admin) Serve(lis net.Listener) error {
	a.logger.Info("admin health server listening", zap.String("addr", lis.Addr().String()))
	a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return a.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs.
func (a *Admin) Stop() {
	a.health.Shutdown()
	a.grpc.GracefulStop()
}

// SetServing records the status of a named service.
func (a *Admin) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	a.health.SetServingStatus(service, status)
}

// Probe runs check immediately and then every interval until ctx is done,
// recording the result under service. Each check is bounded by timeout.
//
// Precondition: interval must be positive; check must be non-nil.
// Postcondition: Returns ctx.Err() when ctx is done.
func (a *Admin) Probe(ctx context.Context, service string, interval, timeout time.Duration, check func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := check(checkCtx)
		cancel()
		if err != nil && ctx.Err() == nil {
			if healthy {
				a.logger.Warn("health check failed", zap.String("service", service), zap.Error(err))
			}
			healthy = false
		} else if err == nil {
			if !healthy {
				a.logger.Info("health check recovered", zap.String("service", service))
			}
			healthy = true
		}
		a.SetServing(service, err == nil)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
