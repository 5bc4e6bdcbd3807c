package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startAdmin(t *testing.T) (*Admin, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	admin := NewAdmin("bufnet", zaptest.NewLogger(t))
	go func() { _ = admin.Serve(lis) }()
	t.Cleanup(admin.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return admin, healthpb.NewHealthClient(conn)
}

func status(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Logf("health check %q: %v", service, err)
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return resp.GetStatus()
}

func TestAdmin_OverallServing(t *testing.T) {
	_, client := startAdmin(t)
	assert.Eventually(t, func() bool {
		return status(t, client, "") == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, status(t, client, DirectoryService))
}

func TestAdmin_ProbeTracksCheck(t *testing.T) {
	admin, client := startAdmin(t)

	var failing atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = admin.Probe(ctx, DirectoryService, 10*time.Millisecond, time.Second, func(context.Context) error {
			if failing.Load() {
				return errors.New("connection refused")
			}
			return nil
		})
	}()

	assert.Eventually(t, func() bool {
		return status(t, client, DirectoryService) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	failing.Store(true)
	assert.Eventually(t, func() bool {
		return status(t, client, DirectoryService) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAdmin_ProbeReturnsOnCancel(t *testing.T) {
	admin := NewAdmin("unused", zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := admin.Probe(ctx, DirectoryService, time.Hour, time.Second, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
