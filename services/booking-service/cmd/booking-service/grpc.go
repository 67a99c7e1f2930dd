package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/md-rashed-zaman/slotledger/libs/config"
	"github.com/md-rashed-zaman/slotledger/libs/grpcx"
	"github.com/md-rashed-zaman/slotledger/libs/runtime"
	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// healthService is the service name reported alongside the overall status.
const healthService = "slotledger.booking"

// startGrpcServer serves the standard gRPC health protocol. The status
// follows the store's Ping. The returned Closer drains in-flight calls and
// stops the server hard once its deadline passes.
func startGrpcServer(ctx context.Context, logger *slog.Logger, store storage.Store) (runtime.Closer, error) {
	port, err := config.Port("GRPC_PORT", "9095")
	if err != nil {
		return runtime.Closer{}, err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return runtime.Closer{}, err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcx.UnaryServerRequestIDInterceptor(),
			grpcx.UnaryServerLogInterceptor(logger),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go watchStore(ctx, logger, hs, store, config.Seconds("HEALTH_CHECK_SECONDS", 5*time.Second))

	return runtime.Closer{Name: "grpc", Close: func(ctx context.Context) error {
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			srv.Stop()
			return ctx.Err()
		}
	}}, nil
}

func watchStore(ctx context.Context, logger *slog.Logger, hs *health.Server, store storage.Store, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := healthpb.HealthCheckResponse_SERVING
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := store.Ping(pingCtx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if last != status {
				logger.Warn("store health check failed", "err", err)
			}
		}
		cancel()
		if status != last {
			hs.SetServingStatus("", status)
			hs.SetServingStatus(healthService, status)
			last = status
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
