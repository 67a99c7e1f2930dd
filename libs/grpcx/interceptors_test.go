package grpcx

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/md-rashed-zaman/slotledger/libs/httpx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestServerInterceptorReadsIncomingRequestID(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-9"))
	var seen string
	_, err := UnaryServerRequestIDInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"},
		func(ctx context.Context, _ any) (any, error) {
			seen = httpx.RequestIDFromContext(ctx)
			return nil, nil
		})
	if err != nil {
		t.Fatalf("interceptor failed: %v", err)
	}
	if seen != "req-9" {
		t.Fatalf("expected req-9, got %q", seen)
	}
}

func TestServerInterceptorGeneratesRequestID(t *testing.T) {
	var seen string
	_, _ = UnaryServerRequestIDInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{},
		func(ctx context.Context, _ any) (any, error) {
			seen = httpx.RequestIDFromContext(ctx)
			return nil, nil
		})
	if len(seen) != 32 {
		t.Fatalf("expected generated 32-char id, got %q", seen)
	}
}

func TestClientInterceptorPropagatesRequestID(t *testing.T) {
	ctx := httpx.ContextWithRequestID(context.Background(), "req-42")
	var outgoing string
	err := UnaryClientRequestIDInterceptor()(ctx, "/x", nil, nil, nil,
		func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
			md, _ := metadata.FromOutgoingContext(ctx)
			if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
				outgoing = vals[0]
			}
			return nil
		})
	if err != nil {
		t.Fatalf("interceptor failed: %v", err)
	}
	if outgoing != "req-42" {
		t.Fatalf("expected req-42 in outgoing metadata, got %q", outgoing)
	}
}

func TestLogInterceptorLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log := UnaryServerLogInterceptor(logger)

	_, _ = log(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"},
		func(context.Context, any) (any, error) { return nil, nil })
	if buf.Len() != 0 {
		t.Fatalf("health checks must log below info, got %q", buf.String())
	}

	_, err := log(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/slotledger.booking.v1/Probe"},
		func(context.Context, any) (any, error) { return nil, status.Error(codes.Unavailable, "store down") })
	if status.Code(err) != codes.Unavailable || !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "code=Unavailable") {
		t.Fatalf("expected a warn line with the status code, got %q", buf.String())
	}
}
