package grpcx

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

type DialOptions struct {
	// Credentials defaults to insecure, for traffic inside the cluster.
	Credentials credentials.TransportCredentials
	// WaitForReady makes calls wait for the connection instead of failing
	// fast; bound them with the call context.
	WaitForReady bool
}

// Dial returns a lazily connecting client with tracing and request id
// propagation installed.
func Dial(addr string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := opts.Credentials
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientRequestIDInterceptor()),
	}
	if opts.WaitForReady {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(grpc.WaitForReady(true)))
	}
	return grpc.NewClient(addr, append(dialOpts, extra...)...)
}
