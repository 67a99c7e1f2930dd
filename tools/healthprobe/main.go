// Command healthprobe checks the booking service's gRPC health endpoint and
// exits non-zero unless it reports SERVING.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/md-rashed-zaman/slotledger/libs/config"
	"github.com/md-rashed-zaman/slotledger/libs/grpcx"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	var (
		addr    = flag.String("addr", config.String("GRPC_ADDR", "localhost:9095"), "grpc address")
		service = flag.String("service", "", "service name; empty checks the overall status")
		timeout = flag.Duration("timeout", 3*time.Second, "dial and check timeout")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := grpcx.Dial(*addr, grpcx.DialOptions{WaitForReady: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(2)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: *service})
	if err != nil {
		fmt.Fprintln(os.Stderr, "check:", err)
		os.Exit(2)
	}
	fmt.Println(resp.GetStatus().String())
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}

