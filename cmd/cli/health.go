package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"arduinohub/internal/grpcserver"
)

// handleHealth asks the gRPC health service about the overall status and
// each upstream. It exits non-zero unless everything is SERVING.
func handleHealth(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", envOr("ARDUINOHUB_GRPC", "127.0.0.1:9090"), "gRPC health address")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	_ = fs.Parse(args)

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	healthy := true
	for _, svc := range []string{"", grpcserver.ServiceDetect, grpcserver.ServiceGenerate} {
		cctx, cancel := context.WithTimeout(ctx, *timeout)
		resp, err := client.Check(cctx, &healthpb.HealthCheckRequest{Service: svc})
		cancel()

		name := svc
		if name == "" {
			name = "overall"
		}
		if err != nil {
			fmt.Printf("%-9s error: %v\n", name, err)
			healthy = false
			continue
		}
		fmt.Printf("%-9s %s\n", name, resp.GetStatus())
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			healthy = false
		}
	}
	if !healthy {
		os.Exit(1)
	}
}
