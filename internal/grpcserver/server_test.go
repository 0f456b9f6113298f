package grpcserver

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func status(t *testing.T, m *Monitor, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := m.Health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestCheckOnce(t *testing.T) {
	var detectDown atomic.Bool
	m := NewMonitor(map[string]Checker{
		ServiceDetect: CheckFunc(func(context.Context) error {
			if detectDown.Load() {
				return errors.New("connection refused")
			}
			return nil
		}),
		ServiceGenerate: CheckFunc(func(context.Context) error { return nil }),
	})

	if got := status(t, m, ServiceDetect); got != healthpb.HealthCheckResponse_UNKNOWN {
		t.Errorf("before first check: %v", got)
	}

	m.CheckOnce(context.Background())
	if got := status(t, m, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall: %v", got)
	}

	detectDown.Store(true)
	m.CheckOnce(context.Background())
	if got := status(t, m, ServiceDetect); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("detect: %v", got)
	}
	if got := status(t, m, ServiceGenerate); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("generate: %v", got)
	}
	if got := status(t, m, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("overall: %v", got)
	}
	if errs := m.Errors(); errs[ServiceDetect] != "connection refused" || len(errs) != 1 {
		t.Errorf("errors: %v", errs)
	}
}

func TestCheckerTimeout(t *testing.T) {
	m := NewMonitor(map[string]Checker{
		ServiceGenerate: CheckFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	})
	m.Timeout = 10 * time.Millisecond

	m.CheckOnce(context.Background())
	if got := status(t, m, ServiceGenerate); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("got %v", got)
	}
}

func TestHealthOverGRPC(t *testing.T) {
	m := NewMonitor(map[string]Checker{
		ServiceDetect: CheckFunc(func(context.Context) error { return nil }),
	})
	m.CheckOnce(context.Background())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger))
	m.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceDetect})
	if err != nil {
		t.Fatal(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("got %v", resp.GetStatus())
	}
}

func TestRunShutsDown(t *testing.T) {
	m := NewMonitor(map[string]Checker{
		ServiceDetect: CheckFunc(func(context.Context) error { return nil }),
	})
	m.Interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	if got := status(t, m, ServiceDetect); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after shutdown: %v", got)
	}
}
