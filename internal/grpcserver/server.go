// Package grpcserver exposes backend availability over the standard gRPC
// health protocol. Each upstream (detection, generation) is a named service.
package grpcserver

import (
	"context"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	ServiceDetect   = "detect"
	ServiceGenerate = "generate"
)

// Checker checks one upstream. A nil error means it can take requests.
type Checker interface {
	Check(ctx context.Context) error
}

type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Monitor polls its checkers and mirrors the results into a health server.
// The overall ("") status is SERVING only when every check passes.
type Monitor struct {
	Health   *health.Server
	Interval time.Duration
	Timeout  time.Duration

	checks map[string]Checker

	mu   sync.Mutex
	last map[string]error
}

func NewMonitor(checks map[string]Checker) *Monitor {
	hs := health.NewServer()
	for name := range checks {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_UNKNOWN)
	}
	return &Monitor{
		Health:   hs,
		Interval: 15 * time.Second,
		Timeout:  5 * time.Second,
		checks:   checks,
		last:     make(map[string]error),
	}
}

// Register attaches the health service to s.
func (m *Monitor) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, m.Health)
}

// CheckOnce runs every checker concurrently and updates the statuses.
func (m *Monitor) CheckOnce(ctx context.Context) {
	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(m.checks))
	for name, c := range m.checks {
		go func(name string, c Checker) {
			cctx, cancel := context.WithTimeout(ctx, m.Timeout)
			defer cancel()
			results <- result{name: name, err: c.Check(cctx)}
		}(name, c)
	}

	allOK := true
	for range m.checks {
		r := <-results
		status := healthpb.HealthCheckResponse_SERVING
		if r.err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			allOK = false
		}
		m.record(r.name, r.err)
		m.Health.SetServingStatus(r.name, status)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !allOK {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.Health.SetServingStatus("", overall)
}

// Run polls until ctx is done, then marks everything NOT_SERVING.
func (m *Monitor) Run(ctx context.Context) {
	m.CheckOnce(ctx)
	t := time.NewTicker(m.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Health.Shutdown()
			return
		case <-t.C:
			m.CheckOnce(ctx)
		}
	}
}

// Errors returns the last failure per service; passing services are absent.
func (m *Monitor) Errors() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for name, err := range m.last {
		if err != nil {
			out[name] = err.Error()
		}
	}
	return out
}

func (m *Monitor) record(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, seen := m.last[name]
	m.last[name] = err
	switch {
	case err != nil && (!seen || prev == nil):
		log.Printf("[grpc] %s not serving: %v", name, err)
	case err == nil && seen && prev != nil:
		log.Printf("[grpc] %s serving again", name)
	}
}

// UnaryLogger logs each unary call with its duration and error.
func UnaryLogger(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		log.Printf("[grpc] %s failed after %s: %v", info.FullMethod, time.Since(start), err)
	} else {
		log.Printf("[grpc] %s ok in %s", info.FullMethod, time.Since(start))
	}
	return resp, err
}
