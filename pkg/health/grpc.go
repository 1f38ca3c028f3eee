package health

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCChecker queries the standard gRPC health service
type GRPCChecker struct {
	// Address is the gRPC target (e.g., "localhost:9090")
	Address string

	// Service is the health service name; empty checks the whole server
	Service string

	// Timeout bounds one Check call (default: 5 seconds)
	Timeout time.Duration
}

// NewGRPCChecker creates a new gRPC health checker
func NewGRPCChecker(address, service string) *GRPCChecker {
	return &GRPCChecker{
		Address: address,
		Service: service,
		Timeout: 5 * time.Second,
	}
}

// Check performs the gRPC health check. Unknown services and servers
// without the health service are permanent failures.
func (g *GRPCChecker) Check(ctx context.Context) Result {
	start := time.Now()

	conn, err := grpc.NewClient(g.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return unhealthy(start, true, "invalid target: %v", err)
	}
	defer conn.Close()

	checkCtx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: g.Service})
	if err != nil {
		switch status.Code(err) {
		case codes.NotFound, codes.Unimplemented:
			return unhealthy(start, true, "health check rejected: %v", err)
		default:
			return unhealthy(start, false, "health check failed: %v", err)
		}
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return unhealthy(start, false, "status %s", resp.GetStatus())
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("gRPC %s serving", g.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (g *GRPCChecker) Type() CheckType {
	return CheckTypeGRPC
}

// WithTimeout sets the per-check timeout
func (g *GRPCChecker) WithTimeout(timeout time.Duration) *GRPCChecker {
	g.Timeout = timeout
	return g
}
