package workerpool

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CheckWorkerHealth dials a remote stage worker (§6: stage 3/4 workers may be
// deployed as separate services, addressed by Stages.*WorkerURL) and asks the
// standard gRPC health-checking protocol whether it's serving. Used by the
// pkg/api /health handler to surface per-stage-worker readiness without
// any custom health RPC of our own.
func CheckWorkerHealth(ctx context.Context, addr string) error {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dialing worker %s: %w", addr, err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	resp, err := client.Check(dialCtx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("checking health of %s: %w", addr, err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("worker %s reports status %s", addr, resp.Status)
	}
	return nil
}
