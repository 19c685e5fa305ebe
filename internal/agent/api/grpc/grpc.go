package grpcagent

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kennethnrk/edgernetes-inference/internal/agent"
	agentmonitor "github.com/kennethnrk/edgernetes-inference/internal/agent/monitor"
	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
)

// HealthReporter mirrors the agent's model statuses into a gRPC health
// server. Each model is a service named by its identity; the empty service
// is SERVING only when every assigned model is ready.
type HealthReporter struct {
	agent  *agent.Agent
	server *health.Server
}

func NewHealthReporter(a *agent.Agent) *HealthReporter {
	return &HealthReporter{agent: a, server: health.NewServer()}
}

func (h *HealthReporter) Server() *health.Server {
	return h.server
}

// Refresh publishes the current statuses.
func (h *HealthReporter) Refresh() {
	models, healthy := agentmonitor.CheckHealth(h.agent)
	for _, m := range models {
		h.server.SetServingStatus(m.ID, servingStatus(m.Status))
	}
	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if healthy {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", overall)
}

func servingStatus(s constants.ModelStatus) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case constants.ModelStatusReady:
		return healthpb.HealthCheckResponse_SERVING
	case constants.ModelStatusLoading, constants.ModelStatusFailed:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}

// StartGRPCServer serves the health API on addr until ctx is done, refreshing
// statuses every interval.
func StartGRPCServer(ctx context.Context, a *agent.Agent, addr string, interval time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	reporter := NewHealthReporter(a)
	reporter.Refresh()

	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, reporter.Server())

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				reporter.Server().Shutdown()
				s.GracefulStop()
				return
			case <-ticker.C:
				reporter.Refresh()
			}
		}
	}()

	logrus.WithField("addr", lis.Addr().String()).Info("Health gRPC server listening")
	if err := s.Serve(lis); err != nil {
		return fmt.Errorf("gRPC server stopped: %w", err)
	}
	return nil
}
