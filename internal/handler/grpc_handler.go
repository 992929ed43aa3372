package handler

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-proc-requisitions/internal/logger"
)

// PingFunc reports whether a dependency is reachable.
type PingFunc func(ctx context.Context) error

// GRPCHandler owns the gRPC server: the standard health service, backed by a
// store ping, and reflection for debugging.
type GRPCHandler struct {
	server      *grpc.Server
	health      *health.Server
	serviceName string
	ping        PingFunc
	log         *logger.Logger
}

// NewGRPCHandler creates a gRPC server reporting health for serviceName.
func NewGRPCHandler(serviceName string, ping PingFunc, log *logger.Logger) *GRPCHandler {
	log = log.Component("grpc")
	h := &GRPCHandler{
		server:      grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(log))),
		health:      health.NewServer(),
		serviceName: serviceName,
		ping:        ping,
		log:         log,
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	reflection.Register(h.server)
	h.setStatus(healthpb.HealthCheckResponse_SERVING)
	return h
}

// Server returns the underlying gRPC server.
func (h *GRPCHandler) Server() *grpc.Server { return h.server }

// Check pings the store once and updates the health status.
func (h *GRPCHandler) Check(ctx context.Context) {
	if h.ping == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Health check failed")
		h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.setStatus(healthpb.HealthCheckResponse_SERVING)
}

// Watch runs Check every interval until ctx is done.
func (h *GRPCHandler) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING to clients and drains in-flight calls.
func (h *GRPCHandler) Shutdown() {
	h.health.Shutdown()
	h.server.GracefulStop()
}

func (h *GRPCHandler) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	if h.serviceName != "" {
		h.health.SetServingStatus(h.serviceName, status)
	}
}

func loggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		event := log.Debug()
		if err != nil {
			event = log.Warn().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}
