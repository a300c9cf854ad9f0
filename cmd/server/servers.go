package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/erain9/exchango/pkg/core"
	"github.com/erain9/exchango/pkg/exchange"
	"github.com/erain9/exchango/pkg/logging"
	"github.com/erain9/exchango/pkg/otel"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// healthService is the gRPC health service name of the exchange run
const healthService = "exchango.Exchange"

// newGRPCServer builds the health-only gRPC server
func newGRPCServer() (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otel.NewGRPCStatsHandler()),
		grpc.ChainUnaryInterceptor(logging.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(logging.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// Enable reflection for tools like grpcurl
	reflection.Register(grpcServer)
	return grpcServer, healthServer
}

// setupGRPCServer initializes and starts a gRPC server
func setupGRPCServer(ctx context.Context, addr string) (*grpc.Server, *health.Server, error) {
	logger := zerolog.Ctx(ctx)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen: %w", err)
	}

	grpcServer, healthServer := newGRPCServer()
	go func() {
		logger.Info().Str("addr", addr).Msg("Starting gRPC server")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("Failed to serve gRPC")
		}
	}()
	return grpcServer, healthServer, nil
}

// markFinished reports the run as no longer accepting events
func markFinished(h *health.Server) {
	h.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
}

type statusResponse struct {
	RunID string `json:"runId"`
	State string `json:"state"`
}

// newHTTPHandler serves the run state and, once available, the result
func newHTTPHandler(ctx context.Context, ex *exchange.Exchange) http.Handler {
	logger := zerolog.Ctx(ctx)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{RunID: ex.RunID(), State: ex.State().String()})
	})

	mux.HandleFunc("GET /result", func(w http.ResponseWriter, r *http.Request) {
		result, err := ex.Result()
		if errors.Is(err, exchange.ErrResultNotReady) {
			writeJSON(w, http.StatusServiceUnavailable, statusResponse{RunID: ex.RunID(), State: ex.State().String()})
			return
		}
		logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Serving result")
		writeJSON(w, http.StatusOK, struct {
			RunID string `json:"runId"`
			*core.Result
		}{RunID: ex.RunID(), Result: result})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// setupHTTPServer initializes and starts an HTTP server
func setupHTTPServer(ctx context.Context, addr string, ex *exchange.Exchange) *http.Server {
	logger := zerolog.Ctx(ctx)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: newHTTPHandler(ctx, ex),
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Failed to serve HTTP")
		}
	}()
	return httpServer
}
