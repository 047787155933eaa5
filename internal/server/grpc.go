package server

import (
	"LendLedger/internal/core"
	"LendLedger/internal/observability"
	"LendLedger/internal/query"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Deps holds everything the API surfaces need.
type Deps struct {
	Engine  *core.Engine
	Query   *query.QueryService
	Tokens  *query.TokenService
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
}

// Server owns the gRPC server (health and reflection) and the HTTP/JSON
// API served from a grpc-gateway mux.
type Server struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	mux        *runtime.ServeMux
	log        zerolog.Logger
}

func New(grpcAddr, httpAddr string, deps Deps) (*Server, error) {
	if deps.Engine == nil || deps.Query == nil || deps.Tokens == nil || deps.Health == nil {
		return nil, errors.New("server: engine, query, tokens and health are required")
	}

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, deps.Health.GRPCServer())
	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	mux, err := newGatewayMux(deps)
	if err != nil {
		return nil, err
	}

	return &Server{
		grpcServer: grpcServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		mux:        mux,
		log:        observability.NewLogger("server"),
	}, nil
}

// Handler returns the HTTP API handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the JSON API until ctx is cancelled.
func (s *Server) StartHTTP(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
