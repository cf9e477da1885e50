// Package grpc provides the gRPC server implementation for the coordinator
// (C5), exposing every operation in spec.md section 6 through the
// hand-authored service in internal/rpc.
package grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/leoscope/leoscope/internal/auth"
	"github.com/leoscope/leoscope/internal/rpc"
	"github.com/leoscope/leoscope/internal/store"
	"github.com/leoscope/leoscope/internal/trigger"
)

// contextKey is a type for context keys used in this package.
type contextKey string

const (
	callerIDKey   contextKey = "caller_id"
	callerRoleKey contextKey = "caller_role"
)

// Config holds the gRPC server configuration.
type Config struct {
	Port                 int
	TLSCertFile          string
	TLSKeyFile           string
	MaxConcurrentStreams uint32
	KeepaliveTime        time.Duration
	KeepaliveTimeout     time.Duration
	MaxRecvMsgSize       int
	RescheduleStep       time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:                 9090,
		MaxConcurrentStreams: 1000,
		KeepaliveTime:        30 * time.Second,
		KeepaliveTimeout:     10 * time.Second,
		MaxRecvMsgSize:       16 * 1024 * 1024,
		RescheduleStep:       time.Minute,
	}
}

// Server implements the coordinator's gRPC service.
type Server struct {
	config      *Config
	store       store.Store
	authService *auth.Service
	rbac        *auth.RBACService
	logger      *slog.Logger

	grpcServer *grpc.Server

	serving atomic.Bool
	mu      sync.RWMutex
}

var _ rpc.CoordinatorServer = (*Server)(nil)

// NewServer creates a new gRPC server instance.
func NewServer(cfg *Config, st store.Store, authSvc *auth.Service, rbac *auth.RBACService, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		config:      cfg,
		store:       st,
		authService: authSvc,
		rbac:        rbac,
		logger:      logger,
	}, nil
}

// buildServerOptions constructs the gRPC server options.
func (s *Server) buildServerOptions() ([]grpc.ServerOption, error) {
	opts := []grpc.ServerOption{
		grpc.MaxConcurrentStreams(s.config.MaxConcurrentStreams),
		grpc.MaxRecvMsgSize(s.config.MaxRecvMsgSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    s.config.KeepaliveTime,
			Timeout: s.config.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			s.loggingInterceptor(),
			s.authInterceptor(),
		),
	}

	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS credentials: %w", err)
		}
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	return opts, nil
}

// Start starts the gRPC server, listening until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	opts, err := s.buildServerOptions()
	if err != nil {
		return fmt.Errorf("building server options: %w", err)
	}

	s.grpcServer = grpc.NewServer(opts...)
	rpc.RegisterCoordinatorServer(s.grpcServer, s)

	addr := fmt.Sprintf(":%d", s.config.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.serving.Store(true)
	s.logger.Info("gRPC server starting", "address", addr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("serving gRPC: %w", err)
	}
	return nil
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop(ctx context.Context) error {
	s.serving.Store(false)
	s.logger.Info("gRPC server stopping")

	if s.grpcServer == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gRPC server stopped gracefully")
	case <-time.After(30 * time.Second):
		s.logger.Warn("gRPC server graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	case <-ctx.Done():
		s.logger.Warn("context cancelled, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}

// IsServing returns whether the server is currently serving requests.
func (s *Server) IsServing() bool {
	return s.serving.Load()
}

// extractToken extracts the auth token from gRPC metadata.
func extractToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	tokens := md.Get("authorization")
	if len(tokens) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing authorization header")
	}
	return auth.ExtractBearerToken(tokens[0]), nil
}

// callerFromContext returns the authenticated caller's user id and role,
// set by authInterceptor.
func callerFromContext(ctx context.Context) (string, string, bool) {
	id, ok := ctx.Value(callerIDKey).(string)
	if !ok {
		return "", "", false
	}
	role, _ := ctx.Value(callerRoleKey).(string)
	return id, role, true
}

// verifyTrigger parses expr and reports a syntax error without evaluating
// it, matching verify_trigger's contract in spec.md section 4.2: parsing
// happens at admission time, evaluation happens just-in-time on the node.
func verifyTrigger(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := trigger.Parse(expr)
	return err
}
