package grpc

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/shilei2024/foodai/internal/logging"
	pb "github.com/shilei2024/foodai/internal/proto"
)

// Reconciler applies one client mutation.
type Reconciler interface {
	Apply(ctx context.Context, clientID string, m pb.Mutation) (bool, error)
}

// Tokens issues and checks access tokens.
type Tokens interface {
	IssueToken(ctx context.Context, req pb.TokenRequest) (pb.TokenResponse, error)
	Authenticate(ctx context.Context, token string) (string, error)
}

type GRPCServer struct {
	address    string
	reconciler Reconciler
	tokens     Tokens
	health     *health.Server
	logger     logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, rs Reconciler, ts Tokens) *GRPCServer {
	return &GRPCServer{
		address:    a,
		reconciler: rs,
		tokens:     ts,
		health:     health.NewServer(),
		logger:     l.With("module", "grpc_server"),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))

	pb.RegisterReconcilerServer(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(pb.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.address, err)
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops
// gracefully. It owns lis.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Stopping gRPC server...")
			s.health.Shutdown()
			srv.GracefulStop()
		case <-done:
		}
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
