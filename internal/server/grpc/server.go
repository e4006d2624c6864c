// Package grpc exposes the session protocol over gRPC: handlers, the bearer
// authentication interceptor and the server lifecycle.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	pb "github.com/dmitrijs2005/sessionkeeper/internal/proto"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"google.golang.org/grpc"
)

// UserService is the account side used by the handlers.
type UserService interface {
	Register(ctx context.Context, userName, password string) (*models.User, error)
	Login(ctx context.Context, userName, password string) (*services.TokenPair, error)
	ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error
}

// TokenService is the refresh token side used by the handlers.
type TokenService interface {
	Refresh(ctx context.Context, rawRefreshToken string) (*services.TokenPair, error)
	Revoke(ctx context.Context, rawRefreshToken string) error
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	Sessions(ctx context.Context, userID int64) ([]*models.RefreshToken, error)
}

// Authenticator resolves an authorization header to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (int64, error)
}

type GRPCServer struct {
	address         string
	users           UserService
	tokens          TokenService
	gate            Authenticator
	logger          logging.Logger
	shutdownTimeout time.Duration
}

func NewGRPCServer(a string, l logging.Logger, us UserService, ts TokenService, gate Authenticator, shutdownTimeout time.Duration) *GRPCServer {
	return &GRPCServer{
		address:         a,
		logger:          l.With("module", "grpc_server"),
		users:           us,
		tokens:          ts,
		gate:            gate,
		shutdownTimeout: shutdownTimeout,
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	pb.RegisterSessionServiceServer(srv, s)
	return srv
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())
	return s.serve(ctx, listen)
}

func (s *GRPCServer) serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.stop(srv)
	}()

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}
	<-stopped
	return nil
}

// stop drains in-flight calls, forcing the stop once shutdownTimeout passes.
func (s *GRPCServer) stop(srv *grpc.Server) {
	if s.shutdownTimeout <= 0 {
		srv.GracefulStop()
		return
	}

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn(context.Background(), "graceful stop timed out, forcing")
		srv.Stop()
	}
}
