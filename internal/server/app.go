// Package server initializes and runs the session server: it opens the
// database, applies migrations, builds the services and serves gRPC until
// a shutdown signal arrives.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"

	gs "github.com/dmitrijs2005/sessionkeeper/internal/server/grpc"
)

type App struct {
	config       *config.Config
	logger       logging.Logger
	repomanager  repomanager.RepositoryManager
	userService  *services.UserService
	tokenService *services.TokenService
	gate         *services.AuthenticationGate
}

// NewApp validates c, connects to the database and runs migrations.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := rm.RunMigrations(ctx); err != nil {
		_ = rm.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	return newApp(c, logger, rm), nil
}

// newApp builds the service graph on top of an opened repository manager.
func newApp(c *config.Config, logger logging.Logger, rm repomanager.RepositoryManager) *App {
	codec := auth.NewCodec([]byte(c.SecretKey), c.Issuer, c.AccessTokenTTL, nil)
	ts := services.NewTokenService(rm, codec, c, logger)
	us := services.NewUserService(rm, ts, logger)

	return &App{
		config:       c,
		logger:       logger,
		repomanager:  rm,
		userService:  us,
		tokenService: ts,
		gate:         services.NewAuthenticationGate(codec, us),
	}
}

func (app *App) initSignalHandler(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
}

// Run serves until a signal arrives or the server fails, then closes the
// database.
func (app *App) Run(ctx context.Context) error {

	ctx, cancel := app.initSignalHandler(ctx)
	defer cancel()

	app.logger.Info(ctx, "Starting app...")

	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.userService, app.tokenService, app.gate, app.config.ShutdownTimeout)
	runErr := s.Run(ctx)
	if runErr != nil {
		app.logger.Error(ctx, "gRPC server failed", "error", runErr)
	}

	if err := app.repomanager.Close(); err != nil {
		app.logger.Error(ctx, "closing database", "error", err)
	}

	app.logger.Info(ctx, "App stopped")
	return runErr
}
