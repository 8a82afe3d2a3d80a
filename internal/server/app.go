// Package server wires and runs the reference reconciler: PostgreSQL
// storage with goose migrations, token issuing and the gRPC endpoint.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/jonboulle/clockwork"

	"github.com/shilei2024/foodai/internal/logging"
	"github.com/shilei2024/foodai/internal/server/auth"
	"github.com/shilei2024/foodai/internal/server/config"
	"github.com/shilei2024/foodai/internal/server/repositories/repomanager"
	"github.com/shilei2024/foodai/internal/server/services"

	gs "github.com/shilei2024/foodai/internal/server/grpc"
)

// openDB is a seam for tests.
var openDB = repomanager.Open

type Option func(*options)

type options struct {
	db     *sql.DB
	rm     repomanager.RepositoryManager
	logOut io.Writer
	clock  clockwork.Clock
}

// WithDB uses db instead of connecting to the configured DSN.
func WithDB(db *sql.DB) Option {
	return func(o *options) { o.db = db }
}

func WithRepositoryManager(rm repomanager.RepositoryManager) Option {
	return func(o *options) { o.rm = rm }
}

func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOut = w }
}

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *gs.GRPCServer
}

func NewApp(ctx context.Context, c *config.Config, opts ...Option) (*App, error) {
	o := options{logOut: os.Stdout, clock: clockwork.NewRealClock()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.rm == nil {
		o.rm = repomanager.NewPostgresRepositoryManager()
	}

	logger := logging.New(c.LogLevel, c.LogFormat, o.logOut)

	db := o.db
	if db == nil {
		var err error
		if db, err = openDB(ctx, c.DatabaseDSN); err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
	}

	if err := o.rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	issuer := auth.NewIssuer([]byte(c.SecretKey), c.AccessTokenValidityDuration, o.clock)
	rs := services.NewReconcilerService(db, o.rm, o.clock, logger)
	ts := services.NewTokenService(c.ClientID, c.ClientSecret, issuer)

	return &App{
		config: c,
		logger: logger,
		db:     db,
		server: gs.NewGRPCServer(c.EndpointAddrGRPC, logger, rs, ts),
	}, nil
}

// Run serves gRPC until ctx is cancelled.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "Starting app...")

	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, "gRPC server failed", "error", err)
		return err
	}

	app.logger.Info(ctx, "App stopped")
	return nil
}

func (app *App) Close() error {
	return app.db.Close()
}
