// Package app wires the FoodAI agent together: local storage, the record
// service, the sync processor with its remote reconciler, the connectivity
// watcher and the interactive shell.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/shilei2024/foodai/internal/client/cli"
	"github.com/shilei2024/foodai/internal/client/config"
	"github.com/shilei2024/foodai/internal/client/connectivity"
	"github.com/shilei2024/foodai/internal/client/kv"
	"github.com/shilei2024/foodai/internal/client/models"
	"github.com/shilei2024/foodai/internal/client/outbox"
	"github.com/shilei2024/foodai/internal/client/provider"
	"github.com/shilei2024/foodai/internal/client/reconciler"
	"github.com/shilei2024/foodai/internal/client/records"
	"github.com/shilei2024/foodai/internal/client/resultcache"
	"github.com/shilei2024/foodai/internal/client/services"
	"github.com/shilei2024/foodai/internal/client/syncer"
	"github.com/shilei2024/foodai/internal/client/tokencache"
	"github.com/shilei2024/foodai/internal/logging"
)

// KV keys of the persisted token slots.
const (
	reconcilerTokenKey = "foodai.token.reconciler"
	providerTokenKey   = "foodai.token.provider"
)

// Remote is a reconciler that can also be probed for reachability.
type Remote interface {
	reconciler.Reconciler
	connectivity.Pinger
}

type Option func(*options)

type options struct {
	in     io.Reader
	out    io.Writer
	logOut io.Writer
	remote Remote
}

// WithIO replaces stdin and stdout for the shell and stderr for logs.
func WithIO(in io.Reader, out, logOut io.Writer) Option {
	return func(o *options) {
		o.in, o.out, o.logOut = in, out, logOut
	}
}

// WithRemote uses r instead of building the reconciler named in the config.
func WithRemote(r Remote) Option {
	return func(o *options) { o.remote = r }
}

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	service   services.RecordService
	processor *syncer.Processor
	watcher   *connectivity.Watcher
	shell     *cli.Shell
	closers   []func() error
}

func NewApp(ctx context.Context, c *config.Config, opts ...Option) (*App, error) {
	o := options{in: os.Stdin, out: os.Stdout, logOut: os.Stderr}
	for _, fn := range opts {
		fn(&o)
	}

	logger := logging.New(c.LogLevel, c.LogFormat, o.logOut)
	app := &App{config: c, logger: logger}

	dbPath, err := c.DBPath()
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	app.db, err = kv.OpenSQLite(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.closers = append(app.closers, app.db.Close)
	store := kv.NewSQLiteStore(app.db, nil)

	recordStore := records.New(store, records.Options{
		MaxRecords: c.MaxRecords,
		RemoteSync: c.SyncEnabled(),
		Logger:     logger,
	})

	recognizer := app.buildRecognizer(store)

	svcOpts := services.RecordServiceOptions{
		Collection: c.Collection,
		Recognizer: recognizer,
		Logger:     logger,
	}

	if c.SyncEnabled() {
		remote := o.remote
		if remote == nil {
			if remote, err = app.buildRemote(ctx, store); err != nil {
				_ = app.Close()
				return nil, err
			}
		}

		queue := outbox.New(store, outbox.Options{MaxItems: c.MaxQueueItems, Logger: logger})
		app.watcher = connectivity.New(remote, connectivity.Options{
			Interval: c.OnlineCheckInterval,
			Logger:   logger,
		})

		var svc services.RecordService
		app.processor = syncer.New(queue, remote, syncer.Options{
			Interval:     c.SyncInterval,
			MaxRetries:   c.MaxRetries,
			Retention:    c.SyncRetention,
			ApplyTimeout: c.ApplyTimeout,
			Online:       app.watcher.Online,
			OnSynced: func(ctx context.Context, item models.SyncQueueItem) {
				svc.OnSynced(ctx, item)
			},
			OnExhausted: func(ctx context.Context, item models.SyncQueueItem) {
				logger.Warn(ctx, "mutation needs attention, use 'retry' to requeue it",
					"item_id", item.ID, "collection", item.Collection, "last_error", item.LastError)
			},
			Logger: logger,
		})

		svcOpts.Outbox = queue
		svcOpts.Syncer = app.processor
		svc = services.NewRecordService(recordStore, svcOpts)
		app.service = svc
	} else {
		app.service = services.NewRecordService(recordStore, svcOpts)
	}

	shellOpts := cli.Options{In: o.in, Out: o.out}
	if app.watcher != nil {
		shellOpts.Online = app.watcher.Online
	}
	app.shell = cli.NewShell(app.service, shellOpts)

	return app, nil
}

func (app *App) buildRemote(ctx context.Context, store kv.Store) (Remote, error) {
	c := app.config
	switch c.Reconciler {
	case config.ReconcilerGRPC:
		tokens := tokencache.New(tokencache.Options{
			RefreshMargin: c.TokenRefreshMargin,
			SafetyMargin:  c.TokenSafetyMargin,
			Store:         store,
			Key:           reconcilerTokenKey,
			Logger:        app.logger,
		})
		r, err := reconciler.DialGRPC(c.ServerEndpointAddr, reconciler.GRPCOptions{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Tokens:       tokens,
			Logger:       app.logger,
		})
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, r.Close)
		return r, nil

	case config.ReconcilerS3:
		client, err := reconciler.NewS3Client(ctx, reconciler.S3Config{
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Bucket:    c.S3Bucket,
			Prefix:    c.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		return reconciler.NewS3(client, c.S3Bucket, c.S3Prefix, app.logger), nil
	}
	return nil, fmt.Errorf("unknown reconciler %q", c.Reconciler)
}

// buildRecognizer returns nil when no recognition endpoint is configured.
func (app *App) buildRecognizer(store kv.Store) provider.Recognizer {
	c := app.config
	if c.RecognizeURL == "" {
		return nil
	}

	cfg := provider.HTTPRecognizerConfig{Endpoint: c.RecognizeURL, Logger: app.logger}
	if c.ProviderTokenURL != "" {
		cc := provider.NewClientCredentials(provider.ClientCredentialsConfig{
			TokenURL:     c.ProviderTokenURL,
			ClientID:     c.ProviderClientID,
			ClientSecret: c.ProviderClientSecret,
			Scope:        c.ProviderScope,
		})
		cfg.Fetch = cc.FetchToken
		cfg.Tokens = tokencache.New(tokencache.Options{
			RefreshMargin: c.TokenRefreshMargin,
			SafetyMargin:  c.TokenSafetyMargin,
			Store:         store,
			Key:           providerTokenKey,
			Logger:        app.logger,
		})
	}

	cache := resultcache.New[provider.Result](resultcache.Options{
		TTL:        c.ResultCacheTTL,
		MaxEntries: c.ResultCacheSize,
	})
	return provider.NewCachedRecognizer(provider.NewHTTPRecognizer(cfg), cache)
}

// Service exposes the record service, e.g. for embedding without the shell.
func (app *App) Service() services.RecordService {
	return app.service
}

// Run starts the background workers and the shell. It returns when the
// shell exits or ctx is cancelled; the workers are stopped either way.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.logger.Info(ctx, "Starting app...", "reconciler", app.config.Reconciler)

	g, gctx := errgroup.WithContext(ctx)
	if app.watcher != nil {
		restored := app.watcher.Subscribe()
		g.Go(func() error { return app.watcher.Run(gctx) })
		g.Go(func() error { return app.processor.Run(gctx, restored) })
	}

	// the shell blocks on stdin, so it is not part of the group: on
	// cancellation Run returns without waiting for the pending read
	shellDone := make(chan error, 1)
	go func() { shellDone <- app.shell.Run(gctx) }()

	var err error
	select {
	case err = <-shellDone:
	case <-gctx.Done():
	}
	cancel()

	if werr := g.Wait(); err == nil {
		err = werr
	}
	app.logger.Info(context.Background(), "Stopped")
	return err
}

// Close releases the database and remote connections.
func (app *App) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i]())
	}
	app.closers = nil
	return errors.Join(errs...)
}
