// Package server wires the upload orchestrator to its registry backend,
// object store, notifier and gRPC transport, and runs it until a shutdown
// signal arrives.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/config"
	"github.com/dmitrijs2005/gophdrop/internal/server/notify"
	"github.com/dmitrijs2005/gophdrop/internal/server/registry"
	"github.com/dmitrijs2005/gophdrop/internal/server/storage"
	"github.com/dmitrijs2005/gophdrop/internal/server/uploads"

	gs "github.com/dmitrijs2005/gophdrop/internal/server/grpc"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	uploads *uploads.Service
	closers []func() error
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(c.LogLevel, c.LogFormat, os.Stdout)
	app := &App{config: c, logger: logger}

	reg, err := app.newRegistry(ctx)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("registry init error: %w", err)
	}

	gw, err := storage.NewFromConfig(ctx, c, logger.With("module", "storage"))
	if err != nil {
		app.close()
		return nil, fmt.Errorf("object store init error: %w", err)
	}

	notifier, err := app.newNotifier(ctx)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("notifier init error: %w", err)
	}

	app.uploads = uploads.NewService(reg, gw, notifier, uploads.Options{
		KeyPrefix:      c.S3KeyPrefix,
		SessionTTL:     c.SessionTTL,
		DownloadURLTTL: c.DownloadURLTTL,
		StaleUploadAge: c.StaleUploadAge,
		ClaimBatchSize: c.ReaperBatchSize,
	}, logger.With("module", "uploads"))

	return app, nil
}

func (app *App) newRegistry(ctx context.Context) (registry.Registry, error) {
	c := app.config

	switch c.Registry {
	case config.RegistryMemory, "":
		return registry.NewMemoryRegistry(), nil

	case config.RegistryPostgres:
		db, err := registry.OpenPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, db.Close)

		r := registry.NewPostgresRegistry(db)
		if err := r.RunMigrations(ctx); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return r, nil

	case config.RegistryRedis:
		client, err := registry.NewRedisClient(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		return registry.NewRedisRegistry(client), nil

	default:
		return nil, fmt.Errorf("unknown registry backend %q", c.Registry)
	}
}

func (app *App) newNotifier(ctx context.Context) (notify.Notifier, error) {
	if app.config.NotifyQueueURL == "" {
		return notify.Nop{}, nil
	}

	awsCfg, err := storage.LoadAWSConfig(ctx, app.config)
	if err != nil {
		return nil, err
	}
	return notify.NewSQSNotifier(notify.NewSQSClient(awsCfg), app.config.NotifyQueueURL), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.uploads, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "registry", app.config.Registry, "bucket", app.config.S3Bucket)

	app.initSignalHandler(cancelFunc)

	reaper := uploads.NewReaper(ctx, app.uploads, app.config.ReaperInterval, app.config.JanitorEvery)
	reaper.Start()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := reaper.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn(shutdownCtx, "reaper shutdown", "error", err)
	}

	app.close()
	app.logger.Info(shutdownCtx, "Stopped", "stats", app.uploads.Stats())
}

func (app *App) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Warn(context.Background(), "close", "error", err)
		}
	}
	app.closers = nil
}
