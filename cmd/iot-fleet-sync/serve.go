package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/fleetsync"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/notifications"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/scheduler"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/cache"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/fleetsource"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/router"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-fleet-sync/internal/pkg/presentation/api"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(ctx context.Context, flags flagMap) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the control api",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(ctx, flags)
		},
	}

	cmd.Flags().String("config", "", "path to the yaml configuration file")
	cmd.Flags().String("listen", "", "address to listen on")
	cmd.Flags().String("port", "", "port to listen on")

	return cmd
}

func runServe(ctx context.Context, flags flagMap) error {
	serviceVersion := version()

	ctx, logger := logging.NewLogger(ctx, serviceName, serviceVersion, flags[logLevel])
	logger.Info().Msg("starting up ...")

	cleanup, err := tracing.Init(ctx, logger, serviceName, serviceVersion)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer cleanup()

	cfgFile, err := os.Open(flags[configurationFile])
	if err != nil {
		return fmt.Errorf("could not open configuration file: %w", err)
	}

	cfg, err := loadConfiguration(cfgFile, flags)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}

	db, err := newDatabase(ctx, flags)
	if err != nil {
		return fmt.Errorf("could not connect to database: %w", err)
	}

	app, err := initialize(ctx, db, fleetsource.NewHTTPSource(cfg.Source), cfg)
	if err != nil {
		return err
	}

	r := api.RegisterHandlers(ctx, router.New(serviceName), app.scheduler, app.service, flags[jwtSecret])

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.service.Login(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial login failed, jobs will retry")
	}

	app.scheduler.Start(ctx)

	return serve(ctx, logger, net.JoinHostPort(flags[listenAddress], flags[servicePort]), r, app.scheduler)
}

// loadConfiguration reads the configuration file and applies the credentials
// and cache address given in the environment.
func loadConfiguration(cfgFile io.ReadCloser, flags flagMap) (*fleetsync.Config, error) {
	defer cfgFile.Close()

	cfg, err := fleetsync.LoadConfiguration(cfgFile)
	if err != nil {
		return nil, err
	}

	if flags[fleetUsername] != "" {
		cfg.Credentials.Username = flags[fleetUsername]
	}
	if flags[fleetPassword] != "" {
		cfg.Credentials.Password = flags[fleetPassword]
	}
	if flags[redisAddr] != "" {
		cfg.Cache.RedisAddr = flags[redisAddr]
	}

	return cfg, nil
}

func newDatabase(ctx context.Context, flags flagMap) (*gorm.DB, error) {
	if flags[dbHost] == "" {
		log := logging.GetLoggerFromContext(ctx)
		log.Warn().Msg("no database host configured, using an in-memory database")
		return database.NewSQLiteConnector(ctx)()
	}

	return database.NewPostgreSQLConnector(ctx, database.ConnectorConfig{
		Host:     flags[dbHost],
		Port:     flags[dbPort],
		Username: flags[dbUser],
		DbName:   flags[dbName],
		Password: flags[dbPassword],
		SslMode:  flags[dbSSLMode],
	})()
}

type application struct {
	scheduler *scheduler.Scheduler
	service   *fleetsync.Service
}

func initialize(ctx context.Context, db *gorm.DB, source fleetsource.FleetSource, cfg *fleetsync.Config) (*application, error) {
	log := logging.GetLoggerFromContext(ctx)

	store, err := database.NewUpsertStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create upsert store: %w", err)
	}

	history, err := database.NewHistoryRepository(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification history: %w", err)
	}

	jobs, err := database.NewJobStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create job store: %w", err)
	}

	c, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	channels, err := notifications.NewChannels(ctx, cfg.Notifications)
	if err != nil {
		return nil, err
	}

	dispatcher, err := notifications.NewDispatcher(history, channels, cfg.Notifications)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification dispatcher: %w", err)
	}

	log.Info().Strs("channels", dispatcher.Channels()).Msg("notification channels configured")

	svc := fleetsync.New(source, store, dispatcher, c, *cfg)

	targets := scheduler.NewTargets()
	svc.RegisterTargets(targets)
	log.Debug().Strs("targets", targets.Names()).Msg("job targets registered")

	sched := scheduler.New(targets, cfg.Scheduler,
		scheduler.WithStore(jobs),
		scheduler.WithLogger(log.With().Str("component", "scheduler").Logger()),
	)

	err = fleetsync.Bootstrap(ctx, sched, cfg.Jobs)
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap jobs: %w", err)
	}

	return &application{scheduler: sched, service: svc}, nil
}

func serve(ctx context.Context, logger zerolog.Logger, addr string, r *chi.Mux, sched *scheduler.Scheduler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)

	go func() {
		logger.Info().Str("address", addr).Msg("starting to listen for connections")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	var err error

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err = <-errs:
		logger.Error().Err(err).Msg("failed to start request router")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if e := srv.Shutdown(shutdownCtx); e != nil {
		logger.Error().Err(e).Msg("failed to shut down http server")
	}

	if e := sched.Stop(shutdownCtx); e != nil {
		logger.Error().Err(e).Msg("failed to stop scheduler")
	}

	return err
}
