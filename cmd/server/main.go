package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Debunkem/CodeCollab/internal/api"
	"github.com/Debunkem/CodeCollab/internal/auth"
	"github.com/Debunkem/CodeCollab/internal/checkpoint"
	"github.com/Debunkem/CodeCollab/internal/config"
	"github.com/Debunkem/CodeCollab/internal/db"
	"github.com/Debunkem/CodeCollab/internal/executor"
	"github.com/Debunkem/CodeCollab/internal/ratelimit"
	"github.com/Debunkem/CodeCollab/internal/runner"
	"github.com/Debunkem/CodeCollab/internal/session"
	"github.com/Debunkem/CodeCollab/internal/store"
	"github.com/Debunkem/CodeCollab/internal/ws"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("Server exited")
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("codecollab-server", pflag.ContinueOnError)
	envFile := flagSet.String("env-file", ".env", "dotenv file to load before reading the environment")
	port := flagSet.String("port", "", "listen port (overrides PORT)")
	dbPath := flagSet.String("db", "", "sqlite database path (overrides CODECOLLAB_DB_PATH)")
	logLevel := flagSet.String("log-level", "", "log level (overrides LOG_LEVEL)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flagSet.Changed("port") {
		cfg.Port = *port
	}
	if flagSet.Changed("db") {
		cfg.DBPath = *dbPath
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = *logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	cfg.SetupLogging()
	if cfg.UsesDefaultSecret() {
		logrus.Warn("JWT_SECRET is not set, using the development secret")
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer database.Close()

	sessionStore := store.New(
		store.WithPersister(database),
		store.WithBufferSize(cfg.SubscriberBuffer),
	)
	if err := sessionStore.Restore(context.Background()); err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}

	checkpoints := checkpoint.New(sessionStore, database, checkpoint.Config{Interval: cfg.CheckpointInterval})
	checkpoints.Start()
	defer checkpoints.Stop()

	runtimes, err := executor.LoadRuntimes(cfg.RuntimesFile)
	if err != nil {
		return err
	}

	runnerOpts := []runner.Option{
		runner.WithRuntimes(runtimes),
		runner.WithLimits(executor.Limits{Compile: cfg.CompileTimeout, Run: cfg.RunTimeout}),
		runner.WithRequestTimeout(cfg.ExecutorTimeout),
	}
	if cfg.RunsPerMinute > 0 {
		throttle, closeThrottle, err := newThrottle(cfg)
		if err != nil {
			return err
		}
		defer closeThrottle()
		runnerOpts = append(runnerOpts, runner.WithThrottle(throttle))
	}
	coordinator := runner.NewCoordinator(sessionStore, executor.NewClient(cfg.ExecutorURL), runnerOpts...)

	sessions := session.NewManager(sessionStore, session.WithCapacityEnforcement(cfg.EnforceCapacity))
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := ws.NewHub()
	go hub.Run(hubCtx)

	router := api.NewRouter(
		api.New(hub, database, sessions, sessionStore, coordinator),
		tokens,
		ws.NewHandler(hub, sessionStore, sessions, coordinator),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logrus.WithFields(logrus.Fields{
		"port":     cfg.Port,
		"database": cfg.DBPath,
		"executor": cfg.ExecutorURL,
		"rooms":    sessionStore.Len(),
	}).Info("CodeCollab server starting")
	logrus.Info("Endpoints:")
	logrus.Info("  - WebSocket: /ws/rooms/{roomId}?jwt={token}")
	logrus.Info("  - Health:    GET /health")
	logrus.Info("  - Stats:     GET /api/stats")
	logrus.Info("  - Rooms:     GET/POST /api/rooms")
	logrus.Info("  - Room:      GET /api/rooms/{id}, POST /api/rooms/{id}/join")
	logrus.Info("  - Fields:    GET/PUT /api/rooms/{id}/fields/{code|output}")
	logrus.Info("  - Run:       POST /api/rooms/{id}/run")

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("listen on :%s: %w", cfg.Port, err)
		}
	case sig := <-stop:
		logrus.WithField("signal", sig.String()).Info("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("HTTP server shutdown failed")
	}
	stopHub()
	<-hub.Done()
	coordinator.Wait()

	logrus.Info("Server stopped gracefully")
	return nil
}

// newThrottle shares run budgets through Redis when REDIS_ADDR is set and
// keeps them in process otherwise
func newThrottle(cfg *config.Config) (ratelimit.Keyed, func(), error) {
	if cfg.RedisAddr == "" {
		m := ratelimit.NewMemory(cfg.RunsPerMinute, time.Minute)
		return m, m.Stop, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	logrus.WithField("addr", cfg.RedisAddr).Info("Run throttle backed by Redis")
	return ratelimit.NewRedis(client, cfg.RunsPerMinute, time.Minute), func() { client.Close() }, nil
}
