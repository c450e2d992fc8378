// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/threadline/threadline/internal/api"
	"github.com/threadline/threadline/internal/chat"
	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/logging"
	"github.com/threadline/threadline/internal/messaging"
	"github.com/threadline/threadline/internal/notify"
	"github.com/threadline/threadline/internal/observability"
	"github.com/threadline/threadline/internal/realtime"
	"github.com/threadline/threadline/internal/seed"
	"github.com/threadline/threadline/internal/store"
	"github.com/threadline/threadline/internal/thread"
	"github.com/threadline/threadline/internal/ws"
)

// readinessTimeout bounds the store ping behind /healthz/readiness.
const readinessTimeout = 2 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and WebSocket gateway",
		Long: `Start the Threadline server. The HTTP API, the WebSocket endpoint at /ws
and, when configured, the metrics and health server all run in this process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.ResolvePath(configFile, os.Getenv), cmd.Flags(), os.Getenv)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the server until a signal arrives, ctx is cancelled
// or a listener fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.BackendFactory == nil {
		deps.BackendFactory = openBackend
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}

	logger := logging.SetDefault(logging.Options{
		Service: "threadline",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})

	logger.Info("starting threadline",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Driver,
		"scoped_reaction_updates", cfg.Realtime.ScopedReactionUpdates,
	)

	backend, err := deps.BackendFactory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	registry := realtime.NewRegistry(realtime.WithRegistryLogger(logger))
	router := realtime.NewRouter(registry, realtime.WithRouterLogger(logger))
	engine := thread.NewEngine(backend, thread.WithLogger(logger))
	fanout := notify.New(backend, router, notify.WithLogger(logger))
	svc := messaging.NewService(backend, engine, router, fanout,
		messaging.WithLogger(logger),
		messaging.WithScopedReactionUpdates(cfg.Realtime.ScopedReactionUpdates),
	)
	gateway := ws.NewGateway(registry, router,
		ws.WithLogger(logger),
		ws.WithSettings(ws.Settings{
			SendBuffer:    cfg.Realtime.SendBuffer,
			PingInterval:  cfg.Realtime.PingInterval,
			WriteTimeout:  cfg.Realtime.WriteTimeout,
			MaxFrameBytes: cfg.Realtime.MaxFrameBytes,
		}),
	)

	listener, err := deps.ListenerFactory("tcp", cfg.Server.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           api.NewRouter(svc, api.WithLogger(logger), api.WithWebSocket(gateway)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, func() bool {
			if !ready.Load() {
				return false
			}
			pingCtx, pingCancel := context.WithTimeout(context.Background(), readinessTimeout)
			defer pingCancel()
			return backend.Ping(pingCtx) == nil
		})
		obsErrChan, startErr := obsServer.Start()
		if startErr != nil {
			_ = listener.Close()
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(startErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	httpErrChan := make(chan error, 1)
	go func() {
		defer close(httpErrChan)
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErrChan <- serveErr
		}
	}()
	ready.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Threadline listening on " + listener.Addr().String())
	logger.Info("threadline ready", "addr", listener.Addr().String())

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case serveErr := <-httpErrChan:
		if serveErr != nil {
			runErr = oops.Code("HTTP_SERVER_FAILED").Wrap(serveErr)
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Upgraded sockets are hijacked, so Shutdown does not wait for them.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping HTTP server", "error", err)
	}
	registry.Close()
	gateway.Shutdown()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// openBackend returns the store selected by cfg.Store.Driver.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	if cfg.Store.Driver == config.DriverMemory {
		return openMemoryBackend(ctx, cfg.Store.SeedFile, logger)
	}
	pg, err := store.Connect(ctx, cfg.Database.URL, store.ConnectOptions{
		Attempts: cfg.Database.ConnectAttempts,
		Backoff:  cfg.Database.ConnectBackoff,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// openMemoryBackend returns a memory store loaded from seedFile. Without a
// seed file the store is empty and every post is rejected until users and
// rooms exist.
func openMemoryBackend(ctx context.Context, seedFile string, logger *slog.Logger) (Backend, error) {
	mem := chat.NewMemoryStore()
	if seedFile == "" {
		logger.Warn("using in-memory store without a seed file, posts are rejected until users and rooms exist")
		return memoryBackend{mem}, nil
	}
	f, err := seed.Load(seedFile)
	if err != nil {
		return nil, err
	}
	res, err := seed.Apply(ctx, mem, f, logger)
	if err != nil {
		return nil, err
	}
	logger.Warn("using in-memory store, data is lost on exit",
		"seed_file", seedFile,
		"users", res.Users,
		"rooms", res.Created,
	)
	return memoryBackend{mem}, nil
}

// monitorServerErrors cancels ctx when the server reports an error. It exits
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
