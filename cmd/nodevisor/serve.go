package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/nodevisor"
)

// shutdownGrace bounds the node stop plus HTTP drain on exit.
const shutdownGrace = 30 * time.Second

func runServe(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	cfg, err := nodevisor.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}

	log, logCloser, err := nodevisor.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("error creating logger: %w", err)
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(log)

	node, historyCloser, err := nodevisor.New(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = historyCloser.Close() }()

	router := nodevisor.NewRouter(node, cfg.Server.BasePath)
	if cfg.Metrics.Enabled {
		router.WithMetrics(nodevisor.MetricsHandler())
	}
	server, err := nodevisor.NewHTTPServer(cfg.Server.Listen, router)
	if err != nil {
		_ = node.Quit(context.Background())
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	log.Info("nodevisor serving", "addr", server.Addr, "base_path", cfg.Server.BasePath, "node", cfg.Node.Program)

	if !flags.NonBlocking {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			log.Info("shutting down", "signal", sig.String())
		case <-node.Done():
			log.Info("control loop quit, shutting down")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return shutdown(ctx, log, node, server)
}

type httpShutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops the node if it is running, ends the control loop and drains
// the HTTP server.
func shutdown(ctx context.Context, log *slog.Logger, node *nodevisor.Node, server httpShutdowner) error {
	if err := node.Stop(ctx); err != nil && !errors.Is(err, nodevisor.ErrNotRunning) && !errors.Is(err, nodevisor.ErrActorStopped) {
		log.Warn("stop node on shutdown", "error", err)
	}
	if err := node.Quit(ctx); err != nil && !errors.Is(err, nodevisor.ErrActorStopped) {
		log.Warn("quit control loop", "error", err)
	}
	return server.Shutdown(ctx)
}
