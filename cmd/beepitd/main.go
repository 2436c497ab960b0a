package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julianarecha/beepit-server/internal/config"
	"github.com/julianarecha/beepit-server/internal/version"
	"github.com/julianarecha/beepit-server/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	// Set up structured logging
	level := new(slog.LevelVar)
	logger := newLogger(os.Stdout, cfg.Logging, level)
	slog.SetDefault(logger)

	logger.Info("starting beepitd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	server, err := ws.New(ws.FromFile(cfg, logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	logger.Info("beepitd running",
		"addr", server.Addr().String(),
		"path", cfg.Server.Path,
		"max_connections", cfg.Server.MaxConnections,
	)

	// Reload limits on SIGHUP
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			reload(*configPath, server, level, logger)
		case <-ctx.Done():
			logger.Info("shutting down...")

			grace := cfg.Connections.DrainGracePeriod + 5*time.Second
			shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
			err := server.Stop(shutdownCtx)
			cancel()
			if err != nil {
				logger.Error("shutdown incomplete", "error", err)
			}

			st := server.Stats()
			logger.Info("beepitd stopped",
				"connected", st.Connected,
				"messages_routed", st.MessagesRouted,
				"messages_dropped", st.MessagesDropped,
			)
			return
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

func newLogger(w io.Writer, lc config.LoggingConfig, level *slog.LevelVar) *slog.Logger {
	if l, err := config.ParseLevel(lc.Level); err == nil {
		level.Set(l)
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// reload applies the limits and log level of the config file. Listener
// settings need a restart.
func reload(path string, server *ws.Server, level *slog.LevelVar, logger *slog.Logger) {
	if path == "" {
		logger.Warn("reload ignored: no config file")
		return
	}

	cfg, err := config.LoadAndValidate(path)
	if err != nil {
		logger.Error("reload failed", "error", err)
		return
	}
	if err := server.Reconfigure(cfg.ServerLimits()); err != nil {
		logger.Error("reload failed", "error", err)
		return
	}
	if l, err := config.ParseLevel(cfg.Logging.Level); err == nil {
		level.Set(l)
	}
	logger.Info("config reloaded", "config", path)
}
