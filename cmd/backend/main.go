package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	assistantimpl "github.com/kentyler/cogito-sub006/external/assistant"
	configloader "github.com/kentyler/cogito-sub006/external/config"
	"github.com/kentyler/cogito-sub006/external/dedupe"
	"github.com/kentyler/cogito-sub006/external/discord"
	"github.com/kentyler/cogito-sub006/external/httpapi"
	"github.com/kentyler/cogito-sub006/external/recall"
	repositoryimpl "github.com/kentyler/cogito-sub006/external/repository"
	webhookimpl "github.com/kentyler/cogito-sub006/external/webhook"
	"github.com/kentyler/cogito-sub006/internal/command"
	"github.com/kentyler/cogito-sub006/internal/config"
	"github.com/kentyler/cogito-sub006/internal/events"
	"github.com/kentyler/cogito-sub006/internal/lifecycle"
	"github.com/kentyler/cogito-sub006/internal/metrics"
	"github.com/kentyler/cogito-sub006/internal/session"
	"github.com/samber/do/v2"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "http_addr", cfg.HTTPAddr, "bot_name", cfg.BotName)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	run(injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	metrics.RegisterDI(injector)
	repositoryimpl.RegisterDI(injector)
	recall.RegisterDI(injector)
	assistantimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	dedupe.RegisterDI(injector)
	lifecycle.RegisterDI(injector)
	command.RegisterDI(injector)
	session.RegisterDI(injector)
	events.RegisterDI(injector)
	httpapi.RegisterDI(injector)

	return injector
}

func mustInvoke[T any](injector do.Injector, name string) T {
	v, err := do.Invoke[T](injector)
	if err != nil {
		slog.Error("failed to resolve "+name, "error", err)
		os.Exit(1)
	}
	return v
}

func run(injector do.Injector) {
	// Resolving the server pulls in the whole graph, so startup errors surface here.
	server := mustInvoke[*httpapi.Server](injector, "http server")
	sessions := mustInvoke[*session.Manager](injector, "session manager")
	sweeper := mustInvoke[*lifecycle.Sweeper](injector, "stuck sweeper")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweepDone := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(sweepDone)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	exitCode := 0
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server failed", "error", err)
			exitCode = 1
		}
	}

	cancel()
	<-sweepDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		slog.Error("session shutdown did not finish", "error", err, "active_workers", sessions.ActiveWorkers())
	}
	slog.Info("shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
