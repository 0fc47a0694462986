package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tailored-agentic-units/parley/gateway"
	"github.com/tailored-agentic-units/parley/mcp"
	"github.com/tailored-agentic-units/parley/observability"
	"github.com/tailored-agentic-units/parley/orchestrator"
	"github.com/tailored-agentic-units/parley/tools"
)

const shutdownGrace = 10 * time.Second

func main() {
	var (
		configFile = flag.String("config", "", "Path to config JSON file (optional)")
		addr       = flag.String("addr", "", "Listen address (overrides config)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	// .env is optional; environment wins over file values either way.
	_ = godotenv.Load()

	cfg := orchestrator.DefaultConfig()
	if *configFile != "" {
		loaded, err := orchestrator.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.Provider.BaseURL = base
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	observer := observability.NewSlogObserver(logger)

	registry := tools.NewRegistry()
	registerBuiltinTools(registry)

	mcpManager := mcp.NewManager(&cfg.MCP, registry)
	defer mcpManager.Close()
	for _, err := range mcpManager.ConnectConfigured(context.Background()) {
		logger.Warn("mcp server unavailable", "error", err)
	}

	o, err := orchestrator.New(&cfg,
		orchestrator.WithToolExecutor(registry),
		orchestrator.WithObserver(observer),
	)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	gwCfg := gateway.DefaultConfig()
	if *addr != "" {
		gwCfg.Addr = *addr
	}
	server := gateway.NewServer(&gwCfg, o, observer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", gwCfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Gateway failed: %v", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown", "error", err)
	}
	o.Shutdown()
}
