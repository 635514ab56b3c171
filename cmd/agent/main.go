// Amen Agent — an autonomous security agent that guards an on-chain lending
// protocol against oracle manipulation and flash-loan attacks.
//
// Architecture:
//
//	main.go              — entry point: loads config, connects to the chain, waits for SIGINT/SIGTERM
//	agent/agent.go       — orchestrator: runs the observe → reason → decide → act → report cycle
//	chain/client.go      — bound contract gateway for the oracle, AMM pool, and lending vault
//	observer/observer.go — collects per-cycle market snapshots and builds the analysis context
//	reasoner/reasoner.go — deterministic anomaly gate plus Gemini classification with rate limiting
//	decider/decider.go   — maps threat assessments to defensive actions via confidence thresholds
//	actor/actor.go       — executes pause, block, and flag transactions on chain
//	reporter/reporter.go — security event trail: structured log, backend feed, WebSocket broadcast
//	api/server.go        — health, status, and event endpoints plus the live event stream
//	store/store.go       — JSON file persistence for session counters (survives restarts)
//
// How it defends:
//
//	The agent polls oracle, AMM, and vault state every few seconds. Cheap
//	deterministic checks gate the expensive step: the Gemini model is only
//	consulted when a cycle looks anomalous. Confirmed threats map to
//	graduated on-chain responses, from monitoring through liquidation
//	blocks up to pausing the whole protocol. When oracle and AMM prices
//	diverge past a hard threshold, a rapid-response path pauses the AMM
//	immediately, before any model call.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"amen-agent/internal/agent"
	"amen-agent/internal/api"
	"amen-agent/internal/chain"
	"amen-agent/internal/config"
)

func main() {
	// Config comes from the environment; AMEN_CONFIG points at an optional
	// YAML file for local development.
	cfgPath := os.Getenv("AMEN_CONFIG")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))

	ctx := context.Background()

	// Connect to the chain and verify the guarded contracts respond
	gateway, err := chain.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to chain", "error", err)
		os.Exit(1)
	}
	if err := gateway.Preflight(ctx); err != nil {
		logger.Error("preflight checks failed", "error", err)
		os.Exit(1)
	}

	ag, err := agent.New(ctx, cfg, gateway, logger)
	if err != nil {
		logger.Error("failed to create agent", "error", err)
		os.Exit(1)
	}

	// Health and event API, with live events wired through the hub
	server := api.NewServer(cfg.HealthPort, ag, ag.Reporter(), logger)
	ag.Reporter().SetBroadcaster(server.Hub())
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("health server failed", "error", err)
		}
	}()
	logger.Info("health endpoints started", "url", fmt.Sprintf("http://localhost:%d", cfg.HealthPort))

	if err := ag.Start(); err != nil {
		logger.Error("failed to start agent", "error", err)
		os.Exit(1)
	}

	if !cfg.RapidResponseMode {
		logger.Warn("rapid response mode disabled, proactive AMM pause will not fire")
	}

	logger.Info("amen agent started",
		"chain_id", cfg.ChainID,
		"health_port", cfg.HealthPort,
		"backend", cfg.BackendURL,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Drain the agent first; the API stays up so probes see shutting_down
	ag.Stop()

	if err := server.Stop(); err != nil {
		logger.Error("failed to stop health server", "error", err)
	}
	gateway.Close()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
