// Command orchestrator runs the matchmaking chat orchestration process: it
// wires the bus, keyed store, and MCP tool server together, then serves
// chat turns until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jayasurya072001/match-making-backend/internal/bus"
	"github.com/jayasurya072001/match-making-backend/internal/config"
	"github.com/jayasurya072001/match-making-backend/internal/logging"
	"github.com/jayasurya072001/match-making-backend/internal/mcpclient"
	"github.com/jayasurya072001/match-making-backend/internal/metrics"
	"github.com/jayasurya072001/match-making-backend/internal/orchestrator"
	"github.com/jayasurya072001/match-making-backend/internal/store"
)

const mcpInitTimeout = 20 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("orchestrator")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.LogLevel, cfg.LogPretty)

	baseCtx := context.Background()

	redisStore := store.New(cfg.RedisAddr)
	defer func() {
		if err := redisStore.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis client")
		}
	}()
	pingCtx, cancelPing := context.WithTimeout(baseCtx, 5*time.Second)
	if err := redisStore.Ping(pingCtx); err != nil {
		cancelPing()
		return fmt.Errorf("reach redis at %s: %w", cfg.RedisAddr, err)
	}
	cancelPing()

	kafkaBus := bus.New(bus.Config{
		Brokers:       cfg.KafkaBrokers,
		JobsTopic:     cfg.KafkaJobsTopic,
		ResponseTopic: cfg.KafkaResponseTopic,
		ConsumerGroup: cfg.KafkaConsumerGroup,
	})
	defer func() {
		if err := kafkaBus.Close(); err != nil {
			log.Error().Err(err).Msg("error closing kafka bus")
		}
	}()

	mcpCtx, cancelMCP := context.WithTimeout(baseCtx, mcpInitTimeout)
	mcpClient, err := mcpclient.Connect(mcpCtx, cfg.MCPServerCommand, cfg.MCPServerArgs)
	cancelMCP()
	if err != nil {
		return fmt.Errorf("connect mcp server: %w", err)
	}
	defer func() {
		if err := mcpClient.Close(); err != nil {
			log.Error().Err(err).Msg("error closing mcp client")
		}
	}()

	m := metrics.New("matchmaking_orchestrator")
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	orch := orchestrator.New(orchestrator.Options{
		Bus:          kafkaBus,
		Store:        redisStore,
		MCP:          mcpClient,
		Metrics:      m,
		StepTimeout:  cfg.StepTimeout,
		PingInterval: cfg.PollInterval,
	})

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	orch.Start(ctx)
	log.Info().
		Strs("brokers", cfg.KafkaBrokers).
		Str("jobs_topic", cfg.KafkaJobsTopic).
		Str("responses_topic", cfg.KafkaResponseTopic).
		Str("redis_addr", cfg.RedisAddr).
		Str("metrics_addr", cfg.MetricsAddr).
		Msg("orchestrator started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown")
	}
	orch.Stop()

	log.Info().Msg("orchestrator stopped")
	return nil
}
