package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/autospook/config"
	"github.com/mohammad-safakhou/autospook/internal/queue/streams"
	"github.com/mohammad-safakhou/autospook/internal/server"
	"github.com/mohammad-safakhou/autospook/internal/telemetry"
	"github.com/mohammad-safakhou/autospook/internal/worker"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

func workerCMD(cfgPath *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume investigation requests from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if name == "" {
				name = fmt.Sprintf("worker-%s", uuid.NewString()[:8])
			}
			return runWorker(cmd.Context(), cfg, name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "consumer name (default random)")
	return cmd
}

func runWorker(parent context.Context, cfg *config.Config, consumerName string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := telemetry.NewLogger(cfg.Telemetry, "[WORKER] ")
	provider := setupTelemetry(ctx, cfg, "autospook-worker")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	rdb, err := connectRedis(ctx, cfg.Storage.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	registry, err := newRegistry()
	if err != nil {
		return fmt.Errorf("schema registry: %w", err)
	}
	if err := streams.EnsureGroup(ctx, rdb, cfg.Queue.RequestStream, cfg.Queue.Group); err != nil {
		return err
	}

	orch, err := buildOrchestrator(cfg, rdb)
	if err != nil {
		return err
	}

	consumer := streams.NewConsumer(rdb, registry, cfg.Queue.Group, consumerName)
	consumer.OnInvalid = func(id string, err error) {
		logger.Printf("dropped invalid entry %s: %v", id, err)
	}
	processor := worker.NewProcessor(logger, orch,
		worker.NewRedisClaims(rdb, "", cfg.Queue.ClaimIdle, cfg.Queue.IdempotencyTTL),
		consumer,
		streams.NewPublisher(rdb, registry),
		cfg.Queue,
		otel.Meter("autospook/worker"),
		otel.Tracer("autospook/worker"),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Start(gctx) })
	if cfg.Ops.Addr != "" {
		g.Go(func() error {
			return server.Run(gctx, cfg.Ops.Addr, server.Options{
				Version: cfg.General.Version,
				Metrics: provider.MetricsHandler(),
				Lag: func(ctx context.Context) (streams.LagMetrics, error) {
					return consumer.Lag(ctx, cfg.Queue.RequestStream)
				},
				Logger: telemetry.NewLogger(cfg.Telemetry, "[OPS] "),
			})
		})
	}
	return g.Wait()
}
