package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/autospook/config"
	"github.com/mohammad-safakhou/autospook/internal/queue/streams"
	"github.com/mohammad-safakhou/autospook/internal/scheduler"
	"github.com/mohammad-safakhou/autospook/internal/telemetry"
	"github.com/mohammad-safakhou/autospook/internal/worker"
	"github.com/spf13/cobra"
)

func watchCMD(cfgPath *string) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Enqueue investigations for the configured watch list on schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if len(cfg.Watch.Targets) == 0 {
				return fmt.Errorf("watch.targets is empty")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rdb, err := connectRedis(ctx, cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()
			registry, err := newRegistry()
			if err != nil {
				return err
			}
			publisher := streams.NewPublisher(rdb, registry)
			enqueue := func(ctx context.Context, req streams.InvestigationRequested) (string, error) {
				return worker.Enqueue(ctx, publisher, cfg.Queue.RequestStream, req, streams.WithMaxLenApprox(cfg.Queue.MaxLen))
			}

			sched, err := scheduler.New(cfg.Watch.Targets, enqueue, rdb, telemetry.NewLogger(cfg.Telemetry, "[SCHED] "))
			if err != nil {
				return err
			}
			return sched.Run(ctx, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "how often schedules are checked")
	return cmd
}
