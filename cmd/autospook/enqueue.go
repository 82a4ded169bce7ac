package main

import (
	"fmt"
	"time"

	"github.com/mohammad-safakhou/autospook/config"
	"github.com/mohammad-safakhou/autospook/internal/queue/streams"
	"github.com/mohammad-safakhou/autospook/internal/worker"
	"github.com/spf13/cobra"
)

func enqueueCMD(cfgPath *string) *cobra.Command {
	var (
		name      string
		targetCtx string
		maxTokens int64
		maxCost   float64
		deadline  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish an investigation request for the workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			ctx := cmd.Context()

			rdb, err := connectRedis(ctx, cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()
			registry, err := newRegistry()
			if err != nil {
				return err
			}

			req := streams.InvestigationRequested{TargetName: name, TargetContext: targetCtx, RequestedBy: "cli"}
			if cmd.Flags().Changed("max-tokens") || cmd.Flags().Changed("max-cost") || deadline > 0 {
				req.Budget = &streams.BudgetOverride{MaxSeconds: int64(deadline / time.Second)}
				if cmd.Flags().Changed("max-tokens") {
					req.Budget.MaxTokens = &maxTokens
				}
				if cmd.Flags().Changed("max-cost") {
					req.Budget.MaxCost = &maxCost
				}
			}
			id, err := worker.Enqueue(ctx, streams.NewPublisher(rdb, registry), cfg.Queue.RequestStream, req,
				streams.WithMaxLenApprox(cfg.Queue.MaxLen))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "target name")
	cmd.Flags().StringVar(&targetCtx, "context", "", "optional context about the target")
	cmd.Flags().Int64Var(&maxTokens, "max-tokens", 0, "token budget for this investigation")
	cmd.Flags().Float64Var(&maxCost, "max-cost", 0, "cost budget (USD) for this investigation")
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "time budget for this investigation")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
