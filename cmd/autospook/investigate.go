package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/autospook/config"
	"github.com/mohammad-safakhou/autospook/internal/investigation"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func investigateCMD(cfgPath *string) *cobra.Command {
	var (
		name          string
		targetContext string
		out           string
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "investigate",
		Short: "Run one investigation in-process and write the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			return runInvestigate(cmd, cfg, name, targetContext, out, asJSON)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "target name")
	cmd.Flags().StringVar(&targetContext, "context", "", "optional context about the target")
	cmd.Flags().StringVar(&out, "out", "report.html", "where to write the HTML report")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full investigation as JSON")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func runInvestigate(cmd *cobra.Command, cfg *config.Config, name, targetContext, out string, asJSON bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := setupTelemetry(ctx, cfg, "autospook-cli")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	var rdb redis.Cmdable
	if cfg.Search.Cache.Enabled {
		client, err := connectRedis(ctx, cfg.Storage.Redis)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warn: search cache disabled: %v\n", err)
		} else {
			defer func() { _ = client.Close() }()
			rdb = client
		}
	}

	orch, err := buildOrchestrator(cfg, rdb)
	if err != nil {
		return err
	}
	inv, err := orch.RunInvestigation(ctx, name, targetContext)
	if err != nil {
		return err
	}

	if out != "" {
		if err := os.WriteFile(out, []byte(inv.ReportHTML), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	w := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(inv)
	}
	printSummary(cmd, inv, out)
	return nil
}

func printSummary(cmd *cobra.Command, inv *investigation.Investigation, out string) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "investigation %s: %s\n", inv.ID, inv.Target.Name)
	fmt.Fprintf(w, "risk level: %s\n", inv.RiskLevel)
	if inv.Interrupted {
		fmt.Fprintln(w, "interrupted: partial results")
	}
	for _, t := range inv.Topics {
		fmt.Fprintf(w, "  [%s] %s: %s\n", t.Status, t.Title, t.Rationale)
	}
	for _, n := range inv.Notes {
		fmt.Fprintf(w, "note: %s\n", n)
	}
	for _, warning := range inv.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	fmt.Fprintf(w, "usage: %d tokens, $%.4f, %d LLM calls, %d searches in %s\n",
		inv.Usage.Tokens, inv.Usage.Cost, inv.Usage.LLMCalls, inv.Usage.SearchCalls, inv.Usage.Elapsed.Round(time.Second))
	if out != "" {
		fmt.Fprintf(w, "report written to %s\n", out)
	}
}
