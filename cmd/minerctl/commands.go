package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/huangang/ideaminer/backend/internal/app"
	"github.com/huangang/ideaminer/backend/internal/config"
	"github.com/huangang/ideaminer/backend/internal/services"
	"github.com/huangang/ideaminer/backend/pkg/logger"
)

var errCostGuardFailed = errors.New("cost guard failed")

type cliOptions struct {
	configPath string
	ledgerPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "minerctl",
		Short:         "Run the complaint mining pipeline and inspect generation cost",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.InitWithWriter(opts.logLevel, os.Stderr)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	root.PersistentFlags().StringVar(&opts.ledgerPath, "ledger", "", "usage ledger file (overrides cost.ledger_path)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")

	root.AddCommand(
		newRunCmd(opts),
		newCostGuardCmd(opts),
		newEstimateCmd(opts),
		newStatsCmd(opts),
		newExportCmd(opts),
	)
	return root
}

func (o *cliOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if o.ledgerPath != "" {
		cfg.Cost.LedgerPath = o.ledgerPath
	}
	return cfg, nil
}

// monitor opens only the usage ledger; no database or LLM is needed.
func (o *cliOptions) monitor() (*services.CostMonitor, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return services.NewCostMonitor(&cfg.Cost, services.NewFileLedger(cfg.Cost.LedgerPath)), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- run ---

func newRunCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one full scrape, filter, dedup and idea generation pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stats, runErr := a.Pipeline.RunFullPipeline(ctx)
			if stats != nil {
				if err := printJSON(cmd.OutOrStdout(), stats); err != nil {
					return err
				}
			}
			return runErr
		},
	}
}

// --- cost-guard ---

func newCostGuardCmd(opts *cliOptions) *cobra.Command {
	var days, maxTokens int

	cmd := &cobra.Command{
		Use:   "cost-guard",
		Short: "Check mean tokens per complaint against the ceiling; exits non-zero on failure",
		Long: `Check mean tokens per complaint against the ceiling.

Reads the usage ledger only, so it can gate a deployment in CI.

Examples:
  minerctl cost-guard
  minerctl cost-guard --days 7 --max-tokens 500 --ledger ./sample_tokens.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if maxTokens > 0 {
				cfg.Cost.MaxTokensPerComplaint = maxTokens
			}

			monitor := services.NewCostMonitor(&cfg.Cost, services.NewFileLedger(cfg.Cost.LedgerPath))
			result := monitor.CostGuard(days)
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Passed {
				return fmt.Errorf("%w: mean %.1f tokens exceeds %.0f", errCostGuardFailed, result.MeanTokens, result.Threshold)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "trailing window in days")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "override cost.max_tokens_per_complaint")
	return cmd
}

// --- estimate ---

func newEstimateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <count>",
		Short: "Project the cost of generating ideas for <count> complaints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[0])
			if err != nil || count < 0 {
				return fmt.Errorf("count must be a non-negative integer, got %q", args[0])
			}
			monitor, err := opts.monitor()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), monitor.EstimateBatchCost(count))
		},
	}
}

// --- stats ---

func newStatsCmd(opts *cliOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token usage statistics from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			monitor, err := opts.monitor()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"usage":       monitor.UsageStatistics(days),
				"daily_limit": monitor.DailyLimitCheck(),
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "trailing window in days")
	return cmd
}

// --- export ---

func newExportCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write the usage ledger to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			monitor, err := opts.monitor()
			if err != nil {
				return err
			}
			if err := monitor.Export(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d records to %s\n", len(monitor.Records()), args[0])
			return nil
		},
	}
}
