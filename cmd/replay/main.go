// Command replay runs a model bundle offline.
//
// Usage:
//
//	go run ./cmd/replay replay data/raw/transactions.csv --workers 8
//	go run ./cmd/replay inspect --model-dir models
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mbd888/fraudscope/internal/config"
	"github.com/mbd888/fraudscope/internal/logging"
	"github.com/mbd888/fraudscope/internal/model"
	"github.com/mbd888/fraudscope/internal/predictor"
	"github.com/mbd888/fraudscope/internal/transactions"
	"github.com/spf13/cobra"
)

var (
	modelDir  string
	logLevel  string
	workers   int
	limit     int
	threshold float64
	asJSON    bool
)

var rootCmd = &cobra.Command{
	Use:           "fraudscope-replay",
	Short:         "Offline tools for fraudscope model bundles",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var replayCmd = &cobra.Command{
	Use:   "replay <labelled.csv>",
	Short: "Score a labelled CSV and report precision, recall and F1",
	Long: `Reads a labelled transaction CSV in the historical dataset layout, scores
every row with the bundle in --model-dir and compares the flags with the
fraud_flag column. Rows that fail validation are skipped and counted.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the metadata of the bundle in --model-dir",
	Args:  cobra.NoArgs,
	RunE:  runInspect,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&modelDir, "model-dir", envOr("MODEL_DIR", config.DefaultModelDir), "model bundle directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of text")

	replayCmd.Flags().IntVarP(&workers, "workers", "w", 4, "concurrent predictions")
	replayCmd.Flags().IntVarP(&limit, "limit", "n", 0, "score at most n rows (0 = all)")
	replayCmd.Flags().Float64Var(&threshold, "threshold", 0.5, "override the bundle threshold")

	rootCmd.AddCommand(replayCmd, inspectCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), logLevel, "text")

	b, err := model.LoadBundle(modelDir)
	if err != nil {
		return err
	}

	var override *float64
	if cmd.Flags().Changed("threshold") {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("--threshold must be between 0 and 1")
		}
		override = &threshold
	}
	p := predictor.New(b, override, logger)
	defer func() { _ = p.Close() }()

	rows, err := transactions.NewHistoricalTable(args[0]).List(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s: no rows", args[0])
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	logger.Info("replaying", "rows", len(rows), "workers", workers, "bundle", b.Version)
	report, err := Replay(ctx, p, rows, workers)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(cmd, report)
	}
	report.WriteText(cmd.OutOrStdout())
	return nil
}

func runInspect(cmd *cobra.Command, _ []string) error {
	b, err := model.LoadBundle(modelDir)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	info := b.Info()
	if asJSON {
		return printJSON(cmd, info)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Name:      %s\n", info.Name)
	fmt.Fprintf(w, "Version:   %s\n", info.Version)
	fmt.Fprintf(w, "Kind:      %s\n", info.Kind)
	fmt.Fprintf(w, "Threshold: %g\n", info.Threshold)
	fmt.Fprintf(w, "Features:  %d\n", info.FeatureCount)
	fmt.Fprintf(w, "Encoded:   %s\n", strings.Join(info.Columns, ", "))
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
