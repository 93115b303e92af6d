package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanguard/scanguard/internal/engine"
	"github.com/scanguard/scanguard/pkg/types"
)

var (
	flagStrategy string
	flagWorkers  int
	flagMetrics  bool
	flagJSONOut  bool
	flagReport   bool
	flagFailOn   string
)

var scanCmd = &cobra.Command{
	Use:   "scan [paths...]",
	Short: "Analyze one or more paths",
	Long: `Scan walks the given paths (the current directory when none are
given), analyzes every eligible file, and prints the findings. A second
scan of unchanged files is served from the cache.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&flagStrategy, "strategy", "",
		"cache strategy (basic or pooled)")
	scanCmd.Flags().IntVar(&flagWorkers, "max-workers", 0,
		"upper bound for the adaptive worker count")
	scanCmd.Flags().BoolVar(&flagMetrics, "metrics", false,
		"serve Prometheus metrics while scanning")
	scanCmd.Flags().BoolVar(&flagJSONOut, "json", false,
		"print results as JSON")
	scanCmd.Flags().BoolVar(&flagReport, "report", false,
		"print the cache report after scanning")
	scanCmd.Flags().StringVar(&flagFailOn, "fail-on", "",
		"exit nonzero when findings at or above this severity exist")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}
	if flagStrategy != "" {
		cfg.Cache.Strategy = flagStrategy
		if flagStrategy == "pooled" {
			cfg.Cache.EnablePools = true
		}
	}
	if flagWorkers > 0 {
		cfg.Parallelism.MaxWorkers = flagWorkers
		if cfg.Parallelism.InitialWorkers > flagWorkers {
			cfg.Parallelism.InitialWorkers = flagWorkers
		}
		if cfg.Parallelism.MinWorkers > flagWorkers {
			cfg.Parallelism.MinWorkers = flagWorkers
		}
	}
	if flagMetrics {
		cfg.Monitoring.MetricsEnabled = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var failThreshold types.Severity
	if flagFailOn != "" {
		failThreshold = types.Severity(flagFailOn)
		if failThreshold.Rank() > types.SeverityInfo.Rank() {
			return fmt.Errorf("invalid --fail-on severity: %s", flagFailOn)
		}
	}

	logger := newLogger(cfg)

	g, err := engine.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := g.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := g.Stop(context.Background()); err != nil {
			logger.Warn("shutdown error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	paths := args
	if len(paths) == 0 {
		paths = []string{"."}
	}

	results, err := g.AnalyzePaths(ctx, paths)
	if err != nil {
		return err
	}

	if flagJSONOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		printResults(results)
	}

	if flagReport {
		fmt.Println()
		fmt.Println(g.Cache().Report())
	}

	if flagFailOn != "" {
		for _, f := range results.Findings {
			if f.Severity.Rank() <= failThreshold.Rank() {
				os.Exit(1)
			}
		}
	}
	return nil
}

func printResults(results *types.AnalysisResults) {
	for _, f := range results.Findings {
		fmt.Printf("%s:%d [%s] %s: %s\n",
			f.File, f.Line, f.Severity, f.Rule, f.Message)
	}

	for _, fe := range results.Errors {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", fe.Path, fe.Err)
	}

	s := results.Summary
	fmt.Printf("\n%d files scanned, %d failed, %d findings (%d from cache) in %s\n",
		s.FilesScanned, s.FilesFailed, s.TotalFindings, s.CacheHits,
		s.Duration.Round(timeRounding))

	if len(results.Findings) > 0 {
		counts := results.FindingsBySeverity()
		for _, sev := range severityOrder {
			if n := counts[sev]; n > 0 {
				fmt.Printf("  %s: %d\n", sev, n)
			}
		}
	}
}

const timeRounding = time.Millisecond

var severityOrder = []types.Severity{
	types.SeverityCritical,
	types.SeverityHigh,
	types.SeverityMedium,
	types.SeverityLow,
	types.SeverityInfo,
}
