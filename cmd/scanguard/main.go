package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/pkg/utils"
)

var (
	flagConfigFile string
	flagLogLevel   string
	flagLogJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "scanguard",
	Short: "scanguard - adaptive static analysis with a result cache",
	Long: `scanguard analyzes source trees for security, performance, and
duplication issues. Results are cached per file and reused until the
file or the configuration changes, and the worker count adapts to
system load while a scan runs.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigFile, "config", "c", "",
		"path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "",
		"log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false,
		"emit logs as JSON")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("scanguard v0.1.0")
	},
}

// loadConfiguration builds the effective configuration: defaults, then
// the optional config file, then environment overrides, then flags.
func loadConfiguration() (*config.Configuration, error) {
	cfg := config.NewDefault()

	if flagConfigFile != "" {
		if err := cfg.LoadFromFile(flagConfigFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Global.LogLevel = flagLogLevel
	}
	if flagLogJSON {
		cfg.Global.LogFormat = "json"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Configuration) *utils.StructuredLogger {
	level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		level = utils.INFO
	}

	lc := utils.DefaultStructuredLoggerConfig()
	lc.Level = level
	if cfg.Global.LogFormat == "json" {
		lc.Format = utils.FormatJSON
	}
	return utils.NewStructuredLogger(lc)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
