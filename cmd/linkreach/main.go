package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kalambet/linkreach/internal/config"
)

var version = "dev"

var (
	verbose bool
	noColor bool
	logger  = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "linkreach",
	Short: "Backend for the LinkedIn outreach browser extension",
	Long: `linkreach stores profiles collected by the browser extension, logs sent
connection requests under an hourly limit and drafts connection notes.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}

		level := zapcore.InfoLevel
		if verbose {
			level = zapcore.DebugLevel
		} else if cfg, err := config.Load(); err == nil {
			if l, err := zapcore.ParseLevel(strings.ToLower(cfg.Log.Level)); err == nil {
				level = l
			}
		}

		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(level)
		l, err := zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd, mcpCmd)
	rootCmd.AddCommand(generateCmd, profilesCmd, connectCmd, connectionsCmd, modelsCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
