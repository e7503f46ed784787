package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/anthropics/midstream/internal/config"
	"github.com/anthropics/midstream/internal/summary"
)

const defaultConfigName = "midstream.yaml"

var (
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "midstream",
	Short: "Streaming instruction-block interception engine",
	Long: `midstream watches streaming model output for instruction blocks,
executes them against a sandboxed filesystem backend, and resumes
generation with the results folded back into the conversation.

Run one-shot sessions with 'midstream run', or start the HTTP server
with 'midstream serve' to queue sessions on a worker pool and follow
the audit stream.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init and version must work without a loadable config.
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(resolveConfigPath())
		if err != nil {
			return err
		}

		zcfg := zap.NewProductionConfig()
		level, perr := zapcore.ParseLevel(cfg.Logging.Level)
		if perr != nil {
			level = zapcore.InfoLevel
		}
		if verbose {
			level = zapcore.DebugLevel
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// resolveConfigPath picks the config file: the --config flag wins, then
// MIDSTREAM_CONFIG, then midstream.yaml beside the executable, then the
// working directory. A missing file loads as defaults.
func resolveConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	if v := os.Getenv("MIDSTREAM_CONFIG"); v != "" {
		return v
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), defaultConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return defaultConfigName
}

// newCompactor builds the history compactor from the session config.
func newCompactor(g summary.Completer, model string) *summary.Compactor {
	c := summary.NewCompactor(g, model, logger)
	c.ContextTokens = cfg.Session.ContextTokens
	c.Threshold = cfg.Session.CompactThreshold
	return c
}
