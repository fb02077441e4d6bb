package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/skobkin/llmsim-web/cmd/llmsim/format"
	"github.com/skobkin/llmsim-web/internal/config"
	"github.com/skobkin/llmsim-web/internal/logging"
)

var (
	outputFormat string
	logLevel     string
	logFile      string

	appCfg    config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

// RootCmd is the top-level CLI command.
var RootCmd = &cobra.Command{
	Use:           "llmsim",
	Short:         "Simulate GPU telemetry for LLM training and inference workloads",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := config.NewViper()
		flags := cmd.Root().PersistentFlags()
		for key, name := range boundFlags {
			if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
				return fmt.Errorf("bind --%s: %w", name, err)
			}
		}
		cfg, err := config.FromViper(v)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		appCfg = cfg
		logger, logCloser = logging.New(cfg.Log)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, csv")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	RootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this rotating file")
}

// boundFlags maps configuration keys to the persistent flags overriding them.
var boundFlags = map[string]string{
	"log_level": "log-level",
	"log_file":  "log-file",
}

func getFormat() (format.OutputFormat, error) {
	return format.Parse(outputFormat)
}
