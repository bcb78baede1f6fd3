package cmd

import (
	"os"

	"github.com/quatton/qremote/pkg/qlog"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "qremote",
	Short: "qremote job server",
	Long:  `qremote accepts shell commands over HTTP, runs them on a remote host over SSH and records their output.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json); overrides LOG_FORMAT")
}

// newLogger prefers the flags over the environment.
func newLogger(envLevel, envFormat string) *qlog.Logger {
	level, format := envLevel, envFormat
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	return qlog.NewFromLevel(level, qlog.Format(format))
}
