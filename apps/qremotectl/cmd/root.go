package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/quatton/qremote/pkg/qsdk"
	"github.com/spf13/cobra"
)

type contextKey string

const (
	configContextKey contextKey = "qremoteconfig"
	clientContextKey contextKey = "qremoteclient"
)

var (
	cfgFile string
	apiURL  string
	rootCmd = &cobra.Command{
		Use:   "qremotectl",
		Short: "CLI for submitting and following qremote jobs",
		Long: `qremotectl talks to a running qremote server. Submit shell commands,
list and inspect jobs, follow their output live and cancel them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := qsdk.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("api-url") {
				if err := cfg.Set(qsdk.APIURLKey, apiURL); err != nil {
					return err
				}
			}

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			ctx = context.WithValue(ctx, clientContextKey, qsdk.NewClientFromConfig(cfg))
			cmd.SetContext(ctx)

			return nil
		},
	}
)

// GetConfig retrieves the Config from the command context
func GetConfig(cmd *cobra.Command) (*qsdk.Config, error) {
	cfg, ok := cmd.Context().Value(configContextKey).(*qsdk.Config)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return cfg, nil
}

// GetClient retrieves the API client from the command context
func GetClient(cmd *cobra.Command) (*qsdk.Client, error) {
	c, ok := cmd.Context().Value(clientContextKey).(*qsdk.Client)
	if !ok {
		return nil, errors.New("no client in context")
	}
	return c, nil
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML). Searches: qremote.yaml, .qremote/config.yaml")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Base URL of the qremote server (overrides config and QREMOTE_API_URL)")
}
