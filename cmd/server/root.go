package main

import (
	"fmt"

	"github.com/and161185/idcore/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "idcore",
		Short:         "Identity and session service",
		Long:          `idcore verifies LNURL-auth, slashtags, OAuth and email credentials, links them to accounts and issues sessions.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewVersionCmd())
	return cmd
}

// NewVersionCmd prints build information.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("idcore %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}

// loadConfig reads --config and the flag overrides of cmd.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path, cmd.Flags())
}

func newLogger(format string) (*zap.Logger, error) {
	switch format {
	case "console":
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	case "json", "":
		return zap.NewProduction()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
