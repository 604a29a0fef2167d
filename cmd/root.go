// Package cmd defines the CLI commands for the veilleur executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

type appKeyType struct{}

var appKey appKeyType

// newRootCmd creates and configures the root command. The service
// graph is built once in PersistentPreRunE and shared through the
// command context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "veilleur",
		Short: "Policy-governed autonomous content acquisition agent",
		Long: `veilleur watches approved sources for new content, fetches it under
politeness and consent rules, corroborates it across sources and
ingests it into a local store. Every acquisition is governed by a
signed consent ledger and a strictly validated policy file.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			application, err := buildApp(cfgFile)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, application))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if application, ok := cmd.Context().Value(appKey).(*app); ok && application != nil {
				application.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default uses built-in defaults and VEILLEUR_* env)")

	cmd.AddCommand(
		newInitCmd(),
		newRunCmd(),
		newEnableCmd(),
		newDisableCmd(),
		newStatusCmd(),
		newApproveCmd(),
		newRevokeCmd(),
		newServeCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	application, ok := ctx.Value(appKey).(*app)
	if !ok || application == nil {
		return nil, errors.New("application services not initialized")
	}
	return application, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
