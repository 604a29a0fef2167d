package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <topics...>",
		Short: "Queue topics and enable the autopilot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			state, err := application.scheduler.Enable(args)
			if err != nil {
				return fmt.Errorf("enable autopilot: %w", err)
			}
			return printJSON(cmd, state)
		},
	}
}

func newDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable [topics...]",
		Short: "Disable the autopilot, optionally removing only some topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			state, err := application.scheduler.Disable(args)
			if err != nil {
				return fmt.Errorf("disable autopilot: %w", err)
			}
			return printJSON(cmd, state)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted autopilot state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, application.scheduler.CurrentState())
		},
	}
}
