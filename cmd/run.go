package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [topics...]",
		Short: "Execute one acquisition cycle",
		Long: `Runs a single supervised acquisition cycle: discovery over the
approved domains, consent and politeness checks, multi-source
verification and transactional ingestion. Topics given as arguments
are queued before the run; without arguments the existing queue is
consumed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			result, err := application.controller.Run(cmd.Context(), args)
			if err != nil {
				return fmt.Errorf("run autopilot: %w", err)
			}
			return printJSON(cmd, result)
		},
	}
}

func printJSON(cmd *cobra.Command, payload any) error {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	cmd.Println(string(encoded))
	return nil
}
