package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newApproveCmd() *cobra.Command {
	var (
		scope             string
		categories        []string
		bandwidthMB       float64
		timeBudgetMinutes float64
	)
	cmd := &cobra.Command{
		Use:   "approve <domain>",
		Short: "Approve a domain for acquisition and record it in the ledger",
		Long: `Adds (or replaces) an allowlist rule for the domain in policy.yaml
and appends a signed approval entry to the consent ledger. Budgets
left at zero inherit the policy-level network budgets.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rule, err := application.manager.Approve(args[0], scope, categories, bandwidthMB, timeBudgetMinutes)
			if err != nil {
				return fmt.Errorf("approve %s: %w", args[0], err)
			}
			return printJSON(cmd, rule)
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "web", "acquisition scope (web or git)")
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "content categories for this domain")
	cmd.Flags().Float64Var(&bandwidthMB, "bandwidth-mb", 0, "per-domain bandwidth budget in MB (0 inherits policy)")
	cmd.Flags().Float64Var(&timeBudgetMinutes, "time-budget-minutes", 0, "per-domain time budget in minutes (0 inherits policy)")
	return cmd
}

func newRevokeCmd() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "revoke <domain>",
		Short: "Revoke a domain approval and record it in the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := application.manager.Revoke(args[0], scope); err != nil {
				return fmt.Errorf("revoke %s: %w", args[0], err)
			}
			cmd.Printf("revoked %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope recorded in the ledger (defaults to all scopes)")
	return cmd
}
