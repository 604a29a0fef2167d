package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veilleur-project/veilleur/internal/policy"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Seed the policy file and consent ledger",
		Long: `Creates the configuration directory with a conservative starter
policy (offline, consent required, empty allowlist) and an empty
signed consent ledger. Existing files are left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(application.cfg.Home, 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}

			created := false
			if _, err := application.loader.Load(); err != nil {
				if !errors.Is(err, policy.ErrNotFound) {
					return fmt.Errorf("inspect policy: %w", err)
				}
				hostname, hostErr := os.Hostname()
				if hostErr != nil {
					hostname = "localhost"
				}
				seed := policy.Default(hostname, application.clock.Now())
				if err := application.loader.Save(seed); err != nil {
					return fmt.Errorf("write starter policy: %w", err)
				}
				created = true
			}

			return printJSON(cmd, map[string]any{
				"home":           application.cfg.Home,
				"policy":         application.cfg.PolicyPath(),
				"policy_created": created,
				"ledger":         application.cfg.LedgerPath(),
			})
		},
	}
}
