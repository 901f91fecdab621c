// File: cmd/login.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basketman23/suno-automation/internal/observability"
)

// newLoginCmd creates the `login` command: establish the session and
// stop. Useful for warming up the profile before an unattended batch,
// since login is the one step that may need a human at the keyboard.
func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Establishes an authenticated session and exits",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components, err := buildComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer components.manager.Close()

			if err := components.session.EnsureAuthenticated(ctx); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			fmt.Println("Session established. The profile is ready for unattended runs.")
			return nil
		},
	}
}
