// File: cmd/credentials.go
package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basketman23/suno-automation/internal/credstore"
)

// newCredentialsCmd creates the `credentials` command group for the
// encrypted local credential store used by password login.
func newCredentialsCmd() *cobra.Command {
	credCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manages the encrypted credential store",
	}
	credCmd.AddCommand(newCredentialsSetCmd())
	credCmd.AddCommand(newCredentialsClearCmd())
	return credCmd
}

func newCredentialsSetCmd() *cobra.Command {
	var email string

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Stores login credentials, prompting for the password",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)

			if email == "" {
				fmt.Print("Email: ")
				line, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("reading email: %w", err)
				}
				email = strings.TrimSpace(line)
			}
			if email == "" {
				return fmt.Errorf("email must not be empty")
			}

			fmt.Print("Password: ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return fmt.Errorf("password must not be empty")
			}

			store := credstore.New(cfg.Auth.CredentialsFile)
			if err := store.Save(credstore.Credentials{Email: email, Password: password}); err != nil {
				return fmt.Errorf("saving credentials: %w", err)
			}
			fmt.Printf("Credentials stored at %s\n", cfg.Auth.CredentialsFile)
			return nil
		},
	}

	setCmd.Flags().StringVar(&email, "email", "", "Account email (prompted when omitted)")
	return setCmd
}

func newCredentialsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Removes stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := credstore.New(cfg.Auth.CredentialsFile)
			if err := store.Clear(); err != nil {
				return fmt.Errorf("clearing credentials: %w", err)
			}
			fmt.Println("Credentials cleared.")
			return nil
		},
	}
}
