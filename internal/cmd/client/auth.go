package client

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// NewAuthCommand constructs the `auth` command group.
func NewAuthCommand(baseURL BaseURLFunc) *cobra.Command {
	authCmd := &cobra.Command{Use: "auth", Short: "Account operations"}
	authCmd.AddCommand(newAuthRegisterCommand(baseURL), newAuthLoginCommand(baseURL))
	return authCmd
}

func newAuthRegisterCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			name, _ := cmd.Flags().GetString("name")
			role, _ := cmd.Flags().GetString("role")
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}
			body, status, err := doJSON(baseURL, http.MethodPost, "/api/auth/register", map[string]any{
				"email": email, "password": password, "name": name, "role": role,
			})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), body, status)
		},
	}
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password")
	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().String("role", "quality_agent", "Role: company_admin|quality_agent|interviewer")
	return cmd
}

func newAuthLoginCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print a bearer token (export as CANVASS_TOKEN)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}
			body, status, err := doJSON(baseURL, http.MethodPost, "/api/auth/login", map[string]any{
				"email": email, "password": password,
			})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), body, status)
		},
	}
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password")
	return cmd
}
