package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"dodns/internal/server"
	"dodns/internal/service"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the API token used by scripts",
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the API token, generating one if none exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCredentials(cmd.Context(), func(ctx context.Context, creds *service.Credentials) error {
			token, err := creds.APIToken(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		})
	},
}

var tokenRegenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Replace the API token; the previous token stops working",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCredentials(cmd.Context(), func(ctx context.Context, creds *service.Credentials) error {
			token, err := creds.RegenerateAPIToken(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		})
	},
}

func init() {
	tokenCmd.AddCommand(tokenShowCmd)
	tokenCmd.AddCommand(tokenRegenerateCmd)
}

// withCredentials opens the configured store for a one-shot command. A
// running server sees the change on its next request with either backend.
func withCredentials(ctx context.Context, fn func(context.Context, *service.Credentials) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	st, err := server.OpenStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	return fn(ctx, service.NewCredentials(st, nil, log))
}
