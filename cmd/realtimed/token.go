package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teamloop/realtime/internal/auth"
	"github.com/teamloop/realtime/internal/config"
)

// tokenCmd mints a connection token for a user, for local testing and
// scripting against an auth-enabled daemon.
func tokenCmd(configPath *string) *cobra.Command {
	var (
		user string
		name string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a connection token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("--user is required")
			}

			cfg, err := config.LoadAndValidate(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Auth.Enabled {
				return fmt.Errorf("auth is disabled in %s", *configPath)
			}

			a, err := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.TTL, cfg.Auth.Issuer)
			if err != nil {
				return err
			}

			token, err := a.Mint(user, name, nil)
			if err != nil {
				return fmt.Errorf("mint token: %w", err)
			}

			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user id to mint for")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}
