package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/tee-scheduler/internal/config"
	"github.com/example/tee-scheduler/internal/infrastructure/crypto"
	"github.com/example/tee-scheduler/internal/infrastructure/postgres"
)

func newCredsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Manage encrypted provider credentials",
	}
	cmd.AddCommand(newCredsSetCmd())
	cmd.AddCommand(newCredsShowCmd())
	return cmd
}

func openStore(ctx context.Context) (*postgres.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Postgres.URL == "" {
		return nil, nil, fmt.Errorf("TEESCHED_POSTGRES_URL is required for credential storage")
	}
	key, err := cfg.CredKey()
	if err != nil {
		return nil, nil, err
	}
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return nil, nil, err
	}
	pool, err := postgres.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return postgres.NewStore(pool, sealer), pool.Close, nil
}

func newCredsSetCmd() *cobra.Command {
	var platform, username, password string

	c := &cobra.Command{
		Use:   "set",
		Short: "Store a platform login pair (encrypted at rest)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeFn, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			err = store.SaveCredentials(ctx, postgres.Credentials{
				Platform: platform,
				Username: username,
				Password: password,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "stored credentials for %q\n", platform)
			return nil
		},
	}

	c.Flags().StringVar(&platform, "platform", "", "provider platform (foreup or golfnow)")
	c.Flags().StringVar(&username, "username", "", "login username or email")
	c.Flags().StringVar(&password, "password", "", "login password")
	_ = c.MarkFlagRequired("platform")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}

func newCredsShowCmd() *cobra.Command {
	var platform string

	c := &cobra.Command{
		Use:   "show",
		Short: "Show the stored username for a platform (password stays hidden)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeFn, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			creds, err := store.LoadCredentials(ctx, platform)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s: %s (updated %s)\n", creds.Platform, creds.Username, creds.UpdatedAt.Format("2006-01-02 15:04"))
			return nil
		},
	}

	c.Flags().StringVar(&platform, "platform", "", "provider platform")
	_ = c.MarkFlagRequired("platform")
	return c
}
