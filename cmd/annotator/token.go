package main

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"

	"github.com/heimdex/window-annotator/internal/config"
	"github.com/heimdex/window-annotator/internal/db"
	"github.com/heimdex/window-annotator/internal/store"
)

const tokenLength = 32

func newTokenCmd() *cobra.Command {
	var (
		rotate     bool
		clearToken bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Show or create the API bearer token stored in the data dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			database, err := db.New(cfg.DBPath(), nil)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer database.Close()
			repo := store.NewRepository(database.Conn())
			ctx := cmd.Context()

			if clearToken {
				if err := repo.SetConfig(ctx, authTokenKey, ""); err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "stored token cleared; authentication disabled unless "+config.EnvAuthToken+" is set")
				return nil
			}

			token, err := repo.GetConfig(ctx, authTokenKey)
			if err != nil {
				return err
			}
			if token == "" || rotate {
				if token, err = nanoid.New(tokenLength); err != nil {
					return fmt.Errorf("generate token: %w", err)
				}
				if err := repo.SetConfig(ctx, authTokenKey, token); err != nil {
					return err
				}
			}
			if cfg.AuthToken() != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "note: "+config.EnvAuthToken+" is set and takes precedence")
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&rotate, "rotate", false, "replace the stored token")
	cmd.Flags().BoolVar(&clearToken, "clear", false, "remove the stored token")
	return cmd
}
