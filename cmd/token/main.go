// Command token mints bearer tokens for the filter API, signed with the
// server's jwt_secret.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"filterspec/internal/auth"
	"filterspec/internal/config"
)

const defaultSecret = "changeme-secret"

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		configPath string
		roles      []string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a bearer token for the filter API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.Config
				err error
			)
			if configPath != "" {
				cfg, err = config.LoadFile(configPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.JWTSecret == defaultSecret {
				log.Println("WARN: signing with the default jwt_secret")
			}

			tok, err := auth.IssueToken(cfg.JWTSecret, args[0], roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default: app.yaml in . or ../..)")
	cmd.Flags().StringSliceVarP(&roles, "role", "r", nil, "role to grant, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	return cmd
}
