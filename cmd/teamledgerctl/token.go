package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"teamledger.io/internal/authn"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer token utilities",
	}
	var (
		userID string
		email  string
		ttl    time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for a user id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			issuer, err := authn.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, ttl)
			if err != nil {
				return err
			}
			token, expires, err := issuer.Issue(userID, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "user id to put in the subject claim")
	issue.Flags().StringVar(&email, "email", "", "optional email claim")
	issue.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	_ = issue.MarkFlagRequired("user")
	cmd.AddCommand(issue)
	return cmd
}
