package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CloudCompile/cloudgptapi-sub000/auth"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Issue a session token signed with auth.session_secret",
		Long: `Issue a session token for local testing. The token is accepted in
the session cookie or as a Bearer token.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Auth.SessionSecret == "" {
				return fmt.Errorf("auth.session_secret is not configured")
			}

			user, _ := cmd.Flags().GetString("user")
			plan, _ := cmd.Flags().GetString("plan")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := auth.NewSessionVerifier(cfg.Auth.SessionSecret).Issue(user, plan, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "user id (required)")
	cmd.Flags().String("plan", "free", "plan claim")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
