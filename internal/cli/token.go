package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"livequiz-service/internal/auth"
	"livequiz-service/internal/config"
)

// NewTokenCmd mints a bearer token for local testing.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		userID string
		admin  bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			issuer := auth.NewIssuer(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
			token, err := issuer.Issue(userID, admin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "teacher", "user id to put in the token")
	cmd.Flags().BoolVar(&admin, "admin", false, "allow the user to launch quizzes")
	return cmd
}
