package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/bizdesk/bizdesk/internal/auth"
	"github.com/bizdesk/bizdesk/internal/shared"
)

func newTokenCommand(deps Deps) *cobra.Command {
	var (
		subject  string
		email    string
		role     string
		clientID int64
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development bearer token with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			id := shared.Identity{UserID: subject, Email: email, Role: shared.Role(role)}
			switch id.Role {
			case shared.RoleAdmin:
			case shared.RoleClient:
				if clientID <= 0 {
					return errors.New("--client-id is required for client tokens")
				}
				id.ClientID = &clientID
			default:
				return errors.New("--role must be admin or client")
			}
			if subject == "" {
				return errors.New("--subject is required")
			}
			token, err := auth.Issue(cfg.JWTSecret, cfg.JWTIssuer, id, ttl)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "user id placed in the sub claim")
	cmd.Flags().StringVar(&email, "email", "", "optional e-mail claim")
	cmd.Flags().StringVar(&role, "role", string(shared.RoleAdmin), "admin or client")
	cmd.Flags().Int64Var(&clientID, "client-id", 0, "client id for client tokens")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
