package tokens

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/matchatime/sessiond/cmd/cmdutil"
	"github.com/matchatime/sessiond/internal/config"
	"github.com/matchatime/sessiond/internal/db/models"
)

// TokensCmd is the parent command for refresh token maintenance
var TokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Inspect and revoke refresh tokens",
}

var userFlag string

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired tokens and stale unverified accounts once",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := openBundle(cmd)
		if err != nil {
			return err
		}
		defer bundle.Close()

		report, err := bundle.Service.Cleanup(cmd.Context())
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "refresh tokens removed:   %d\n", report.RefreshTokens)
		fmt.Fprintf(out, "one-time tokens removed:  %d\n", report.OneTimeTokens)
		fmt.Fprintf(out, "unverified users removed: %d\n", report.UnverifiedUsers)
		return err
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke every live refresh token of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userFlag == "" {
			return fmt.Errorf("--user flag is required")
		}

		bundle, err := openBundle(cmd)
		if err != nil {
			return err
		}
		defer bundle.Close()

		ctx := cmd.Context()
		user, err := bundle.Service.FindUser(ctx, userFlag)
		if err != nil {
			return fmt.Errorf("failed to find user %q: %w", userFlag, err)
		}

		n, err := bundle.Service.RevokeSessions(ctx, user.ID, models.RevokedLogoutAll)
		if err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Revoked %d session(s) for %s\n", n, user.Email)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List refresh tokens of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userFlag == "" {
			return fmt.Errorf("--user flag is required")
		}

		bundle, err := openBundle(cmd)
		if err != nil {
			return err
		}
		defer bundle.Close()

		ctx := cmd.Context()
		user, err := bundle.Service.FindUser(ctx, userFlag)
		if err != nil {
			return fmt.Errorf("failed to find user %q: %w", userFlag, err)
		}
		records, err := bundle.RefreshTokens.ListByUser(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to list tokens: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tLAST USED\tEXPIRES\tSTATUS\tDEVICE")
		for _, rt := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				rt.ID,
				rt.CreatedAt.Format(time.RFC3339),
				rt.LastUsedAt.Format(time.RFC3339),
				rt.ExpiresAt.Format(time.RFC3339),
				status(rt),
				deref(rt.DeviceInfo),
			)
		}
		return w.Flush()
	},
}

func status(rt models.RefreshToken) string {
	switch {
	case rt.Revoked && rt.RevokedReason != nil:
		return "revoked (" + string(*rt.RevokedReason) + ")"
	case rt.Revoked:
		return "revoked"
	case time.Now().After(rt.ExpiresAt):
		return "expired"
	default:
		return "live"
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func openBundle(cmd *cobra.Command) (*cmdutil.IAMServiceBundle, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cmdutil.NewIAMServiceBundle(cmd.Context(), cfg, cmdutil.IAMServiceOptions{})
}

func init() {
	revokeCmd.Flags().StringVar(&userFlag, "user", "", "User id, email or username")
	listCmd.Flags().StringVar(&userFlag, "user", "", "User id, email or username")

	TokensCmd.AddCommand(cleanupCmd, revokeCmd, listCmd)
}
