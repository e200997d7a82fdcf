package users

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matchatime/sessiond/cmd/cmdutil"
	"github.com/matchatime/sessiond/internal/config"
)

// UsersCmd is the parent command for user management operations
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage local accounts",
	Long:  `Commands for managing accounts directly against the database.`,
}

func openBundle(cmd *cobra.Command) (*cmdutil.IAMServiceBundle, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cmdutil.NewIAMServiceBundle(cmd.Context(), cfg, cmdutil.IAMServiceOptions{})
}

func init() {
	createCmd.Flags().StringVar(&emailFlag, "email", "", "Email address of the user")
	createCmd.Flags().StringVar(&usernameFlag, "username", "", "Username of the user")
	createCmd.Flags().StringVar(&nameFlag, "name", "", "Display name")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password for the user (use --stdin to avoid shell history)")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")
	createCmd.Flags().BoolVar(&verifiedFlag, "verified", false, "Mark the email as verified")

	verifyCmd.Flags().StringVar(&userFlag, "user", "", "User id, email or username")

	UsersCmd.AddCommand(createCmd, verifyCmd)
}
