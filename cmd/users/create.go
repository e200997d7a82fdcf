package users

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matchatime/sessiond/internal/services/iam"
)

var (
	emailFlag    string
	usernameFlag string
	nameFlag     string
	passwordFlag string
	stdinFlag    bool
	verifiedFlag bool
	userFlag     string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a local account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if emailFlag == "" {
			return fmt.Errorf("--email flag is required")
		}
		if usernameFlag == "" {
			return fmt.Errorf("--username flag is required")
		}

		password := passwordFlag
		if stdinFlag {
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Fprint(cmd.ErrOrStderr(), "Enter password: ")
			if scanner.Scan() {
				password = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
		}
		if password == "" {
			return fmt.Errorf("password is required (use --password or --stdin)")
		}

		bundle, err := openBundle(cmd)
		if err != nil {
			return err
		}
		defer bundle.Close()

		ctx := cmd.Context()
		result, err := bundle.Service.Register(ctx, iam.RegisterInput{
			Username: usernameFlag,
			Email:    emailFlag,
			Password: password,
			Name:     nameFlag,
		}, iam.ClientInfo{DeviceInfo: "sessiond-cli"})
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		user := result.User
		if verifiedFlag && !user.EmailVerified {
			if err := bundle.Users.MarkEmailVerified(ctx, user.ID); err != nil {
				return fmt.Errorf("failed to mark email verified: %w", err)
			}
			user.EmailVerified = true
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "User created successfully!")
		fmt.Fprintln(out, "----------------------------------------")
		fmt.Fprintf(out, "User ID:  %s\n", user.ID)
		fmt.Fprintf(out, "Email:    %s\n", user.Email)
		fmt.Fprintf(out, "Username: %s\n", user.Username)
		fmt.Fprintf(out, "Verified: %t\n", user.EmailVerified)
		fmt.Fprintln(out, "----------------------------------------")
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Mark an account's email as verified",
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
		if user.EmailVerified {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is already verified\n", user.Email)
			return nil
		}
		if err := bundle.Users.MarkEmailVerified(ctx, user.ID); err != nil {
			return fmt.Errorf("failed to mark email verified: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Verified %s\n", user.Email)
		return nil
	},
}
