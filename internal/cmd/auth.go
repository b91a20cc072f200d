package cmd

import (
	"time"

	"github.com/factline/cli/pkg/credentials"
	cerrors "github.com/factline/cli/pkg/errors"
	"github.com/factline/cli/pkg/output"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long:  "Manage the access token used for uploads and live status streams",
}

var authTokenCmd = &cobra.Command{
	Use:   "token <access-token>",
	Short: "Store an access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		creds := credentials.FromToken(args[0])
		if creds.IsExpired() {
			return cerrors.ValidationError("token", "already expired").
				WithSuggestion("Copy a fresh token from your account settings.")
		}
		if err := credentials.Save(creds); err != nil {
			return err
		}

		if creds.UserID != "" {
			output.PrintSuccess("Saved credentials for user %s", creds.UserID)
		} else {
			output.PrintSuccess("Saved credentials")
		}
		if !creds.ExpiresAt.IsZero() {
			output.PrintInfo("Token expires %s", creds.ExpiresAt.Local().Format(time.RFC1123))
		}
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := credentials.Delete(); err != nil {
			return err
		}
		output.PrintSuccess("Logged out")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentials.Load()
		if err != nil {
			return err
		}
		if creds == nil || creds.AccessToken == "" {
			output.PrintWarning("Not logged in")
			return nil
		}

		record := map[string]interface{}{
			"user_id": creds.UserID,
			"valid":   creds.IsValid(),
		}
		if !creds.ExpiresAt.IsZero() {
			record["expires_at"] = creds.ExpiresAt.Format(time.RFC3339)
		}
		return output.PrintRecord("Credentials", record)
	},
}

func init() {
	authCmd.AddCommand(authTokenCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
}
