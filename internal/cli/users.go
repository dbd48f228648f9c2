package cli

import (
	"fmt"

	"github.com/happytimeshere/kirby/pkg/models"
	"github.com/spf13/cobra"
)

var (
	userEmail string
	userName  string
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage the users who may hold locks",
	Long: `Manage the user registry. Only registered users can lock content, and
a lock whose owner is removed from the registry counts as released.`,
}

var usersAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Register a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Users == nil {
			return fmt.Errorf("user registry not initialized")
		}

		u := models.User{ID: models.UserID(args[0]), Email: userEmail, Name: userName}
		if err := Users.AddUser(u); err != nil {
			return fmt.Errorf("adding user: %w", err)
		}
		if err := Users.Save(); err != nil {
			return fmt.Errorf("saving user registry: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Added user %s <%s>\n", u.ID, u.Email)
		return nil
	},
}

var usersRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a user from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Users == nil {
			return fmt.Errorf("user registry not initialized")
		}

		if err := Users.RemoveUser(models.UserID(args[0])); err != nil {
			return fmt.Errorf("removing user: %w", err)
		}
		if err := Users.Save(); err != nil {
			return fmt.Errorf("saving user registry: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Removed user %s\n", args[0])
		return nil
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Users == nil {
			return fmt.Errorf("user registry not initialized")
		}

		out := cmd.OutOrStdout()
		users := Users.ListUsers()
		if len(users) == 0 {
			fmt.Fprintln(out, "No users registered.")
			return nil
		}

		fmt.Fprintf(out, "%-16s %-32s %s\n", "ID", "EMAIL", "NAME")
		for _, u := range users {
			fmt.Fprintf(out, "%-16s %-32s %s\n", u.ID, u.Email, u.Name)
		}
		return nil
	},
}

func init() {
	usersAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address shown to other users (required)")
	usersAddCmd.Flags().StringVar(&userName, "name", "", "Display name")
	_ = usersAddCmd.MarkFlagRequired("email")

	usersCmd.AddCommand(usersAddCmd)
	usersCmd.AddCommand(usersRemoveCmd)
	usersCmd.AddCommand(usersListCmd)
	rootCmd.AddCommand(usersCmd)
}
