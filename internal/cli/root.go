package cli

import (
	"fmt"
	"os"

	"github.com/happytimeshere/kirby/pkg/models"
	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// userFlag is the --user value. KLOCK_USER is used when it is empty.
var userFlag string

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "klock",
	Short: "klock - advisory edit locks for content directories",
	Long: `klock manages advisory edit locks on content items.

One user at a time holds the lock on an item. Other users see who holds it
and since when, and may break a lock once it has gone stale. The owner of a
broken lock gets a notice that must be resolved before editing again.

Locks are kept in a .lock file in each content directory.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "klock %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "Acting user id (defaults to $KLOCK_USER)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// callerID returns the user the command acts for. It may be empty.
func callerID() models.UserID {
	if userFlag != "" {
		return models.UserID(userFlag)
	}
	return models.UserID(os.Getenv("KLOCK_USER"))
}
