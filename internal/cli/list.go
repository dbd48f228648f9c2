package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [dir]",
	Short: "List locks and pending notices in a content directory",
	Long: `List every item tracked in a content directory's lock file.

dir is relative to the content root and defaults to the root itself.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireWorkspace(); err != nil {
			return err
		}

		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}

		m, err := Workspace.ManagerForDir(dir)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		ids := m.Resources()
		if len(ids) == 0 {
			fmt.Fprintf(out, "No locks in %s\n", dir)
			return nil
		}

		viewer := callerID()
		for _, id := range ids {
			st, _ := m.State(id)
			lock := m.Status(id, viewer)

			var state string
			switch {
			case lock.Locked:
				state = lockedStyle.Render("locked by "+string(lock.User)) +
					dimStyle.Render(" since "+time.Unix(lock.Since, 0).Format(timeLayout))
				if lock.Breakable {
					state += " " + staleStyle.Render("(stale)")
				}
			case st.Lock != nil && viewer != "" && st.Lock.User == viewer:
				state = lockedStyle.Render("locked by you")
			default:
				state = unlockedStyle.Render("unlocked")
			}

			line := fmt.Sprintf("  %-32s %s", id, state)
			if len(st.Unlock) > 0 {
				names := make([]string, len(st.Unlock))
				for i, u := range st.Unlock {
					names[i] = string(u)
				}
				line += noticeStyle.Render("  broken for: " + strings.Join(names, ", "))
			}
			fmt.Fprintln(out, line)
		}

		fmt.Fprintf(out, "\nTotal: %d\n", len(ids))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
