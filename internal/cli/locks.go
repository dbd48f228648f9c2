package cli

import (
	"encoding/json"
	"fmt"

	"github.com/happytimeshere/kirby/internal/core"
	"github.com/happytimeshere/kirby/pkg/models"
	"github.com/spf13/cobra"
)

var statusJSON bool

// lockOp is a single lock transition applied for caller.
type lockOp func(m core.LockManager, id string, caller models.UserID) error

func requireWorkspace() error {
	if Workspace == nil {
		return fmt.Errorf("workspace not initialized")
	}
	return nil
}

// authenticate resolves the acting user against the registry.
func authenticate() (models.User, error) {
	u, err := Workspace.Authenticate(callerID())
	if err != nil {
		return models.User{}, fmt.Errorf("%w (pass --user or set KLOCK_USER)", err)
	}
	return u, nil
}

// mutate authenticates the caller and applies op to the resource at path,
// retrying on version conflicts. It returns the manager that performed the
// final attempt.
func mutate(path string, op lockOp) (core.LockManager, models.Resource, models.User, error) {
	if err := requireWorkspace(); err != nil {
		return nil, models.Resource{}, models.User{}, err
	}

	user, err := authenticate()
	if err != nil {
		return nil, models.Resource{}, models.User{}, err
	}

	res, err := Workspace.Resolve(path)
	if err != nil {
		return nil, models.Resource{}, models.User{}, err
	}

	var last core.LockManager
	err = Workspace.Mutate(res, func(m core.LockManager) error {
		last = m
		return op(m, res.ID, user.ID)
	})
	if err != nil {
		return nil, res, user, err
	}
	return last, res, user, nil
}

var lockCmd = &cobra.Command{
	Use:   "lock <path>",
	Short: "Lock a content item for editing",
	Long: `Lock a content item so that other users see it as being edited.

Locking an item you already hold refreshes the lock time. Locking fails if
another user holds the lock.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, res, user, err := mutate(args[0], func(m core.LockManager, id string, u models.UserID) error {
			return m.Acquire(id, u)
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Locked %s\n", res.ID)
		if m.WasBrokenFor(res.ID, user.ID) {
			fmt.Fprintln(out, noticeStyle.Render(fmt.Sprintf(
				"Note: an earlier lock of yours on %s was broken. Run 'klock resolve %s' once you have reviewed the changes.",
				res.ID, args[0])))
		}
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <path>",
	Short: "Release your lock on a content item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, res, _, err := mutate(args[0], func(m core.LockManager, id string, u models.UserID) error {
			return m.Release(id, u)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Unlocked %s\n", res.ID)
		return nil
	},
}

var breakCmd = &cobra.Command{
	Use:   "break <path>",
	Short: "Break another user's lock on a content item",
	Long: `Forcibly remove another user's lock. The owner is left a notice that
they must resolve before editing the item again.

Depending on configuration, only stale locks may be broken.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var owner models.UserID
		_, res, _, err := mutate(args[0], func(m core.LockManager, id string, u models.UserID) error {
			owner = ""
			if st, ok := m.State(id); ok && st.Lock != nil {
				owner = st.Lock.User
			}
			return m.Break(id, u)
		})
		if err != nil {
			return err
		}

		if owner == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is not locked\n", res.ID)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Broke %s's lock on %s\n", owner, res.ID)
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Acknowledge that your lock on a content item was broken",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var pending bool
		_, res, _, err := mutate(args[0], func(m core.LockManager, id string, u models.UserID) error {
			pending = m.WasBrokenFor(id, u)
			return m.Acknowledge(id, u)
		})
		if err != nil {
			return err
		}

		if !pending {
			fmt.Fprintf(cmd.OutOrStdout(), "Nothing to resolve on %s\n", res.ID)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s\n", res.ID)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <path>",
	Short: "Show the lock status of a content item",
	Long: `Show whether a content item is locked by another user.

Your own lock reads as unlocked. With --json the status is printed as
{"locked":false} or {"locked":true,"user":...,"email":...,"time":...,"canUnlock":...}.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireWorkspace(); err != nil {
			return err
		}

		res, err := Workspace.Resolve(args[0])
		if err != nil {
			return err
		}

		viewer := callerID()
		m := Workspace.ManagerFor(res)
		st := m.Get(res.ID, viewer)

		if statusJSON {
			data, err := json.Marshal(st)
			if err != nil {
				return fmt.Errorf("formatting status as JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		broken := viewer != "" && m.WasBrokenFor(res.ID, viewer)
		fmt.Fprintln(cmd.OutOrStdout(), renderStatus(res.ID, st, broken))
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")

	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(breakCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(statusCmd)
}
