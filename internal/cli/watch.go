package cli

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/happytimeshere/kirby/internal/core"
	"github.com/happytimeshere/kirby/pkg/models"
	"github.com/spf13/cobra"
)

var watchInterval time.Duration

type watchModel struct {
	res      models.Resource
	viewer   models.UserID
	interval time.Duration
	open     func(models.Resource) core.LockManager

	status  models.LockStatus
	broken  bool
	checked time.Time
	polled  bool
}

// lockPolledMsg carries a fresh reading of the lock back to the model.
// scheduled marks polls started by the ticker; only those schedule the
// next tick.
type lockPolledMsg struct {
	status    models.LockStatus
	broken    bool
	at        time.Time
	scheduled bool
}

type watchTickMsg time.Time

func newWatchModel(res models.Resource, viewer models.UserID, interval time.Duration, open func(models.Resource) core.LockManager) watchModel {
	return watchModel{
		res:      res,
		viewer:   viewer,
		interval: interval,
		open:     open,
	}
}

func (m watchModel) Init() tea.Cmd {
	return m.poll(true)
}

// poll reads the lock through a freshly opened manager so that changes
// made by other processes are seen.
func (m watchModel) poll(scheduled bool) tea.Cmd {
	return func() tea.Msg {
		mgr := m.open(m.res)
		return lockPolledMsg{
			status:    mgr.Get(m.res.ID, m.viewer),
			broken:    m.viewer != "" && mgr.WasBrokenFor(m.res.ID, m.viewer),
			at:        time.Now(),
			scheduled: scheduled,
		}
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.poll(false)
		}

	case lockPolledMsg:
		m.status = msg.status
		m.broken = msg.broken
		m.checked = msg.at
		m.polled = true
		if msg.scheduled {
			return m, m.tick()
		}
		return m, nil

	case watchTickMsg:
		return m, m.poll(true)
	}

	return m, nil
}

func (m watchModel) View() string {
	title := titleStyle.Render(" klock watch ")
	help := helpStyle.Render("r: refresh | q: quit")

	if !m.polled {
		return fmt.Sprintf("%s\n\n  Checking %s...\n\n%s", title, m.res.ID, help)
	}

	checked := dimStyle.Render(fmt.Sprintf("checked %s, every %s", m.checked.Format("15:04:05"), m.interval))
	return fmt.Sprintf("%s\n\n  %s\n\n  %s\n\n%s", title, renderStatus(m.res.ID, m.status, m.broken), checked, help)
}

var watchCmd = &cobra.Command{
	Use:   "watch <path>",
	Short: "Watch the lock status of a content item",
	Long: `Poll the lock status of a content item and redraw it until you quit.

Refresh immediately with r, quit with q.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireWorkspace(); err != nil {
			return err
		}
		if watchInterval <= 0 {
			return fmt.Errorf("--interval must be positive, got %s", watchInterval)
		}

		res, err := Workspace.Resolve(args[0])
		if err != nil {
			return err
		}

		model := newWatchModel(res, callerID(), watchInterval, Workspace.ManagerFor)
		p := tea.NewProgram(model, tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "Polling interval")
	rootCmd.AddCommand(watchCmd)
}
