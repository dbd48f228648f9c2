package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/happytimeshere/kirby/pkg/models"
)

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	lockedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	staleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	unlockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const timeLayout = "2006-01-02 15:04:05"

// renderStatus formats a lock status for one resource. broken marks a
// pending notice for the viewer.
func renderStatus(id string, st models.LockStatus, broken bool) string {
	var b strings.Builder

	b.WriteString(id)
	b.WriteString("  ")
	if !st.Locked {
		b.WriteString(unlockedStyle.Render("unlocked"))
	} else {
		who := string(st.User)
		if st.Email != "" {
			who = fmt.Sprintf("%s <%s>", st.User, st.Email)
		}
		b.WriteString(lockedStyle.Render("locked"))
		b.WriteString(fmt.Sprintf(" by %s since %s", who, time.Unix(st.Time, 0).Format(timeLayout)))
		if st.CanUnlock {
			b.WriteString(" ")
			b.WriteString(staleStyle.Render("(stale, can be broken)"))
		}
	}

	if broken {
		b.WriteString("\n")
		b.WriteString(noticeStyle.Render(fmt.Sprintf("Your lock on %s was broken by another user. Run 'klock resolve' after reviewing their changes.", id)))
	}
	return b.String()
}
