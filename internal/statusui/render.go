package statusui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/foreman-hq/fleet/internal/specialist"
	"github.com/foreman-hq/fleet/internal/store"
)

// Styles holds every lipgloss style the board renders with, bound to one
// termenv color profile so output degrades cleanly when piped to a file or
// a dumb terminal instead of a real TTY.
type Styles struct {
	Header   lipgloss.Style
	Dim      lipgloss.Style
	Running  lipgloss.Style
	Error    lipgloss.Style
	Stopped  lipgloss.Style
	Cooldown lipgloss.Style
}

// NewStyles derives a Styles set for w, using the color profile that
// termenv.EnvColorProfile detects from the environment and stdout.
func NewStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w, termenv.WithProfile(termenv.EnvColorProfile()))
	return Styles{
		Header:   r.NewStyle().Bold(true).Underline(true),
		Dim:      r.NewStyle().Faint(true),
		Running:  r.NewStyle().Foreground(lipgloss.Color("2")),
		Error:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		Stopped:  r.NewStyle().Foreground(lipgloss.Color("8")),
		Cooldown: r.NewStyle().Foreground(lipgloss.Color("3")),
	}
}

func (s Styles) statusStyle(status store.Status) lipgloss.Style {
	switch status {
	case store.StatusRunning:
		return s.Running
	case store.StatusError:
		return s.Error
	default:
		return s.Stopped
	}
}

func lifecycleSymbol(s specialist.LifecycleState) string {
	switch s {
	case specialist.StateActive:
		return "●"
	case specialist.StateIdle:
		return "○"
	case specialist.StateDead:
		return "✗"
	default:
		return "?"
	}
}

// RenderAgents renders the work-agent table as aligned text.
func (s Styles) RenderAgents(rows []AgentRow) string {
	if len(rows) == 0 {
		return s.Dim.Render("no work agents")
	}
	var b strings.Builder
	b.WriteString(s.Header.Render(fmt.Sprintf("%-22s %-8s %-12s %-10s %-6s %s", "AGENT", "STATUS", "MODEL", "PHASE", "HNDF", "IDLE")))
	b.WriteString("\n")
	for _, r := range rows {
		idle := time.Since(r.LastActivity).Round(time.Second)
		line := fmt.Sprintf("%-22s %-8s %-12s %-10s %-6d %s", r.ID, r.Status, r.Model, r.Phase, r.HandoffCount, idle)
		b.WriteString(s.statusStyle(r.Status).Render(line))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderSpecialists renders the specialist roster table as aligned text.
func (s Styles) RenderSpecialists(rows []SpecialistRow) string {
	if len(rows) == 0 {
		return s.Dim.Render("no specialists")
	}
	var b strings.Builder
	b.WriteString(s.Header.Render(fmt.Sprintf("%-2s %-16s %-6s %-6s %-5s %s", "", "ROLE", "STATE", "QUEUE", "FAIL", "")))
	b.WriteString("\n")
	for _, r := range rows {
		cooldown := ""
		if r.InCooldown {
			cooldown = s.Cooldown.Render("cooldown")
		}
		line := fmt.Sprintf("%-2s %-16s %-6s %-6d %-5d %s",
			lifecycleSymbol(r.State), r.Role, r.State, r.Queue.Depth, r.ConsecutiveFailures, cooldown)
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderHeader renders the board's title line with the snapshot timestamp.
func (s Styles) RenderHeader(snap Snapshot) string {
	return s.Header.Render(fmt.Sprintf("fleet status — %s", snap.GeneratedAt.Format(time.Kitchen)))
}
