package statusui

import (
	"os"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

// RefreshInterval is how often the board re-collects a Snapshot while running.
const RefreshInterval = 2 * time.Second

// KeyMap is the board's key bindings.
type KeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Detail key.Binding
	Quit   key.Binding
}

// DefaultKeyMap returns the board's default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up:     key.NewBinding(key.WithKeys("up", "k")),
		Down:   key.NewBinding(key.WithKeys("down", "j")),
		Detail: key.NewBinding(key.WithKeys("enter")),
		Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c")),
	}
}

// Model is the bubbletea model for the read-only status board.
type Model struct {
	collector *Collector
	root      string
	styles    Styles

	width, height int
	keys          KeyMap
	detail        viewport.Model
	showDetail    bool

	snapshot Snapshot
	selected int
	err      error
}

// NewModel returns a Model reading from collector, rooted at root for
// handoff-context lookups in the detail pane.
func NewModel(root string, collector *Collector) *Model {
	width := terminalWidth()
	return &Model{
		collector: collector,
		root:      root,
		styles:    NewStyles(os.Stdout),
		keys:      DefaultKeyMap(),
		detail:    viewport.New(width, 10),
		width:     width,
	}
}

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

type snapshotMsg struct {
	snap Snapshot
	err  error
}

func (m *Model) refresh() tea.Cmd {
	collector := m.collector
	return func() tea.Msg {
		snap, err := collector.Snapshot()
		return snapshotMsg{snap: snap, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(time.Time) tea.Msg { return refreshTickMsg{} })
}

type refreshTickMsg struct{}

// Init starts the first snapshot fetch and the refresh ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tick())
}

// Update handles bubbletea messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.detail.Width = msg.Width
		m.detail.Height = msg.Height - 12
		if m.detail.Height < 3 {
			m.detail.Height = 3
		}

	case snapshotMsg:
		m.snapshot = msg.snap
		m.err = msg.err
		if m.selected >= len(m.snapshot.Agents) {
			m.selected = len(m.snapshot.Agents) - 1
		}
		if m.selected < 0 {
			m.selected = 0
		}
		if m.showDetail {
			m.loadDetail()
		}

	case refreshTickMsg:
		return m, tea.Batch(m.refresh(), tick())

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.snapshot.Agents)-1 {
				m.selected++
			}
		case key.Matches(msg, m.keys.Detail):
			m.showDetail = !m.showDetail
			if m.showDetail {
				m.loadDetail()
			}
		}
	}

	var cmd tea.Cmd
	if m.showDetail {
		m.detail, cmd = m.detail.Update(msg)
	}
	return m, cmd
}

func (m *Model) loadDetail() {
	if m.selected < 0 || m.selected >= len(m.snapshot.Agents) {
		m.detail.SetContent("")
		return
	}
	agent := m.snapshot.Agents[m.selected]
	md, err := latestHandoffContext(m.root, agent.ID)
	if err != nil {
		m.detail.SetContent(m.styles.Error.Render(err.Error()))
		return
	}
	if md == "" {
		m.detail.SetContent(m.styles.Dim.Render("no handoff history"))
		return
	}
	m.detail.SetContent(renderMarkdown(md, m.detail.Width))
}

// View renders the current frame.
func (m *Model) View() string {
	out := m.styles.RenderHeader(m.snapshot) + "\n\n"
	out += m.styles.RenderAgents(m.snapshot.Agents) + "\n\n"
	out += m.styles.RenderSpecialists(m.snapshot.Specialists)
	if m.err != nil {
		out += "\n\n" + m.styles.Error.Render(m.err.Error())
	}
	if m.showDetail {
		out += "\n\n" + m.styles.Dim.Render("handoff context:") + "\n" + m.detail.View()
	}
	out += "\n\n" + m.styles.Dim.Render("↑/↓ select  enter: toggle detail  q: quit")
	return out
}
