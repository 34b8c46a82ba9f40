// Package statusview renders a live terminal view of a running sync
// instance, fed by the status server's unix socket.
package statusview

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/cosync/internal/engine"
	"github.com/muesli/termenv"
)

const refreshInterval = time.Second

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	connectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	connectingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	disconnectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type snapshotMsg engine.Snapshot

type errMsg struct{ err error }

type tickMsg time.Time

// Model is the bubbletea model for the watch view.
type Model struct {
	client  *http.Client
	spinner spinner.Model
	snap    *engine.Snapshot
	err     error
	plain   bool
}

// New creates a watch model reading from the status socket at socketPath.
func New(socketPath string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		client: &http.Client{
			Timeout: 2 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return net.Dial("unix", socketPath)
				},
			},
		},
		spinner: sp,
		plain:   termenv.ColorProfile() == termenv.Ascii,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		resp, err := m.client.Get("http://unix/api/state")
		if err != nil {
			return errMsg{err}
		}
		defer resp.Body.Close()
		var snap engine.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return errMsg{err}
		}
		return snapshotMsg(snap)
	}
}

func scheduleTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case snapshotMsg:
		snap := engine.Snapshot(msg)
		m.snap = &snap
		m.err = nil
		return m, scheduleTick()
	case errMsg:
		m.err = msg.err
		m.snap = nil
		return m, scheduleTick()
	case tickMsg:
		return m, m.fetch()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	s := titleStyle.Render("cosync") + "\n\n"

	if m.err != nil {
		s += errStyle.Render("not running") + "\n"
		s += dimStyle.Render(m.err.Error()) + "\n"
		s += dimStyle.Render("\npress q to quit") + "\n"
		return s
	}
	if m.snap == nil {
		return s + m.spinner.View() + " connecting to status socket...\n"
	}

	s += fmt.Sprintf("  %s %s\n", m.stateIndicator(m.snap.State), m.snap.State)
	s += fmt.Sprintf("  peer      %s\n", m.snap.LocalID)
	s += fmt.Sprintf("  port      %d\n", m.snap.Port)
	s += fmt.Sprintf("  focused   %t\n", m.snap.Focused)
	s += fmt.Sprintf("  queue     %d pending, %d dropped\n", m.snap.QueueDepth, m.snap.QueueDropped)
	s += fmt.Sprintf("  dedup     %d ids\n", m.snap.DedupSize)
	s += dimStyle.Render("\npress q to quit") + "\n"
	return s
}

func (m Model) stateIndicator(state string) string {
	if m.plain {
		return "*"
	}
	switch state {
	case "connected":
		return connectedStyle.Render("●")
	case "connecting":
		return connectingStyle.Render("◐")
	default:
		return disconnectedStyle.Render("○")
	}
}

// Run starts the watch view and blocks until the user quits.
func Run(socketPath string) error {
	p := tea.NewProgram(New(socketPath))
	_, err := p.Run()
	return err
}
