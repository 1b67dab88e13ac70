package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/waabox/gamedeck/internal/domain"
)

// Backend is the deployment surface the monitor drives.
type Backend interface {
	List() []domain.Summary
	Cancel(id string) bool
	CancelAll() int
}

// DeploymentsLoadedMsg carries a fresh list of active deployments.
// It is exported so that tests can inject it directly into AppModel.Update.
type DeploymentsLoadedMsg struct {
	Deployments []domain.Summary
}

// ProgressMsg carries one progress event from a running deployment.
type ProgressMsg struct {
	Event domain.ProgressEvent
}

// FinishedMsg carries the terminal result of a deployment.
type FinishedMsg struct {
	Result domain.DeploymentResult
}

// tickMsg is sent by the refresh ticker.
type tickMsg struct{}

// cancelResultMsg is sent when a cancel request returns.
type cancelResultMsg struct {
	id string
	ok bool
}

const maxLogLines = 500

// viewState indicates the current navigation level.
type viewState int

const (
	viewDeployments viewState = iota
	viewLogs
)

// AppModel is the root Bubbletea model for gamedeck.
type AppModel struct {
	backend Backend
	// Navigation
	view viewState
	// Deployment level
	list     DeploymentListModel
	results  ResultListModel
	selected domain.Summary
	// Progress log, newest last
	events []domain.ProgressEvent
	// General state
	status        string
	width         int
	height        int
	confirmAction string
	// Log viewer state
	logOffset int
}

// NewAppModel creates the root application model.
func NewAppModel(backend Backend) AppModel {
	return AppModel{
		backend: backend,
		list:    NewDeploymentListModel(nil),
		results: NewResultListModel(nil),
	}
}

// Init triggers the initial deployment load.
func (m AppModel) Init() tea.Cmd {
	return tea.Batch(m.loadDeployments(), tickEvery(time.Second))
}

func (m AppModel) loadDeployments() tea.Cmd {
	return func() tea.Msg {
		return DeploymentsLoadedMsg{Deployments: m.backend.List()}
	}
}

func (m AppModel) cancelDeployment(id string) tea.Cmd {
	return func() tea.Msg {
		return cancelResultMsg{id: id, ok: m.backend.Cancel(id)}
	}
}

func (m AppModel) cancelAllAndQuit() tea.Cmd {
	return func() tea.Msg {
		m.backend.CancelAll()
		return tea.QuitMsg{}
	}
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(_ time.Time) tea.Msg {
		return tickMsg{}
	})
}

// Update handles all incoming messages and key events.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case DeploymentsLoadedMsg:
		m.list = m.list.UpdateDeployments(msg.Deployments)
		m.selected = m.list.Selected()

	case ProgressMsg:
		m.events = append(m.events, msg.Event)
		if len(m.events) > maxLogLines {
			m.events = m.events[len(m.events)-maxLogLines:]
		}

	case FinishedMsg:
		m.results = m.results.Add(msg.Result)
		return m, m.loadDeployments()

	case tickMsg:
		return m, tea.Batch(m.loadDeployments(), tickEvery(time.Second))

	case cancelResultMsg:
		if msg.ok {
			m.status = fmt.Sprintf("cancellation requested for %s", shortID(msg.id))
		} else {
			m.status = fmt.Sprintf("deployment %s is no longer active", shortID(msg.id))
		}
		return m, m.loadDeployments()

	case tea.KeyMsg:
		if m.confirmAction != "" {
			switch msg.String() {
			case "y":
				m.confirmAction = ""
				if m.selected.ID == "" {
					return m, nil
				}
				return m, m.cancelDeployment(m.selected.ID)
			case "q", "ctrl+c":
				return m, m.cancelAllAndQuit()
			default:
				m.confirmAction = ""
				return m, nil
			}
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, m.cancelAllAndQuit()
		case "ctrl+r":
			return m, m.loadDeployments()
		}
		switch m.view {
		case viewDeployments:
			return m.updateDeployments(msg)
		case viewLogs:
			return m.updateLogs(msg)
		}
	}
	return m, nil
}

func (m AppModel) updateDeployments(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "down":
		m.list = m.list.MoveDown()
		m.selected = m.list.Selected()
	case "up":
		m.list = m.list.MoveUp()
		m.selected = m.list.Selected()
	case "l", "enter":
		m.view = viewLogs
		m.logOffset = len(m.logLines()) - m.visibleLogLines()
		if m.logOffset < 0 {
			m.logOffset = 0
		}
	case "x":
		if m.selected.ID != "" {
			m.confirmAction = "cancel"
		}
	}
	return m, nil
}

func (m AppModel) updateLogs(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	maxOffset := len(m.logLines()) - 1
	if maxOffset < 0 {
		maxOffset = 0
	}
	switch msg.String() {
	case "down":
		if m.logOffset < maxOffset {
			m.logOffset++
		}
	case "up":
		if m.logOffset > 0 {
			m.logOffset--
		}
	case "pgup":
		m.logOffset -= m.visibleLogLines()
		if m.logOffset < 0 {
			m.logOffset = 0
		}
	case "pgdown":
		m.logOffset += m.visibleLogLines()
		if m.logOffset > maxOffset {
			m.logOffset = maxOffset
		}
	case "g":
		m.logOffset = 0
	case "G":
		m.logOffset = maxOffset
	case "esc":
		m.view = viewDeployments
		m.logOffset = 0
	}
	return m, nil
}

// View renders the full TUI.
func (m AppModel) View() string {
	if m.view == viewLogs {
		return m.renderLogView()
	}

	header := fmt.Sprintf(" gamedeck | %d active deployment(s)\n", len(m.list.Deployments()))
	separator := "────────────────────────────────────────────────────────────\n"

	title := " Deployments\n"
	body := m.list.View() + "\n"
	if finished := m.results.View(); finished != "" {
		body += separator + " Finished\n" + finished
	}

	recent := m.tail(m.recentLogLines())
	logPane := separator + " Progress\n" + strings.Join(recent, "\n") + "\n"

	statusBar := ""
	if m.status != "" {
		statusBar = separator + " " + m.status + "\n"
	}

	footer := " ↑/↓: navigate   l: logs   x: cancel   ctrl+r: refresh   q: quit\n"
	if m.confirmAction == "cancel" {
		footer = fmt.Sprintf(" Cancel deployment %s (%s)? [y/N] \n",
			shortID(m.selected.ID), m.selected.Family)
	}
	return header + separator + title + body + logPane + statusBar + separator + footer
}

// logLines renders the events of the selected deployment, or every event
// when nothing is selected.
func (m AppModel) logLines() []string {
	lines := make([]string, 0, len(m.events))
	for _, e := range m.events {
		if m.selected.ID != "" && e.DeploymentID != m.selected.ID {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s %s %s",
			e.Time.Format("15:04:05"), shortID(e.DeploymentID), levelIcon(e.Level), e.Message))
	}
	return lines
}

func (m AppModel) tail(n int) []string {
	lines := m.logLines()
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

func (m AppModel) recentLogLines() int {
	if m.height > 0 {
		if n := m.height / 3; n > 3 {
			return n
		}
	}
	return 8
}

// visibleLogLines returns the number of log lines visible in the current terminal height.
func (m AppModel) visibleLogLines() int {
	lines := m.height - 4 // account for header, separator, and footer
	if lines < 10 {
		return 10
	}
	return lines
}

// renderLogView renders the fullscreen log viewer.
func (m AppModel) renderLogView() string {
	target := "all deployments"
	if m.selected.ID != "" {
		target = fmt.Sprintf("%s %s", m.selected.Family, shortID(m.selected.ID))
	}
	header := fmt.Sprintf(" gamedeck  [logs] %s\n", target)
	separator := "────────────────────────────────────────────────────────────\n"
	footer := " ↑/↓: scroll   PgUp/PgDn: page   g/G: top/bottom   esc: back\n"

	lines := m.logLines()
	if len(lines) == 0 {
		return header + separator + "No progress yet.\n" + separator + footer
	}
	start := m.logOffset
	if start < 0 {
		start = 0
	}
	if start >= len(lines) {
		start = len(lines) - 1
	}
	end := start + m.visibleLogLines()
	if end > len(lines) {
		end = len(lines)
	}

	body := strings.Join(lines[start:end], "\n")
	return header + separator + body + "\n" + separator + footer
}

// NewProgram creates the Bubbletea program for backend. Callers forward
// ProgressMsg and FinishedMsg to it with Send.
func NewProgram(backend Backend) *tea.Program {
	return tea.NewProgram(NewAppModel(backend), tea.WithAltScreen())
}

// Run runs p until the user quits. Exits on error.
func Run(p *tea.Program) {
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "gamedeck error: %v\n", err)
		os.Exit(1)
	}
}
