package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/waabox/gamedeck/internal/domain"
)

// DeploymentListModel is an immutable Bubbletea-compatible model for the
// active deployments panel.
type DeploymentListModel struct {
	deployments []domain.Summary
	cursor      int
}

// NewDeploymentListModel creates a list model with the given deployments.
func NewDeploymentListModel(deployments []domain.Summary) DeploymentListModel {
	return DeploymentListModel{deployments: deployments, cursor: 0}
}

// UpdateDeployments returns a new model with fresh data, keeping the cursor
// on the same deployment when it is still listed.
func (m DeploymentListModel) UpdateDeployments(deployments []domain.Summary) DeploymentListModel {
	selected := m.Selected().ID
	m.deployments = deployments
	m.cursor = 0
	for i, d := range deployments {
		if d.ID == selected {
			m.cursor = i
			break
		}
	}
	return m
}

// MoveDown returns a new model with the cursor moved down by one.
func (m DeploymentListModel) MoveDown() DeploymentListModel {
	if m.cursor < len(m.deployments)-1 {
		m.cursor++
	}
	return m
}

// MoveUp returns a new model with the cursor moved up by one.
func (m DeploymentListModel) MoveUp() DeploymentListModel {
	if m.cursor > 0 {
		m.cursor--
	}
	return m
}

// SelectedIndex returns the current cursor position.
func (m DeploymentListModel) SelectedIndex() int {
	return m.cursor
}

// Selected returns the highlighted deployment, or a zero Summary when the
// list is empty.
func (m DeploymentListModel) Selected() domain.Summary {
	if len(m.deployments) == 0 {
		return domain.Summary{}
	}
	return m.deployments[m.cursor]
}

// Deployments returns the listed deployments.
func (m DeploymentListModel) Deployments() []domain.Summary {
	return m.deployments
}

// View renders the deployment list as a string.
func (m DeploymentListModel) View() string {
	if len(m.deployments) == 0 {
		return "No active deployments."
	}
	var sb strings.Builder
	for i, d := range m.deployments {
		prefix := "  "
		if i == m.cursor {
			prefix = "> "
		}
		stage := d.Stage
		if stage == "" {
			stage = "starting"
		}
		sb.WriteString(fmt.Sprintf("%s● %s %-10s %-13s %-8s %s\n",
			prefix,
			shortID(d.ID),
			d.Family,
			stage,
			formatElapsed(d.StartTime),
			d.TargetDir,
		))
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatElapsed(t time.Time) string {
	if t.IsZero() {
		return "--"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
