package tui

import (
	"fmt"
	"strings"

	"github.com/waabox/gamedeck/internal/domain"
)

// ResultListModel is an immutable model for the finished deployments panel.
type ResultListModel struct {
	results []domain.DeploymentResult
}

// NewResultListModel creates a result list model.
func NewResultListModel(results []domain.DeploymentResult) ResultListModel {
	return ResultListModel{results: results}
}

// Add returns a new model with r appended.
func (m ResultListModel) Add(r domain.DeploymentResult) ResultListModel {
	results := make([]domain.DeploymentResult, 0, len(m.results)+1)
	results = append(results, m.results...)
	m.results = append(results, r)
	return m
}

// Results returns the finished deployments in completion order.
func (m ResultListModel) Results() []domain.DeploymentResult {
	return m.results
}

// View renders one line per finished deployment.
func (m ResultListModel) View() string {
	if len(m.results) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, r := range m.results {
		duration := "--"
		if r.Duration > 0 {
			duration = fmt.Sprintf("%ds", int(r.Duration.Seconds()))
		}
		detail := r.Message
		if r.Success && r.Details.Executable != "" {
			detail = r.Details.Executable
		}
		sb.WriteString(fmt.Sprintf("  %s %s %-6s %s\n",
			outcomeIcon(r.Outcome),
			shortID(r.DeploymentID),
			duration,
			truncate(detail, 60),
		))
	}
	return sb.String()
}

func outcomeIcon(o domain.Outcome) string {
	switch o {
	case domain.OutcomeCompleted:
		return "✓"
	case domain.OutcomeFailed:
		return "✗"
	case domain.OutcomeCancelled:
		return "○"
	default:
		return "?"
	}
}

func levelIcon(l domain.Level) string {
	switch l {
	case domain.LevelSuccess:
		return "✓"
	case domain.LevelError:
		return "✗"
	case domain.LevelWarn:
		return "!"
	default:
		return "·"
	}
}
