package tui_test

import (
	"strings"
	"testing"

	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/tui"
)

func TestResultListModel_AddIsImmutable(t *testing.T) {
	empty := tui.NewResultListModel(nil)
	one := empty.Add(domain.DeploymentResult{DeploymentID: "a", Outcome: domain.OutcomeCancelled, Message: "deployment cancelled"})

	if len(empty.Results()) != 0 {
		t.Errorf("expected original model unchanged, got %d results", len(empty.Results()))
	}
	if len(one.Results()) != 1 {
		t.Fatalf("expected 1 result, got %d", len(one.Results()))
	}
	if !strings.Contains(one.View(), "○ a") {
		t.Errorf("expected cancelled icon, got:\n%s", one.View())
	}
}

func TestResultListModel_ShowsFailureMessage(t *testing.T) {
	m := tui.NewResultListModel([]domain.DeploymentResult{{
		DeploymentID: "b",
		Outcome:      domain.OutcomeFailed,
		Message:      "deployment failed: download failed",
	}})

	if !strings.Contains(m.View(), "✗ b") || !strings.Contains(m.View(), "download failed") {
		t.Errorf("expected failure line, got:\n%s", m.View())
	}
}
