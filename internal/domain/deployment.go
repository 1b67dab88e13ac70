package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Family identifies a kind of game server a pipeline knows how to provision.
type Family string

const (
	FamilyMinecraft  Family = "minecraft"
	FamilyFactorio   Family = "factorio"
	FamilyTModLoader Family = "tmodloader"
	FamilyMrpack     Family = "mrpack"
)

// Families lists every built-in family in display order.
var Families = []Family{FamilyMinecraft, FamilyFactorio, FamilyTModLoader, FamilyMrpack}

// ParseFamily converts user input into a Family.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Families {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFamily, s)
}

// Outcome is the terminal state of a deployment.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// OutcomeFor classifies a pipeline error.
func OutcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, ErrCancelled):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// Details carries family specific facts about a finished deployment.
// Zero values mean "not applicable".
type Details struct {
	Version       string
	Executable    string
	LoaderType    string
	LoaderVersion string
	ModCount      int
	SkippedFiles  int
}

// DeploymentResult is the terminal report of one deployment.
type DeploymentResult struct {
	DeploymentID string
	Success      bool
	Outcome      Outcome
	Message      string
	TargetDir    string
	Details      Details
	Duration     time.Duration
}

// NewResult builds the result for a pipeline that returned err.
func NewResult(id, targetDir string, details Details, err error) DeploymentResult {
	r := DeploymentResult{
		DeploymentID: id,
		Outcome:      OutcomeFor(err),
		Details:      details,
	}
	switch r.Outcome {
	case OutcomeCompleted:
		r.Success = true
		r.TargetDir = targetDir
		r.Message = "deployment completed"
	case OutcomeCancelled:
		r.Message = ErrCancelled.Error()
	default:
		r.Message = fmt.Sprintf("deployment failed: %v", err)
	}
	return r
}

// Summary is the public view of an in-flight deployment.
type Summary struct {
	ID        string
	Family    Family
	TargetDir string
	StartTime time.Time
	Stage     string
}
