// Package deploy is the programmatic surface of the deployment core:
// start, cancel and list deployments, with progress delivered to a sink.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/metrics"
	"github.com/waabox/gamedeck/internal/pipeline"
	"github.com/waabox/gamedeck/internal/registry"
)

// ErrTargetRequired is returned by Start when no target directory is given.
var ErrTargetRequired = errors.New("target directory is required")

// Service runs pipelines for registered families.
type Service struct {
	registry  *registry.Registry
	pipelines *pipeline.Registry
	metrics   *metrics.Metrics
	log       *slog.Logger

	wg sync.WaitGroup
}

// NewService wires a service. m may be nil.
func NewService(reg *registry.Registry, pipelines *pipeline.Registry, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry:  reg,
		pipelines: pipelines,
		metrics:   m,
		log:       logger,
	}
}

// Handle follows one started deployment.
type Handle struct {
	id     string
	done   chan struct{}
	result domain.DeploymentResult
}

// ID returns the deployment identifier.
func (h *Handle) ID() string {
	return h.id
}

// Done is closed once the deployment reached a terminal outcome and was
// cleaned up.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the deployment finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (domain.DeploymentResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return domain.DeploymentResult{}, ctx.Err()
	}
}

// Start begins a deployment and returns immediately. Progress goes to sink;
// the terminal result is available through the handle.
func (s *Service) Start(family domain.Family, targetDir string, req pipeline.Request, sink domain.ProgressSink, suggestedID string) (*Handle, error) {
	p, err := s.pipelines.Lookup(family)
	if err != nil {
		return nil, err
	}
	if targetDir == "" {
		return nil, ErrTargetRequired
	}
	target, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, fmt.Errorf("resolving target directory: %w", err)
	}

	d, err := s.registry.Create(family, target, sink, suggestedID)
	if err != nil {
		return nil, err
	}
	s.metrics.DeploymentStarted(string(family))
	s.log.Info("deployment started", "deployment", d.ID(), "family", string(family), "target", target)

	h := &Handle{id: d.ID(), done: make(chan struct{})}
	s.wg.Add(1)
	go s.run(d, p, req, h)
	return h, nil
}

// run is the single finalizing path: cleanup always runs before the result
// is published.
func (s *Service) run(d *registry.Deployment, p pipeline.Pipeline, req pipeline.Request, h *Handle) {
	defer s.wg.Done()
	log := s.log.With("deployment", d.ID(), "family", string(d.Family()))

	start := time.Now()
	details, err := p.Run(d, req)
	d.Finish()
	s.registry.Finalize(d)

	result := domain.NewResult(d.ID(), d.TargetDir(), details, err)
	result.Duration = time.Since(start)

	switch result.Outcome {
	case domain.OutcomeCompleted:
		log.Info("deployment completed", "duration", result.Duration, "executable", details.Executable)
		d.Report(result.Message, domain.LevelSuccess)
	case domain.OutcomeCancelled:
		log.Info("deployment cancelled", "duration", result.Duration)
		d.Report(result.Message, domain.LevelWarn)
	default:
		log.Error("deployment failed", "duration", result.Duration, "error", err)
		d.Report(result.Message, domain.LevelError)
	}
	s.metrics.DeploymentFinished(string(d.Family()), string(result.Outcome))

	h.result = result
	close(h.done)
}

// Cancel requests cancellation. It returns false for unknown ids.
func (s *Service) Cancel(id string) bool {
	return s.registry.Cancel(id)
}

// CancelAll cancels every active deployment and returns how many.
func (s *Service) CancelAll() int {
	return s.registry.CancelAll()
}

// List returns the active deployments ordered by start time.
func (s *Service) List() []domain.Summary {
	return s.registry.List()
}

// Families returns the families the service can deploy.
func (s *Service) Families() []domain.Family {
	return s.pipelines.Families()
}

// Wait blocks until every started deployment has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
