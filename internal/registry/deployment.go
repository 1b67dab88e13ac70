package registry

import (
	"sync"
	"time"

	"github.com/waabox/gamedeck/internal/cancel"
	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/process"
)

// Deployment is one in-flight deployment. Only its owning pipeline mutates
// it; the registry reads it for listing, cancellation and cleanup.
type Deployment struct {
	id        string
	family    domain.Family
	targetDir string
	startTime time.Time
	token     *cancel.Token
	sink      domain.ProgressSink

	mu       sync.Mutex
	stage    string
	tempDirs []string
	procs    []*process.Handle

	done        chan struct{}
	finishOnce  sync.Once
	cleanupOnce sync.Once
}

// ID returns the deployment identifier.
func (d *Deployment) ID() string { return d.id }

// Family returns the game family being deployed.
func (d *Deployment) Family() domain.Family { return d.family }

// TargetDir returns the directory the server is installed into.
func (d *Deployment) TargetDir() string { return d.targetDir }

// StartTime returns when the deployment was created.
func (d *Deployment) StartTime() time.Time { return d.startTime }

// Token returns the deployment's cancellation token.
func (d *Deployment) Token() *cancel.Token { return d.token }

// Report delivers a progress event to the caller's sink.
func (d *Deployment) Report(message string, level domain.Level) {
	d.sink(domain.ProgressEvent{
		DeploymentID: d.id,
		Message:      message,
		Level:        level,
		Time:         time.Now(),
	})
}

// SetStage records the stage currently running.
func (d *Deployment) SetStage(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stage = name
}

// Stage returns the stage currently running.
func (d *Deployment) Stage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stage
}

// TrackTempDir registers a directory to remove at cleanup.
func (d *Deployment) TrackTempDir(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tempDirs = append(d.tempDirs, path)
}

// TrackProcess registers a process to kill at cleanup if still alive.
func (d *Deployment) TrackProcess(h *process.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.procs = append(d.procs, h)
}

// TempDirs returns the tracked temp directories in creation order.
func (d *Deployment) TempDirs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tempDirs...)
}

// Processes returns the tracked process handles.
func (d *Deployment) Processes() []*process.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*process.Handle(nil), d.procs...)
}

// Finish marks the pipeline as returned. Calling it again is a no-op.
func (d *Deployment) Finish() {
	d.finishOnce.Do(func() { close(d.done) })
}

// Done is closed once Finish has been called.
func (d *Deployment) Done() <-chan struct{} {
	return d.done
}

// Summary returns the public view of the deployment.
func (d *Deployment) Summary() domain.Summary {
	return domain.Summary{
		ID:        d.id,
		Family:    d.family,
		TargetDir: d.targetDir,
		StartTime: d.startTime,
		Stage:     d.Stage(),
	}
}
