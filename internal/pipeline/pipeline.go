// Package pipeline provisions game servers. Every family runs the same
// stage toolkit (resolve, workdir, fetch, install, gate, relocate, cleanup)
// and differs only in how it picks artifacts and launch commands.
package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/waabox/gamedeck/internal/cancel"
	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/download"
	"github.com/waabox/gamedeck/internal/metrics"
	"github.com/waabox/gamedeck/internal/process"
)

// Deployment is the view of an in-flight deployment a pipeline works on.
// Temp dirs and processes must be tracked before the creating stage returns.
type Deployment interface {
	ID() string
	Token() *cancel.Token
	TargetDir() string
	Report(message string, level domain.Level)
	SetStage(name string)
	TrackTempDir(path string)
	TrackProcess(h *process.Handle)
}

// Request carries the caller's family specific inputs.
type Request struct {
	// Selector picks what to install: a version, a URL or a catalog key.
	Selector string
	Options  map[string]string
}

// Option returns the named option or def when unset.
func (r Request) Option(name, def string) string {
	if v, ok := r.Options[name]; ok && v != "" {
		return v
	}
	return def
}

// Pipeline provisions one game family.
type Pipeline interface {
	Family() domain.Family
	Run(d Deployment, req Request) (domain.Details, error)
}

// Env holds the collaborators shared by every pipeline.
type Env struct {
	Resolver   domain.Resolver
	Fetcher    *download.Fetcher
	Supervisor *process.Supervisor
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// TempRoot is where working directories are created. Empty means os.TempDir().
	TempRoot string
	// JavaPath overrides the java lookup on PATH.
	JavaPath string

	GateTimeout       time.Duration
	InstallTimeout    time.Duration
	ParallelDownloads int
}

const (
	defaultGateTimeout       = 2 * time.Minute
	defaultInstallTimeout    = 10 * time.Minute
	defaultParallelDownloads = 4
)

func (e *Env) gateTimeout() time.Duration {
	if e.GateTimeout > 0 {
		return e.GateTimeout
	}
	return defaultGateTimeout
}

func (e *Env) installTimeout() time.Duration {
	if e.InstallTimeout > 0 {
		return e.InstallTimeout
	}
	return defaultInstallTimeout
}

func (e *Env) parallelDownloads() int {
	if e.ParallelDownloads > 0 {
		return e.ParallelDownloads
	}
	return defaultParallelDownloads
}

func (e *Env) tempRoot() string {
	if e.TempRoot != "" {
		return e.TempRoot
	}
	return os.TempDir()
}

func (e *Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Env) fetcher() *download.Fetcher {
	if e.Fetcher != nil {
		return e.Fetcher
	}
	return download.NewFetcher(download.WithMetrics(e.Metrics))
}

func (e *Env) supervisor() *process.Supervisor {
	if e.Supervisor != nil {
		return e.Supervisor
	}
	return process.NewSupervisor(process.DefaultGrace)
}

// Registry maps game families to pipelines.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[domain.Family]Pipeline
}

// NewRegistry creates an empty pipeline registry.
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[domain.Family]Pipeline)}
}

// NewDefaultRegistry registers the four built-in families.
func NewDefaultRegistry(env *Env) *Registry {
	r := NewRegistry()
	mc := NewMinecraft(env)
	r.Register(mc)
	r.Register(NewFactorio(env))
	r.Register(NewTModLoader(env))
	r.Register(NewMrpack(env, mc))
	return r
}

// Register associates p with its family, replacing any previous pipeline.
func (r *Registry) Register(p Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[p.Family()] = p
}

// Lookup returns the pipeline for family.
func (r *Registry) Lookup(family domain.Family) (Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownFamily, family)
	}
	return p, nil
}

// Families returns the registered families in lexical order.
func (r *Registry) Families() []domain.Family {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Family, 0, len(r.pipelines))
	for f := range r.pipelines {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
