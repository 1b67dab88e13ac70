package pipeline

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/process"
)

// BundleSpec describes a family shipped as one archive holding a ready
// server tree.
type BundleSpec struct {
	Family domain.Family
	// StripTopLevel drops the archive's single root directory.
	StripTopLevel bool
	// Executables are probed in order, relative to the extracted root.
	Executables []string
	// Scripts are glob patterns of launch helpers to mark executable.
	Scripts []string
	// Gate builds the first-run command for the located executable.
	// Nil skips the gate.
	Gate func(root, executable string) process.Command
}

// Bundle runs resolve, download, extract, optional gate, relocate.
type Bundle struct {
	env  *Env
	spec BundleSpec
}

// NewBundle creates a pipeline for spec.
func NewBundle(env *Env, spec BundleSpec) *Bundle {
	return &Bundle{env: env, spec: spec}
}

// NewFactorio creates the factorio pipeline. The headless tarball needs
// neither installer nor first run.
func NewFactorio(env *Env) *Bundle {
	return NewBundle(env, BundleSpec{
		Family:        domain.FamilyFactorio,
		StripTopLevel: true,
		Executables: []string{
			"bin/x64/factorio",
			"bin/x64/factorio.exe",
			"factorio/bin/x64/factorio",
		},
	})
}

// TModLoaderTriggers end the first run: the license prompt, or the world
// picker the server stops at once its runtime is installed.
var TModLoaderTriggers = []string{"eula", "Choose World"}

// NewTModLoader creates the tModLoader pipeline. The first run of the start
// script installs the .NET runtime the server needs, so it is gated.
func NewTModLoader(env *Env) *Bundle {
	executables := []string{"start-tModLoaderServer.sh", "start-tModLoaderServer.bat"}
	if runtime.GOOS == "windows" {
		executables = []string{"start-tModLoaderServer.bat", "start-tModLoaderServer.sh"}
	}
	return NewBundle(env, BundleSpec{
		Family:      domain.FamilyTModLoader,
		Executables: executables,
		Scripts:     []string{"*.sh", "LaunchUtils/*.sh"},
		Gate:        tModLoaderGate,
	})
}

func tModLoaderGate(root, exe string) process.Command {
	c := process.Command{Dir: root, Triggers: TModLoaderTriggers}
	if strings.EqualFold(filepath.Ext(exe), ".bat") {
		c.Path, c.Args = "cmd", []string{"/c", filepath.Base(exe), "-nosteam"}
	} else {
		c.Path, c.Args = "/bin/sh", []string{filepath.Base(exe), "-nosteam"}
	}
	return c
}

// Family returns the bundle's family.
func (b *Bundle) Family() domain.Family {
	return b.spec.Family
}

// Run provisions the bundle into the deployment's target directory.
func (b *Bundle) Run(d Deployment, req Request) (domain.Details, error) {
	s := newStages(b.env, d, b.Family())
	var details domain.Details

	var dl domain.Download
	if err := s.step(StageResolve, func() (err error) {
		dl, err = s.resolve(b.Family(), req.Selector)
		return err
	}); err != nil {
		return details, err
	}
	details.Version = dl.Version

	var work string
	if err := s.step(StageWorkdir, func() (err error) {
		work, err = s.workdir()
		return err
	}); err != nil {
		return details, err
	}
	root := filepath.Join(work, "server")

	var file string
	if err := s.step(StageDownload, func() (err error) {
		file, err = s.fetch(dl, work)
		return err
	}); err != nil {
		return details, err
	}

	var exe string
	if err := s.step(StageExtract, func() error {
		if err := s.extract(file, root, b.spec.StripTopLevel); err != nil {
			return err
		}
		return b.prepare(s, root, &exe)
	}); err != nil {
		return details, err
	}

	if b.spec.Gate != nil {
		if err := s.step(StageGate, func() error {
			return s.gate(b.spec.Gate(root, exe))
		}); err != nil {
			return details, err
		}
	}

	if err := s.step(StageRelocate, func() (err error) {
		details.SkippedFiles, err = s.relocate(root, d.TargetDir())
		return err
	}); err != nil {
		return details, err
	}
	details.Executable = inTarget(root, d.TargetDir(), exe)

	s.cleanup(work)
	return details, nil
}

func (b *Bundle) prepare(s *stages, root string, exe *string) error {
	for _, pattern := range b.spec.Scripts {
		matches, _ := filepath.Glob(filepath.Join(root, filepath.FromSlash(pattern)))
		for _, m := range matches {
			if err := makeExecutable(m); err != nil {
				s.warn("could not mark %s executable: %v", filepath.Base(m), err)
			}
		}
	}

	found, ok := probe(root, b.spec.Executables)
	if !ok {
		return fmt.Errorf("%w: no server executable found in %s archive", domain.ErrExtractionFailed, b.Family())
	}
	if err := makeExecutable(found); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	*exe = found
	s.info("found server executable %s", filepath.Base(found))
	return nil
}
