package pipeline

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/waabox/gamedeck/internal/archive"
	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/download"
	"github.com/waabox/gamedeck/internal/process"
)

// Stage names reported through Deployment.SetStage and stage metrics.
const (
	StageResolve   = "resolve"
	StageCheck     = "prerequisites"
	StageWorkdir   = "workdir"
	StageDownload  = "download"
	StageExtract   = "extract"
	StageManifest  = "manifest"
	StageOverrides = "overrides"
	StageMods      = "mods"
	StageInstall   = "install"
	StageGate      = "gate"
	StageRelocate  = "relocate"
	StageCleanup   = "cleanup"
)

// DefaultTriggers match the license prompt printed on a server's first run.
var DefaultTriggers = []string{"eula"}

// stages is the toolkit shared by every family. One value serves one run.
type stages struct {
	env    *Env
	d      Deployment
	family domain.Family
	log    *slog.Logger
}

func newStages(env *Env, d Deployment, family domain.Family) *stages {
	return &stages{
		env:    env,
		d:      d,
		family: family,
		log:    env.logger().With("deployment", d.ID(), "family", string(family)),
	}
}

// step checks the token, then runs fn as the named stage.
func (s *stages) step(name string, fn func() error) error {
	if err := s.d.Token().Check(); err != nil {
		return err
	}
	s.d.SetStage(name)
	s.log.Debug("stage started", "stage", name)
	done := s.env.Metrics.TimeStage(string(s.family), name)
	defer done()
	return fn()
}

func (s *stages) info(format string, args ...any) {
	s.d.Report(fmt.Sprintf(format, args...), domain.LevelInfo)
}

func (s *stages) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.log.Warn(msg)
	s.d.Report(msg, domain.LevelWarn)
}

// cancelled maps any error observed after cancellation to ErrCancelled.
func (s *stages) cancelled(err error) error {
	if err != nil && s.d.Token().Cancelled() && !errors.Is(err, domain.ErrCancelled) {
		return fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	return err
}

func (s *stages) resolve(family domain.Family, selector string) (domain.Download, error) {
	if s.env.Resolver == nil {
		return domain.Download{}, fmt.Errorf("resolving %s %q: no resolver configured: %w", family, selector, domain.ErrNotFound)
	}
	dl, err := s.env.Resolver.Resolve(s.d.Token().Context(), family, selector)
	if err != nil {
		return domain.Download{}, s.cancelled(fmt.Errorf("resolving %s %q: %w", family, selector, err))
	}
	if dl.FileName == "" {
		dl.FileName = fileNameFromURL(dl.URL)
	}
	dl.FileName = filepath.Base(dl.FileName)
	return dl, nil
}

// workdir creates a temp directory and tracks it before returning.
func (s *stages) workdir() (string, error) {
	root := s.env.tempRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("creating temp root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "gamedeck-"+string(s.family)+"-")
	if err != nil {
		return "", fmt.Errorf("creating working directory: %w", err)
	}
	s.d.TrackTempDir(dir)
	s.log.Debug("working directory created", "dir", dir)
	return dir, nil
}

// fetch downloads dl into dir and returns the file path. Progress is
// reported in ten percent steps.
func (s *stages) fetch(dl domain.Download, dir string) (string, error) {
	dest := filepath.Join(dir, dl.FileName)
	s.info("downloading %s", dl.FileName)
	lastStep := -1
	err := s.env.fetcher().Fetch(s.d.Token(), dl.URL, dest, func(p download.Progress) {
		if step := int(p.Percentage) / 10; step > lastStep {
			lastStep = step
			s.info("downloading %s: %d%%", dl.FileName, step*10)
		}
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

func (s *stages) extract(archivePath, dest string, stripTopLevel bool) error {
	s.info("extracting %s", filepath.Base(archivePath))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	return archive.Extract(s.d.Token(), archivePath, dest, stripTopLevel)
}

// supervise runs c with tracking and line forwarding wired in.
func (s *stages) supervise(c process.Command) (process.Result, error) {
	c.OnStart = func(h *process.Handle) {
		s.d.TrackProcess(h)
	}
	c.OnLine = func(line string) {
		s.log.Debug("process output", "line", line)
		s.d.Report(line, domain.LevelInfo)
	}
	return s.env.supervisor().Run(s.d.Token(), c)
}

// install runs an installer to completion.
func (s *stages) install(c process.Command) error {
	s.info("running installer %s", filepath.Base(lastArg(c)))
	c.Triggers = nil
	c.HardTimeout = s.env.installTimeout()
	res, err := s.supervise(c)
	if err != nil {
		return fmt.Errorf("installing: %w", err)
	}
	if res.Outcome == process.TimedOut {
		s.warn("installer did not finish within %s, continuing", c.HardTimeout)
	}
	return nil
}

// gate runs the server once until the license prompt appears.
func (s *stages) gate(c process.Command) error {
	s.info("starting server for first run")
	if len(c.Triggers) == 0 {
		c.Triggers = DefaultTriggers
	}
	if c.HardTimeout == 0 {
		c.HardTimeout = s.env.gateTimeout()
	}
	res, err := s.supervise(c)
	if err != nil {
		return fmt.Errorf("first run: %w", err)
	}
	switch res.Outcome {
	case process.TriggerSeen:
		s.info("first-run prompt reached (%s), server stopped", res.TriggerLine)
	case process.TimedOut:
		s.warn("server did not reach the license prompt within %s, stopped", c.HardTimeout)
	default:
		s.info("server exited on its own")
	}
	return nil
}

// relocate moves the contents of src into dst file by file and returns the
// number of entries that vanished before they could be moved.
func (s *stages) relocate(src, dst string) (int, error) {
	s.info("moving files into %s", dst)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return 0, fmt.Errorf("%w: creating %s: %v", domain.ErrMoveFailed, dst, err)
	}
	m := mover{token: s.d.Token().Check, vanished: func(p string) {
		s.warn("skipped %s: no longer exists", p)
	}}
	if err := m.moveDir(src, dst); err != nil {
		return m.skipped, err
	}
	return m.skipped, nil
}

// cleanup removes the working directory once everything has been relocated.
// It runs even if the token fired after relocation. Failures are logged, not
// returned; the registry removes tracked directories again on finalize.
func (s *stages) cleanup(dir string) {
	s.d.SetStage(StageCleanup)
	defer s.env.Metrics.TimeStage(string(s.family), StageCleanup)()
	if err := os.RemoveAll(dir); err != nil {
		s.log.Warn("removing working directory failed", "dir", dir, "error", err)
	}
}

type mover struct {
	token    func() error
	vanished func(path string)
	skipped  int
}

func (m *mover) moveDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.skip(src)
			return nil
		}
		return fmt.Errorf("%w: reading %s: %v", domain.ErrMoveFailed, src, err)
	}
	for _, e := range entries {
		if err := m.token(); err != nil {
			return err
		}
		if err := m.move(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (m *mover) move(src, dst string) error {
	info, err := os.Lstat(src)
	if errors.Is(err, fs.ErrNotExist) {
		m.skip(src)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrMoveFailed, src, err)
	}

	if info.IsDir() {
		if existing, err := os.Lstat(dst); err == nil && existing.IsDir() {
			if err := m.moveDir(src, dst); err != nil {
				return err
			}
			os.Remove(src)
			return nil
		}
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if _, err := os.Lstat(src); errors.Is(err, fs.ErrNotExist) {
		m.skip(src)
		return nil
	}
	if err := copyTree(src, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrMoveFailed, src, err)
	}
	if err := os.RemoveAll(src); err != nil {
		return fmt.Errorf("%w: removing %s: %v", domain.ErrMoveFailed, src, err)
	}
	return nil
}

func (m *mover) skip(p string) {
	m.skipped++
	if m.vanished != nil {
		m.vanished(p)
	}
}

// copyTree is the fallback when rename crosses filesystems.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			os.Remove(target)
			return os.Symlink(link, target)
		default:
			return copyFile(p, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// probe returns the first candidate that exists under root.
func probe(root string, candidates []string) (string, bool) {
	for _, c := range candidates {
		p := filepath.Join(root, filepath.FromSlash(c))
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

func makeExecutable(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	return os.Chmod(p, info.Mode().Perm()|0o755)
}

// inTarget maps a path under root to the same path under target.
func inTarget(root, target, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return filepath.Join(target, rel)
}

func fileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return "download"
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}

func lastArg(c process.Command) string {
	for i := len(c.Args) - 1; i >= 0; i-- {
		if !strings.HasPrefix(c.Args[i], "-") {
			return c.Args[i]
		}
	}
	return c.Path
}
