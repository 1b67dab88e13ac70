package pipeline

import (
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/waabox/gamedeck/internal/archive"
	"github.com/waabox/gamedeck/internal/cancel"
	"github.com/waabox/gamedeck/internal/domain"
)

const maxManifestSize = 16 << 20

// Mrpack installs Modrinth modpacks: overrides, server-side files and the
// loader server declared by the pack.
type Mrpack struct {
	env *Env
	mc  *Minecraft
}

// NewMrpack creates the mrpack pipeline. mc runs the loader install and
// first-run stages.
func NewMrpack(env *Env, mc *Minecraft) *Mrpack {
	return &Mrpack{env: env, mc: mc}
}

// Family returns domain.FamilyMrpack.
func (p *Mrpack) Family() domain.Family {
	return domain.FamilyMrpack
}

// Run provisions the modpack into the deployment's target directory.
func (p *Mrpack) Run(d Deployment, req Request) (domain.Details, error) {
	s := newStages(p.env, d, p.Family())
	var details domain.Details

	var dl domain.Download
	if err := s.step(StageResolve, func() (err error) {
		dl, err = s.resolve(p.Family(), req.Selector)
		return err
	}); err != nil {
		return details, err
	}

	var work string
	if err := s.step(StageWorkdir, func() (err error) {
		work, err = s.workdir()
		return err
	}); err != nil {
		return details, err
	}
	root := filepath.Join(work, "server")

	var pack string
	if err := s.step(StageDownload, func() (err error) {
		pack, err = s.fetch(dl, work)
		return err
	}); err != nil {
		return details, err
	}

	var manifest *Manifest
	if err := s.step(StageManifest, func() error {
		data, err := archive.ReadEntry(pack, ManifestName, maxManifestSize)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: %s not found in pack", domain.ErrManifestInvalid, ManifestName)
		}
		if err != nil {
			return err
		}
		manifest, err = ParseManifest(data)
		return err
	}); err != nil {
		return details, err
	}
	details.Version = manifest.VersionID
	details.LoaderType, details.LoaderVersion = manifest.Loader()
	s.info("installing %s %s for minecraft %s (%s)", manifest.Name, manifest.VersionID,
		manifest.MinecraftVersion(), details.LoaderType)

	if err := s.step(StageOverrides, func() error {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
		}
		n, err := archive.ExtractOverrides(d.Token(), pack, root, "overrides/", "server-overrides/")
		if err != nil {
			return err
		}
		s.info("extracted %d override files", n)
		return nil
	}); err != nil {
		return details, err
	}

	if err := s.step(StageMods, func() (err error) {
		details.ModCount, err = p.downloadFiles(s, root, manifest.Files)
		return err
	}); err != nil {
		return details, err
	}

	exe, err := p.installLoader(s, req, root, manifest)
	if err != nil {
		return details, err
	}

	if err := s.step(StageRelocate, func() (err error) {
		details.SkippedFiles, err = s.relocate(root, d.TargetDir())
		return err
	}); err != nil {
		return details, err
	}
	if exe != "" {
		details.Executable = inTarget(root, d.TargetDir(), exe)
	}

	s.cleanup(work)
	return details, nil
}

// installLoader fetches the loader server into root and runs the minecraft
// install and first-run stages. A loader the resolver does not know is
// reported and skipped.
func (p *Mrpack) installLoader(s *stages, req Request, root string, m *Manifest) (string, error) {
	loader, version := m.Loader()
	selector := LoaderSelector(loader, m.MinecraftVersion(), version)

	var dl domain.Download
	if err := s.step(StageResolve, func() error {
		var err error
		dl, err = s.resolve(domain.FamilyMinecraft, selector)
		if err != nil && !errors.Is(err, domain.ErrCancelled) {
			s.warn("no server found for %s %s, pack installed without a server jar: %v", loader, version, err)
			dl = domain.Download{}
			return nil
		}
		return err
	}); err != nil {
		return "", err
	}
	if dl.URL == "" {
		return "", nil
	}

	var java string
	if err := s.step(StageCheck, func() (err error) {
		java, err = p.mc.checkJava(s, req, m.MinecraftVersion())
		return err
	}); err != nil {
		return "", err
	}

	var jar string
	if err := s.step(StageDownload, func() (err error) {
		jar, err = s.fetch(dl, root)
		return err
	}); err != nil {
		return "", err
	}
	return p.mc.installAndGate(s, java, root, jar)
}

// downloadFiles fetches every server-side file with bounded parallelism and
// returns how many were installed. The first failure stops the rest.
func (p *Mrpack) downloadFiles(s *stages, root string, files []ManifestFile) (int, error) {
	var wanted []ManifestFile
	for _, f := range files {
		if f.ServerSide() {
			wanted = append(wanted, f)
		} else {
			s.log.Debug("skipping client-only file", "path", f.Path)
		}
	}
	if skipped := len(files) - len(wanted); skipped > 0 {
		s.info("skipping %d client-only files", skipped)
	}
	if len(wanted) == 0 {
		return 0, nil
	}

	token := s.d.Token()
	batch := cancel.New(token.Context())
	defer batch.Cancel()

	var (
		failOnce sync.Once
		failErr  error
		done     atomic.Int64
	)
	fail := func(err error) {
		failOnce.Do(func() {
			failErr = err
			batch.Cancel()
		})
	}

	g := new(errgroup.Group)
	g.SetLimit(p.env.parallelDownloads())
	for _, f := range wanted {
		if batch.Cancelled() {
			break
		}
		f := f
		g.Go(func() error {
			if err := batch.Check(); err != nil {
				return err
			}
			if err := p.fetchFile(batch, root, f); err != nil {
				fail(err)
				return err
			}
			n := done.Add(1)
			s.info("downloaded %s (%d/%d)", filepath.Base(f.Path), n, len(wanted))
			return nil
		})
	}
	waitErr := g.Wait()

	if err := token.Check(); err != nil {
		return int(done.Load()), err
	}
	if failErr != nil {
		return int(done.Load()), failErr
	}
	return int(done.Load()), waitErr
}

// fetchFile tries each mirror in order and verifies the file's hash.
func (p *Mrpack) fetchFile(token *cancel.Token, root string, f ManifestFile) error {
	dest := filepath.Join(root, filepath.FromSlash(f.Path))
	var lastErr error
	for _, u := range f.Downloads {
		if err := p.env.fetcher().Fetch(token, u, dest, nil); err != nil {
			if errors.Is(err, domain.ErrCancelled) {
				return err
			}
			lastErr = err
			continue
		}
		if err := verify(dest, f.Hashes); err != nil {
			os.Remove(dest)
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func verify(path string, hashes map[string]string) error {
	var h hash.Hash
	var want string
	switch {
	case hashes["sha512"] != "":
		h, want = sha512.New(), hashes["sha512"]
	case hashes["sha1"] != "":
		h, want = sha1.New(), hashes["sha1"]
	default:
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: %s checksum mismatch", domain.ErrDownloadFailed, filepath.Base(path))
	}
	return nil
}
