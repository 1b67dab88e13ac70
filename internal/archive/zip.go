package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/waabox/gamedeck/internal/cancel"
	"github.com/waabox/gamedeck/internal/domain"
)

// ExtractZip unpacks every entry of a zip archive into destDir.
func ExtractZip(token *cancel.Token, archivePath, destDir string) error {
	if err := token.Check(); err != nil {
		return err
	}
	rc, err := zip.OpenReader(archivePath)
	if err != nil {
		return failure(token, archivePath, err)
	}
	defer rc.Close()
	stop := token.OnCancelled(func() { rc.Close() })
	defer stop()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return failure(token, archivePath, err)
	}
	for _, f := range rc.File {
		if err := token.Check(); err != nil {
			return failure(token, archivePath, err)
		}
		if err := extractZipEntry(destDir, f.Name, f); err != nil {
			return failure(token, archivePath, err)
		}
	}
	return nil
}

// ExtractOverrides extracts only the entries under one of prefixes, re-rooted
// at destDir. Prefixes are applied in order so later ones overwrite earlier
// ones. Each entry is fully written and closed before the next is read, and
// all writes complete before the archive is closed. It returns the number of
// files written.
func ExtractOverrides(token *cancel.Token, archivePath, destDir string, prefixes ...string) (int, error) {
	if err := token.Check(); err != nil {
		return 0, err
	}
	rc, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, failure(token, archivePath, err)
	}
	defer rc.Close()
	stop := token.OnCancelled(func() { rc.Close() })
	defer stop()

	written := 0
	for _, prefix := range prefixes {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
		for _, f := range rc.File {
			if !strings.HasPrefix(f.Name, prefix) {
				continue
			}
			rel := strings.TrimPrefix(f.Name, prefix)
			if rel == "" {
				continue
			}
			if err := token.Check(); err != nil {
				return written, failure(token, archivePath, err)
			}
			if err := extractZipEntry(destDir, rel, f); err != nil {
				return written, failure(token, archivePath, err)
			}
			if !f.FileInfo().IsDir() {
				written++
			}
		}
	}
	return written, nil
}

// ReadEntry returns the content of a single zip entry, refusing entries
// larger than limit bytes.
func ReadEntry(archivePath, name string, limit int64) ([]byte, error) {
	rc, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, failure(nil, archivePath, err)
	}
	defer rc.Close()
	for _, f := range rc.File {
		if f.Name != name {
			continue
		}
		if int64(f.UncompressedSize64) > limit {
			return nil, fmt.Errorf("%w: %s is larger than %d bytes", domain.ErrExtractionFailed, name, limit)
		}
		r, err := f.Open()
		if err != nil {
			return nil, failure(nil, archivePath, err)
		}
		defer r.Close()
		data, err := io.ReadAll(io.LimitReader(r, limit))
		if err != nil {
			return nil, failure(nil, archivePath, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s in %s: %w", name, archivePath, domain.ErrNotFound)
}

func extractZipEntry(destDir, name string, f *zip.File) error {
	target, err := safeJoin(destDir, name)
	if err != nil {
		return err
	}
	info := f.FileInfo()
	if info.IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	r, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer r.Close()

	if info.Mode()&os.ModeSymlink != 0 {
		link, err := io.ReadAll(io.LimitReader(r, 4096))
		if err != nil {
			return fmt.Errorf("reading link %s: %w", f.Name, err)
		}
		return writeSymlink(destDir, target, string(link))
	}
	if err := writeFile(target, r, info.Mode()); err != nil {
		return fmt.Errorf("writing %s: %w", f.Name, err)
	}
	return nil
}
