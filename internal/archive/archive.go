// Package archive unpacks the archive formats game servers are shipped in.
//
// Every extractor checks the cancellation token between entries and closes
// the archive file when the token fires, so a long copy is interrupted at its
// next read. Files written before cancellation are left in place; callers
// extract into temp directories that are removed wholesale.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/gabriel-vasile/mimetype"

	"github.com/waabox/gamedeck/internal/cancel"
	"github.com/waabox/gamedeck/internal/domain"
)

// Format is a supported archive layout.
type Format string

const (
	FormatZip     Format = "zip"
	FormatTar     Format = "tar"
	FormatTarGzip Format = "tar.gz"
	FormatTarXz   Format = "tar.xz"
)

// Compression selects the stream decoder in front of a tar reader.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionXz
)

// UnsupportedFormatError names an archive the extractor cannot read.
type UnsupportedFormatError struct {
	Path string
	Ext  string
	MIME string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported archive format %q (%s) for %s", e.Ext, e.MIME, filepath.Base(e.Path))
}

// Is reports whether target is domain.ErrUnsupportedFormat.
func (e *UnsupportedFormatError) Is(target error) bool {
	return target == domain.ErrUnsupportedFormat
}

// DetectFormat sniffs the archive content and returns its format.
func DetectFormat(path string) (Format, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %w", domain.ErrExtractionFailed, path, err)
	}
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case m.Is("application/zip"):
			return FormatZip, nil
		case m.Is("application/gzip"):
			return FormatTarGzip, nil
		case m.Is("application/x-xz"):
			return FormatTarXz, nil
		case m.Is("application/x-tar"):
			return FormatTar, nil
		}
	}
	ext := extension(path)
	if ext == "" {
		ext = mt.Extension()
	}
	return "", &UnsupportedFormatError{Path: path, Ext: ext, MIME: mt.String()}
}

// Extract detects the format of archivePath and unpacks it into destDir.
// stripTopLevel only applies to tar formats.
func Extract(token *cancel.Token, archivePath, destDir string, stripTopLevel bool) error {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return err
	}
	switch format {
	case FormatZip:
		return ExtractZip(token, archivePath, destDir)
	case FormatTarGzip:
		return ExtractTar(token, archivePath, destDir, CompressionGzip, stripTopLevel)
	case FormatTarXz:
		return ExtractTar(token, archivePath, destDir, CompressionXz, stripTopLevel)
	default:
		return ExtractTar(token, archivePath, destDir, CompressionNone, stripTopLevel)
	}
}

func extension(path string) string {
	base := strings.ToLower(filepath.Base(path))
	for _, double := range []string{".tar.gz", ".tar.xz", ".tar.bz2", ".tar.zst"} {
		if strings.HasSuffix(base, double) {
			return double
		}
	}
	return filepath.Ext(base)
}

// safeJoin resolves name under dir and rejects entries escaping it.
// Directories already on disk are resolved with dir as the root, so a link
// extracted earlier cannot carry a later write outside dir.
func safeJoin(dir, name string) (string, error) {
	name = filepath.FromSlash(name)
	if escapes(dir, filepath.Join(dir, name)) {
		return "", fmt.Errorf("entry %q escapes destination", name)
	}
	name = filepath.Clean(name)
	parent, err := securejoin.SecureJoin(dir, filepath.Dir(name))
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", name, err)
	}
	return filepath.Join(parent, filepath.Base(name)), nil
}

func escapes(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	return err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// writeFile copies r into path with the given permissions, creating parents.
// A link already at path is replaced, not followed.
// The file is closed before writeFile returns.
func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// umask may have masked bits away
	return os.Chmod(path, perm)
}

// writeSymlink creates path -> linkname. The link target is walked on disk:
// it may not pass through another link, climb out of a directory that does
// not exist yet, or leave dest. A link may not replace a real directory.
func writeSymlink(dest, path, linkname string) error {
	if filepath.IsAbs(linkname) || strings.HasPrefix(linkname, "/") {
		return fmt.Errorf("absolute symlink %q not allowed", linkname)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if fi, err := os.Lstat(path); err == nil && fi.IsDir() {
		return fmt.Errorf("symlink %q would replace a directory", filepath.Base(path))
	}

	parts := strings.Split(filepath.ToSlash(linkname), "/")
	cur := filepath.Dir(path)
	for i, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if fi, err := os.Lstat(cur); err != nil || !fi.IsDir() {
				return fmt.Errorf("symlink %q climbs out of %q", linkname, filepath.Base(cur))
			}
			cur = filepath.Dir(cur)
		default:
			cur = filepath.Join(cur, part)
			if i < len(parts)-1 {
				if fi, err := os.Lstat(cur); err == nil && fi.Mode()&os.ModeSymlink != 0 {
					return fmt.Errorf("symlink %q passes through link %q", linkname, part)
				}
			}
		}
		if escapes(dest, cur) {
			return fmt.Errorf("symlink %q escapes destination", linkname)
		}
	}

	os.Remove(path)
	return os.Symlink(linkname, path)
}

// failure maps an extraction error, turning reads on a file closed by
// cancellation into domain.ErrCancelled.
func failure(token *cancel.Token, archivePath string, err error) error {
	if token != nil && token.Cancelled() {
		return fmt.Errorf("extracting %s: %w", filepath.Base(archivePath), domain.ErrCancelled)
	}
	if errors.Is(err, domain.ErrCancelled) || errors.Is(err, domain.ErrExtractionFailed) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrExtractionFailed, filepath.Base(archivePath), err)
}
