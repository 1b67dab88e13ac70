package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/waabox/gamedeck/internal/cancel"
)

// ExtractTar unpacks a tar stream, optionally compressed, into destDir.
// With stripTopLevel the first path component of every entry is dropped,
// which flattens archives such as factorio/bin/x64/factorio.
func ExtractTar(token *cancel.Token, archivePath, destDir string, compression Compression, stripTopLevel bool) error {
	if err := token.Check(); err != nil {
		return err
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return failure(token, archivePath, err)
	}
	defer f.Close()
	stop := token.OnCancelled(func() { f.Close() })
	defer stop()

	var stream io.Reader = f
	switch compression {
	case CompressionGzip:
		gr, err := gzip.NewReader(f)
		if err != nil {
			return failure(token, archivePath, err)
		}
		defer gr.Close()
		stream = gr
	case CompressionXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return failure(token, archivePath, err)
		}
		stream = xr
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return failure(token, archivePath, err)
	}
	tr := tar.NewReader(stream)
	for {
		if err := token.Check(); err != nil {
			return failure(token, archivePath, err)
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return failure(token, archivePath, err)
		}
		name := hdr.Name
		if stripTopLevel {
			name = stripFirst(name)
			if name == "" {
				continue
			}
			if hdr.Typeflag == tar.TypeLink {
				hdr.Linkname = stripFirst(hdr.Linkname)
			}
		}
		if err := extractTarEntry(destDir, name, hdr, tr); err != nil {
			return failure(token, archivePath, err)
		}
	}
}

func stripFirst(name string) string {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

func extractTarEntry(destDir, name string, hdr *tar.Header, r io.Reader) error {
	target, err := safeJoin(destDir, name)
	if err != nil {
		return err
	}
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)
	case tar.TypeReg:
		if err := writeFile(target, r, os.FileMode(hdr.Mode)); err != nil {
			return fmt.Errorf("writing %s: %w", hdr.Name, err)
		}
	case tar.TypeSymlink:
		return writeSymlink(destDir, target, hdr.Linkname)
	case tar.TypeLink:
		src, err := safeJoin(destDir, hdr.Linkname)
		if err != nil {
			return err
		}
		in, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("resolving hard link %s: %w", hdr.Name, err)
		}
		defer in.Close()
		return writeFile(target, in, os.FileMode(hdr.Mode))
	}
	return nil
}
