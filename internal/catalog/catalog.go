// Package catalog implements domain.Resolver: static entries from the
// configuration, direct URLs, and GitHub release assets.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/waabox/gamedeck/internal/domain"
)

// Entry pins a selector of a family to a download.
type Entry struct {
	Family   domain.Family
	Selector string
	URL      string
	Version  string
}

// Static resolves selectors from a fixed list of entries.
type Static struct {
	entries []Entry
}

// NewStatic creates a Static resolver. An entry whose selector is empty
// also answers the "latest" selector.
func NewStatic(entries []Entry) *Static {
	return &Static{entries: entries}
}

// Resolve returns the first entry matching family and selector.
func (s *Static) Resolve(_ context.Context, family domain.Family, selector string) (domain.Download, error) {
	want := normalize(selector)
	for _, e := range s.entries {
		if e.Family != family || normalize(e.Selector) != want {
			continue
		}
		version := e.Version
		if version == "" {
			version = e.Selector
		}
		return domain.Download{URL: e.URL, Version: version, FileName: fileName(e.URL)}, nil
	}
	return domain.Download{}, fmt.Errorf("%s %q: %w", family, selector, domain.ErrNotFound)
}

func normalize(selector string) string {
	s := strings.ToLower(strings.TrimSpace(selector))
	if s == "" {
		return "latest"
	}
	return s
}

// Direct treats the selector itself as the download URL.
type Direct struct{}

// Resolve accepts http, https and file URLs. The version is taken from the
// file name.
func (Direct) Resolve(_ context.Context, family domain.Family, selector string) (domain.Download, error) {
	u, err := url.Parse(selector)
	if err != nil || u.Path == "" {
		return domain.Download{}, fmt.Errorf("%s %q: %w", family, selector, domain.ErrNotFound)
	}
	switch u.Scheme {
	case "http", "https", "file":
	default:
		return domain.Download{}, fmt.Errorf("%s %q: %w", family, selector, domain.ErrNotFound)
	}
	name := fileName(selector)
	return domain.Download{URL: selector, Version: versionFromName(name), FileName: name}, nil
}

// Chain tries resolvers in order. Resolvers answering domain.ErrNotFound
// pass to the next one; any other error stops the chain.
type Chain []domain.Resolver

// Resolve returns the first successful resolution.
func (c Chain) Resolve(ctx context.Context, family domain.Family, selector string) (domain.Download, error) {
	for _, r := range c {
		dl, err := r.Resolve(ctx, family, selector)
		if err == nil {
			return dl, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Download{}, err
		}
	}
	return domain.Download{}, fmt.Errorf("no download for %s %q: %w", family, selector, domain.ErrNotFound)
}

func fileName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

var archiveSuffixes = []string{".tar.gz", ".tar.xz", ".tgz", ".zip", ".jar", ".mrpack", ".tar"}

// versionFromName strips known archive suffixes and a leading family name:
// "factorio_headless_x64_1.1.110.tar.xz" gives "1.1.110".
func versionFromName(name string) string {
	lower := strings.ToLower(name)
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(lower, s) {
			name = name[:len(name)-len(s)]
			break
		}
	}
	if i := strings.LastIndexAny(name, "_-"); i >= 0 && i+1 < len(name) {
		rest := name[i+1:]
		if rest[0] >= '0' && rest[0] <= '9' || rest[0] == 'v' {
			return rest
		}
	}
	return name
}
