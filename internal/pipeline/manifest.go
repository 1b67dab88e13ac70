package pipeline

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/waabox/gamedeck/internal/domain"
)

// ManifestName is the index file at the root of a .mrpack archive.
const ManifestName = "modrinth.index.json"

// Manifest is a parsed modrinth.index.json.
type Manifest struct {
	FormatVersion int               `json:"formatVersion"`
	Game          string            `json:"game"`
	VersionID     string            `json:"versionId"`
	Name          string            `json:"name"`
	Summary       string            `json:"summary,omitempty"`
	Files         []ManifestFile    `json:"files"`
	Dependencies  map[string]string `json:"dependencies"`
}

// ManifestFile is one file the pack downloads.
type ManifestFile struct {
	Path      string            `json:"path"`
	Hashes    map[string]string `json:"hashes"`
	Env       *FileEnv          `json:"env,omitempty"`
	Downloads []string          `json:"downloads"`
	FileSize  int64             `json:"fileSize"`
}

// FileEnv holds per-side support: required, optional or unsupported.
type FileEnv struct {
	Client string `json:"client"`
	Server string `json:"server"`
}

// ServerSide reports whether the file belongs on a server.
func (f ManifestFile) ServerSide() bool {
	return f.Env == nil || f.Env.Server != "unsupported"
}

// ParseManifest decodes and validates an index. Every failure matches
// domain.ErrManifestInvalid.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrManifestInvalid, err)
	}
	if m.FormatVersion != 1 {
		return nil, fmt.Errorf("%w: unsupported format version %d", domain.ErrManifestInvalid, m.FormatVersion)
	}
	if m.Game != "minecraft" {
		return nil, fmt.Errorf("%w: unsupported game %q", domain.ErrManifestInvalid, m.Game)
	}
	if m.Dependencies["minecraft"] == "" {
		return nil, fmt.Errorf("%w: missing minecraft dependency", domain.ErrManifestInvalid)
	}
	for i, f := range m.Files {
		if f.Path == "" || strings.Contains(f.Path, `\`) || !filepath.IsLocal(filepath.FromSlash(f.Path)) {
			return nil, fmt.Errorf("%w: file %d has unsafe path %q", domain.ErrManifestInvalid, i, f.Path)
		}
		if len(f.Downloads) == 0 {
			return nil, fmt.Errorf("%w: file %s has no download", domain.ErrManifestInvalid, f.Path)
		}
		if f.Hashes["sha1"] == "" && f.Hashes["sha512"] == "" {
			return nil, fmt.Errorf("%w: file %s has no hash", domain.ErrManifestInvalid, f.Path)
		}
	}
	return &m, nil
}

// MinecraftVersion returns the game version the pack targets.
func (m *Manifest) MinecraftVersion() string {
	return m.Dependencies["minecraft"]
}

var loaderKeys = []struct {
	key  string
	name string
}{
	{"neoforge", "neoforge"},
	{"forge", "forge"},
	{"fabric-loader", "fabric"},
	{"quilt-loader", "quilt"},
}

// Loader returns the declared mod loader and its version. Packs without a
// loader are "vanilla" at the minecraft version.
func (m *Manifest) Loader() (string, string) {
	for _, l := range loaderKeys {
		if v := m.Dependencies[l.key]; v != "" {
			return l.name, v
		}
	}
	return "vanilla", m.MinecraftVersion()
}

// LoaderSelector is the selector used to resolve a loader's server jar:
// "<minecraft>" for vanilla, "<loader>:<minecraft>:<loader version>" otherwise.
func LoaderSelector(loader, minecraft, version string) string {
	if loader == "vanilla" {
		return minecraft
	}
	return loader + ":" + minecraft + ":" + version
}
