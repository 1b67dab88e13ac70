package pipeline_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/waabox/gamedeck/internal/cancel"
	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/pipeline"
	"github.com/waabox/gamedeck/internal/process"
)

type fakeDeployment struct {
	id     string
	token  *cancel.Token
	target string

	mu       sync.Mutex
	messages []string
	levels   []domain.Level
	stages   []string
	temps    []string
	procs    []*process.Handle
}

func newDeployment(t *testing.T) *fakeDeployment {
	t.Helper()
	return &fakeDeployment{
		id:     "test",
		token:  cancel.New(context.Background()),
		target: filepath.Join(t.TempDir(), "target"),
	}
}

func (d *fakeDeployment) ID() string           { return d.id }
func (d *fakeDeployment) Token() *cancel.Token { return d.token }
func (d *fakeDeployment) TargetDir() string    { return d.target }

func (d *fakeDeployment) Report(message string, level domain.Level) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, message)
	d.levels = append(d.levels, level)
}

func (d *fakeDeployment) SetStage(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stages = append(d.stages, name)
}

func (d *fakeDeployment) TrackTempDir(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.temps = append(d.temps, path)
}

func (d *fakeDeployment) TrackProcess(h *process.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.procs = append(d.procs, h)
}

func (d *fakeDeployment) warnings() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for i, l := range d.levels {
		if l == domain.LevelWarn {
			out = append(out, d.messages[i])
		}
	}
	return out
}

// serveFiles serves name -> body and returns the server.
func serveFiles(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type file struct {
	name string
	body string
	mode os.FileMode
}

func zipBytes(t *testing.T, files []file) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		hdr := &zip.FileHeader{Name: f.name, Method: zip.Deflate}
		mode := f.mode
		if mode == 0 {
			mode = 0o644
		}
		hdr.SetMode(mode)
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = w.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarXzBytes(t *testing.T, files []file) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(xw)
	for _, f := range files {
		mode := f.mode
		if mode == 0 {
			mode = 0o644
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     f.name,
			Mode:     int64(mode),
			Size:     int64(len(f.body)),
			Typeflag: tar.TypeReg,
			ModTime:  time.Unix(0, 0),
		}))
		_, err := tw.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, xw.Close())
	return buf.Bytes()
}

// fakeJava writes a shell script standing in for the java launcher.
// It reports version and, when run with -jar, behaves like a server that
// stops at the license prompt or like an installer that writes run.sh.
func fakeJava(t *testing.T, version string) string {
	t.Helper()
	script := `#!/bin/sh
if [ "$1" = "-version" ]; then
  echo 'openjdk version "` + version + `" 2024-01-16' >&2
  exit 0
fi
if [ "$3" = "--installServer" ]; then
  printf '#!/bin/sh\necho "Please agree to the EULA"\nwhile true; do sleep 0.1; done\n' > run.sh
  echo "installed"
  exit 0
fi
echo "[Server thread/INFO]: You need to agree to the EULA in order to run the server."
while true; do sleep 0.1; done
`
	path := filepath.Join(t.TempDir(), "java")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newEnv(t *testing.T, resolver domain.Resolver) *pipeline.Env {
	t.Helper()
	return &pipeline.Env{
		Resolver:    resolver,
		Supervisor:  process.NewSupervisor(500 * time.Millisecond),
		TempRoot:    t.TempDir(),
		GateTimeout: 10 * time.Second,
	}
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
