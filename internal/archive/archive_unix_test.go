//go:build !windows

package archive_test

import (
	"archive/tar"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/gamedeck/internal/archive"
	"github.com/waabox/gamedeck/internal/domain"
)

// A tar streamed through a pipe stalls halfway through a large entry; the
// extractor is blocked in a read when the token fires.
func TestExtractTar_CancelInterruptsBlockedRead(t *testing.T) {
	pipe := filepath.Join(t.TempDir(), "server.tar")
	require.NoError(t, syscall.Mkfifo(pipe, 0o600))

	release := make(chan struct{})
	defer close(release)
	go func() {
		w, err := os.OpenFile(pipe, os.O_WRONLY, 0)
		if err != nil {
			return
		}
		defer w.Close()
		tw := tar.NewWriter(w)
		if err := tw.WriteHeader(&tar.Header{Name: "big.bin", Mode: 0o644, Size: 64 << 20, Typeflag: tar.TypeReg}); err != nil {
			return
		}
		tw.Write(make([]byte, 1<<20))
		<-release
	}()

	dest := filepath.Join(t.TempDir(), "out")
	tok := newToken()
	result := make(chan error, 1)
	go func() {
		result <- archive.ExtractTar(tok, pipe, dest, archive.CompressionNone, false)
	}()

	require.Eventually(t, func() bool {
		info, err := os.Stat(filepath.Join(dest, "big.bin"))
		return err == nil && info.Size() > 0
	}, 5*time.Second, 10*time.Millisecond)
	tok.Cancel()

	select {
	case err := <-result:
		assert.True(t, errors.Is(err, domain.ErrCancelled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("extraction did not stop after cancellation")
	}
}
