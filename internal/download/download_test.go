package download_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/gamedeck/internal/cancel"
	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/download"
	"github.com/waabox/gamedeck/internal/metrics"
)

func TestFetch_WritesBodyAndReportsProgress(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "nested", "server.jar")
	var last download.Progress
	f := download.NewFetcher(download.WithMetrics(metrics.New()))

	err := f.Fetch(cancel.New(context.Background()), srv.URL+"/server.jar", dest, func(p download.Progress) {
		last = p
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, int64(len(payload)), last.Loaded)
	assert.Equal(t, int64(len(payload)), last.Total)
	assert.InDelta(t, 100.0, last.Percentage, 0.001)
}

func TestFetch_NonOKStatusIsDownloadFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "server.jar")
	err := download.NewFetcher().Fetch(cancel.New(context.Background()), srv.URL, dest, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDownloadFailed))
	var dlErr *download.DownloadError
	require.True(t, errors.As(err, &dlErr))
	assert.Contains(t, dlErr.Status, "404")
	assert.NoFileExists(t, dest)
}

func TestFetch_CancelMidStreamRemovesPartialFile(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.Write(bytes.Repeat([]byte("b"), 4096))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	tok := cancel.New(context.Background())
	dest := filepath.Join(t.TempDir(), "world.zip")
	err := download.NewFetcher().Fetch(tok, srv.URL, dest, func(p download.Progress) {
		if p.Loaded > 0 {
			tok.Cancel()
		}
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCancelled), "expected ErrCancelled, got %v", err)
	assert.False(t, errors.Is(err, domain.ErrDownloadFailed))
	assert.NoFileExists(t, dest)
}

func TestFetch_CancelledBeforeStartDoesNothing(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	tok := cancel.New(context.Background())
	tok.Cancel()
	dest := filepath.Join(t.TempDir(), "server.jar")

	err := download.NewFetcher().Fetch(tok, srv.URL, dest, nil)
	assert.True(t, errors.Is(err, domain.ErrCancelled))
	assert.Equal(t, 0, requests)
	assert.NoFileExists(t, dest)
}

func TestFetch_TimeoutIsDownloadFailed(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	dest := filepath.Join(t.TempDir(), "server.jar")
	f := download.NewFetcher(download.WithTimeout(200 * time.Millisecond))
	err := f.Fetch(cancel.New(context.Background()), srv.URL, dest, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDownloadFailed))
	assert.Contains(t, err.Error(), "timed out")
	assert.NoFileExists(t, dest)
}

func TestFetch_FileURL(t *testing.T) {
	src := filepath.Join(t.TempDir(), "fixture.zip")
	require.NoError(t, os.WriteFile(src, []byte("fixture"), 0o644))

	dest := filepath.Join(t.TempDir(), "copy.zip")
	err := download.NewFetcher().Fetch(cancel.New(context.Background()), "file://"+filepath.ToSlash(src), dest, nil)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "fixture", string(got))
}
