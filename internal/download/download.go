// Package download streams remote artifacts to disk.
//
// A download never leaves a partial file behind: on cancellation, timeout or
// any I/O failure the destination is removed before the error is returned.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/waabox/gamedeck/internal/cancel"
	"github.com/waabox/gamedeck/internal/domain"
	"github.com/waabox/gamedeck/internal/metrics"
)

// DefaultTimeout is the ceiling applied to a single download, independent of cancellation.
const DefaultTimeout = 15 * time.Minute

// Progress describes how much of a download has been written.
// Total is -1 when the server did not announce a length.
type Progress struct {
	Loaded     int64
	Total      int64
	Percentage float64
}

// DownloadError is returned for every non-cancellation failure.
// It matches domain.ErrDownloadFailed with errors.Is.
type DownloadError struct {
	URL    string
	Status string
	Err    error
}

func (e *DownloadError) Error() string {
	switch {
	case e.Status != "" && e.Err != nil:
		return fmt.Sprintf("download %s failed: %s: %v", e.URL, e.Status, e.Err)
	case e.Status != "":
		return fmt.Sprintf("download %s failed: %s", e.URL, e.Status)
	default:
		return fmt.Sprintf("download %s failed: %v", e.URL, e.Err)
	}
}

func (e *DownloadError) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrDownloadFailed}
	}
	return []error{domain.ErrDownloadFailed, e.Err}
}

// Fetcher downloads URLs to files.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	metrics *metrics.Metrics
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client. The client's own Timeout should be zero;
// the fetcher applies its ceiling through the request context.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithTimeout sets the per-download ceiling.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMetrics records downloaded bytes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// NewFetcher creates a Fetcher. The default client also understands file:// URLs.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = defaultClient()
	}
	return f
}

func defaultClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	return &http.Client{Transport: transport}
}

// Fetch streams url into dest, creating dest's parent directory if needed.
// onProgress may be nil; it is called after every chunk when the total size is known.
func (f *Fetcher) Fetch(token *cancel.Token, url, dest string, onProgress func(Progress)) (err error) {
	if err := token.Check(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &DownloadError{URL: url, Err: fmt.Errorf("creating destination directory: %w", err)}
	}

	ctx, cancelTimeout := context.WithTimeout(token.Context(), f.timeout)
	defer cancelTimeout()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &DownloadError{URL: url, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", "gamedeck")

	resp, err := f.client.Do(req)
	if err != nil {
		return f.classify(ctx, token, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &DownloadError{URL: url, Status: resp.Status}
	}

	out, err := os.Create(dest)
	if err != nil {
		return &DownloadError{URL: url, Err: fmt.Errorf("creating %s: %w", dest, err)}
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(dest)
		}
	}()

	reader := &progressReader{
		reader:     resp.Body,
		token:      token,
		total:      resp.ContentLength,
		onProgress: onProgress,
		metrics:    f.metrics,
	}
	if _, err = io.Copy(out, reader); err != nil {
		return f.classify(ctx, token, url, err)
	}
	if resp.ContentLength > 0 && reader.loaded != resp.ContentLength {
		err = &DownloadError{URL: url, Err: fmt.Errorf("short body: got %d of %d bytes", reader.loaded, resp.ContentLength)}
		return err
	}
	if err = out.Close(); err != nil {
		return &DownloadError{URL: url, Err: fmt.Errorf("closing %s: %w", dest, err)}
	}
	return nil
}

func (f *Fetcher) classify(ctx context.Context, token *cancel.Token, url string, err error) error {
	if token.Cancelled() || errors.Is(err, domain.ErrCancelled) {
		return fmt.Errorf("downloading %s: %w", url, domain.ErrCancelled)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &DownloadError{URL: url, Err: fmt.Errorf("timed out after %s", f.timeout)}
	}
	return &DownloadError{URL: url, Err: err}
}

// progressReader wraps the response body to report progress and observe cancellation per chunk.
type progressReader struct {
	reader     io.Reader
	token      *cancel.Token
	total      int64
	loaded     int64
	onProgress func(Progress)
	metrics    *metrics.Metrics
}

func (pr *progressReader) Read(p []byte) (int, error) {
	if err := pr.token.Check(); err != nil {
		return 0, err
	}
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.loaded += int64(n)
		pr.metrics.AddDownloaded(int64(n))
		if pr.onProgress != nil && pr.total > 0 {
			pr.onProgress(Progress{
				Loaded:     pr.loaded,
				Total:      pr.total,
				Percentage: float64(pr.loaded) * 100 / float64(pr.total),
			})
		}
	}
	return n, err
}
