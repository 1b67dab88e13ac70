package process

import (
	"bytes"
	"regexp"
	"strings"
	"sync"
)

const maxLine = 64 * 1024

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// lineWriter splits a byte stream into lines and hands each to fn.
// stdout and stderr share one lineWriter so lines keep their arrival order.
type lineWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	fn  func(string)
}

func newLineWriter(fn func(string)) *lineWriter {
	return &lineWriter{fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			if len(data) >= maxLine {
				w.emit(string(data))
				w.buf.Reset()
			}
			return len(p), nil
		}
		line := string(data[:i])
		w.buf.Next(i + 1)
		w.emit(line)
	}
}

// Flush emits a trailing line that was not newline-terminated.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r")
	line = ansiPattern.ReplaceAllString(line, "")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.fn(line)
}
