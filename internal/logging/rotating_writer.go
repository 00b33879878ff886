package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter appends to a dated log file and starts a new one each UTC
// day or when the current file would exceed MaxBytes.
//
// For BasePath logs/relayd.log the files are
//
//	logs/relayd-2026-10-15.log
//	logs/relayd-2026-10-15-2.log
//
// and BasePath itself is kept as a symlink to the active file.
type RotatingWriter struct {
	BasePath string
	MaxBytes int64

	mu    sync.Mutex
	day   string
	index int
	file  *os.File
	size  int64
	now   func() time.Time
}

// NewRotatingWriter opens the first file for basePath. A basePath of "-"
// discards everything.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	rw := &RotatingWriter{BasePath: basePath, MaxBytes: maxBytes, now: time.Now}
	if err := rw.rotate(0); err != nil {
		return nil, err
	}
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) rotate(incoming int64) error {
	today := w.now().UTC().Format("2006-01-02")
	switch {
	case w.file == nil || w.day != today:
		w.day, w.index = today, 1
	case w.MaxBytes > 0 && w.size > 0 && w.size+incoming > w.MaxBytes:
		w.index++
	default:
		return nil
	}
	return w.open()
}

// CurrentPath returns the file being written.
func (w *RotatingWriter) CurrentPath() string {
	dir, name := filepath.Split(w.BasePath)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	if w.index > 1 {
		return filepath.Join(dir, fmt.Sprintf("%s-%s-%d%s", base, w.day, w.index, ext))
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", base, w.day, ext))
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	if dir := filepath.Dir(w.BasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	path := w.CurrentPath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.size = 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	w.file = f
	w.link(path)
	return nil
}

// link points BasePath at the active file; failures are ignored.
func (w *RotatingWriter) link(target string) {
	if dest, err := os.Readlink(w.BasePath); err == nil && dest == target {
		return
	}
	_ = os.Remove(w.BasePath)
	_ = os.Symlink(target, w.BasePath)
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
