package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "[test] ", ParseLevel("warn"))
	l.Debugf("hidden %d", 1)
	l.Infof("hidden %d", 2)
	l.Warnf("shown %d", 3)
	l.Errorf("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("low-level messages leaked: %q", out)
	}
	if !strings.Contains(out, "[test] ") || !strings.Contains(out, "[WARN] shown 3") || !strings.Contains(out, "[ERROR] shown 4") {
		t.Fatalf("unexpected output %q", out)
	}

	buf.Reset()
	l.With("[test/sub] ").Errorf("x")
	if !strings.Contains(buf.String(), "[test/sub] ") {
		t.Fatalf("prefix not applied: %q", buf.String())
	}

	var nilLogger *Logger
	nilLogger.Infof("no panic")
	Discard().Errorf("no panic")
	if ParseLevel("bogus") != LevelInfo {
		t.Fatal("unknown level should map to info")
	}
}

func TestLoggerStdForHTTPServer(t *testing.T) {
	var buf bytes.Buffer
	std := NewWriter(&buf, "[relayd] ", LevelInfo).With("[relayd/http] ").Std()
	std.Printf("http: TLS handshake error")
	if out := buf.String(); !strings.Contains(out, "[relayd/http] ") || !strings.Contains(out, "TLS handshake error") {
		t.Fatalf("unexpected output %q", out)
	}

	var nilLogger *Logger
	for _, l := range []*Logger{nilLogger, Discard()} {
		if l.Std() == nil {
			t.Fatal("Std must never be nil")
		}
		l.Std().Printf("dropped")
	}
}

func TestRotatingWriterRollsOverBySizeAndDay(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "logs", "relayd.log")
	day := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

	rw := &RotatingWriter{BasePath: base, MaxBytes: 10, now: func() time.Time { return day }}
	if _, err := rw.Write([]byte("12345678")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := rw.Write([]byte("abcdef")); err != nil {
		t.Fatalf("write: %v", err)
	}
	first := filepath.Join(dir, "logs", "relayd-2026-10-15.log")
	second := filepath.Join(dir, "logs", "relayd-2026-10-15-2.log")
	if b, _ := os.ReadFile(first); string(b) != "12345678" {
		t.Fatalf("first file = %q", b)
	}
	if b, _ := os.ReadFile(second); string(b) != "abcdef" {
		t.Fatalf("second file = %q", b)
	}
	if dest, err := os.Readlink(base); err == nil && dest != second {
		t.Fatalf("link points at %s", dest)
	}

	day = day.Add(24 * time.Hour)
	if _, err := rw.Write([]byte("next")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rw.CurrentPath() != filepath.Join(dir, "logs", "relayd-2026-10-16.log") {
		t.Fatalf("current = %s", rw.CurrentPath())
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRotatingWriterDiscard(t *testing.T) {
	w, err := NewRotatingWriter("-", 0)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	if n, err := w.Write([]byte("x")); n != 1 || err != nil {
		t.Fatalf("write = %d, %v", n, err)
	}
	_ = w.Close()
}
