package logbook

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "builds.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := book.Info("entry-%d", i); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestTailMissingFile(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "logs", "builds.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	if lines, total := book.Tail(10); lines != nil || total != 0 {
		t.Fatalf("expected empty tail, got %v %d", lines, total)
	}
}

func TestAppendFoldsMultilineMessages(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "builds.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	if err := book.Error("build failed:\n  task style: exit 1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	lines, total := book.Tail(1)
	if total != 1 {
		t.Fatalf("expected one line, got %d", total)
	}
	entry, err := Parse(lines[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if entry.Level != LevelError || entry.Message != "build failed: task style: exit 1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if !entry.Time.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %s", entry.Time)
	}
}

func TestParseInfoPadding(t *testing.T) {
	entry, err := Parse("2024-05-01T12:00:00Z INFO  build ok")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if entry.Level != LevelInfo || entry.Message != "build ok" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, err := Parse("garbage"); err == nil {
		t.Fatalf("expected malformed line to fail")
	}
}
