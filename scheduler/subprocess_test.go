package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSubprocessPipelineReadsSnapshotOnSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell-based fake binary not applicable on windows")
	}
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "latest.json")
	if err := os.WriteFile(snapPath, []byte(`{"generatedAt":"2026-03-04T00:00:00Z","source":"snapshot"}`), 0o644); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	pipeline := NewSubprocessPipeline("/bin/true", nil, snapPath)
	snap, err := pipeline(context.Background())
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if snap.Source != "snapshot" {
		t.Fatalf("unexpected snapshot source %q", snap.Source)
	}
}

func TestSubprocessPipelineReturnsStderrTailOnFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell-based fake binary not applicable on windows")
	}
	pipeline := NewSubprocessPipeline("/bin/false", nil, filepath.Join(t.TempDir(), "latest.json"))
	if _, err := pipeline(context.Background()); err == nil {
		t.Fatalf("expected error from a failing subprocess")
	}
}

func TestTailTruncatesLongStrings(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	got := tail(string(long), 10)
	if len(got) != 10 {
		t.Fatalf("expected 10-byte tail, got %d", len(got))
	}
}
