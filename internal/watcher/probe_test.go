package watcher

import (
	"testing"
	"time"
)

func TestProbeFSNotify_LocalDir(t *testing.T) {
	if !ProbeFSNotify(t.TempDir(), 2*time.Second) {
		t.Error("expected fsnotify to be supported on local temp dir")
	}
}

func TestProbeFSNotify_NonexistentDir(t *testing.T) {
	if ProbeFSNotify("/nonexistent/path/that/does/not/exist", 500*time.Millisecond) {
		t.Error("expected fsnotify to report unsupported for nonexistent dir")
	}
}

func TestProbeFSNotify_Timeout(t *testing.T) {
	// Only checks that a tiny timeout returns instead of hanging.
	_ = ProbeFSNotify(t.TempDir(), time.Nanosecond)
}
