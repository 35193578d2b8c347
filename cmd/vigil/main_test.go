package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vigil/internal/config"
)

func TestSplitRoots(t *testing.T) {
	cases := []struct {
		raw      string
		expected []string
	}{
		{raw: "", expected: nil},
		{raw: "/a", expected: []string{"/a"}},
		{raw: "/a, /b ,", expected: []string{"/a", "/b"}},
	}
	for _, testCase := range cases {
		got := splitRoots(testCase.raw)
		if len(got) != len(testCase.expected) {
			t.Fatalf("%q: expected %v, got %v", testCase.raw, testCase.expected, got)
		}
		for i := range got {
			if got[i] != testCase.expected[i] {
				t.Fatalf("%q: expected %v, got %v", testCase.raw, testCase.expected, got)
			}
		}
	}
}

func TestRunVersionFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"-version"}, &out, &errOut); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.HasPrefix(out.String(), "vigil ") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	if err := os.WriteFile(path, []byte("log_level: loud\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var out, errOut bytes.Buffer
	if code := run([]string{"-config", path}, &out, &errOut); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), "log level") {
		t.Fatalf("expected log level error, got %q", errOut.String())
	}
}

func TestDaemonWiresConfiguredRoots(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "seed.txt"), []byte("seed"), 0o600); err != nil {
		t.Fatalf("seed root: %v", err)
	}

	cfg := config.Default()
	cfg.Roots = []config.RootConfig{{Path: dir}}

	var errOut bytes.Buffer
	daemon, err := newDaemon(cfg, "", &errOut)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	defer daemon.close()

	resolved, err := daemon.roots.Resolve(dir)
	if err != nil {
		t.Fatalf("resolve root: %v", err)
	}
	if err := resolved.WaitSettled(3 * time.Second); err != nil {
		t.Fatalf("wait settled: %v", err)
	}
	if count := resolved.View().EntryCount(); count == 0 {
		t.Fatal("expected initial crawl to populate the view")
	}
	if daemon.watch.Metrics().TreeCount != 1 {
		t.Fatalf("expected 1 watched tree, got %d", daemon.watch.Metrics().TreeCount)
	}
}

func TestDaemonDispatchesWatcherEventsToSubscriptions(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Settle = config.Duration(20 * time.Millisecond)
	cfg.Roots = []config.RootConfig{{Path: dir}}

	var errOut bytes.Buffer
	daemon, err := newDaemon(cfg, "", &errOut)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	defer daemon.close()

	resolved, err := daemon.roots.Resolve(dir)
	if err != nil {
		t.Fatalf("resolve root: %v", err)
	}
	if err := resolved.WaitSettled(3 * time.Second); err != nil {
		t.Fatalf("wait settled: %v", err)
	}

	sub := daemon.subscriptions.Add(1, "edits", resolved.Path())
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case response := <-sub.Chan():
			if response.Response["root"] != resolved.Path() {
				t.Fatalf("unexpected root in response: %+v", response.Response)
			}
			if response.Response["path"] == path {
				return
			}
			// Other settled events (directories, seeds) may arrive first.
		case <-deadline:
			t.Fatalf("subscription never received the change for %s", path)
		}
	}
}
