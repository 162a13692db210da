package subpake

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"pake/internal/defines"
	"pake/internal/pakeerr"
)

type bufSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *bufSink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *bufSink) Lock()                       { s.mu.Lock() }
func (s *bufSink) Unlock()                     { s.mu.Unlock() }

// fakeChild writes a short script standing in for the orchestrator binary,
// so Run can be exercised without actually invoking this module's own CLI.
func fakeChild(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-pake")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("writing fake child: %v", err)
	}
	return path
}

func TestRun_Success_EmitsBannerPair(t *testing.T) {
	exe := fakeChild(t, "cat; echo child-output\n")
	sink := &bufSink{}

	res, err := Run("build", pakeerr.CallSite{}, sink, Options{
		Exe:     exe,
		Depth:   2,
		Exports: defines.Map{"VERSION": defines.StringValue("1.0")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, want 0", res.ExitCode)
	}
	out := sink.buf.String()
	if !bytes.Contains([]byte(out), []byte("*** enter subpake[2]:")) {
		t.Errorf("missing enter banner: %q", out)
	}
	if !bytes.Contains([]byte(out), []byte("*** exit subpake[2]:")) {
		t.Errorf("missing exit banner: %q", out)
	}
	if !bytes.Contains([]byte(out), []byte("child-output")) {
		t.Errorf("missing child output: %q", out)
	}
}

func TestRun_NonZeroExit_RaisesSubBuildFailure(t *testing.T) {
	exe := fakeChild(t, "exit 4\n")
	sink := &bufSink{}

	_, err := Run("build", pakeerr.CallSite{}, sink, Options{Exe: exe, Depth: 1})
	var sbf *pakeerr.SubBuildFailure
	if !errors.As(err, &sbf) {
		t.Fatalf("expected SubBuildFailure, got %v", err)
	}
	if sbf.ExitCode != 4 {
		t.Fatalf("ExitCode = %d, want 4", sbf.ExitCode)
	}
	if pakeerr.ExitCode(err) != pakeerr.ExitSubBuildFailed {
		t.Fatalf("mapped exit code = %d, want %d", pakeerr.ExitCode(err), pakeerr.ExitSubBuildFailed)
	}
}

func TestRun_CollectOutput_Spools(t *testing.T) {
	exe := fakeChild(t, "cat >/dev/null; echo spooled\n")
	sink := &bufSink{}

	res, err := Run("build", pakeerr.CallSite{}, sink, Options{
		Exe:           exe,
		Depth:         0,
		CollectOutput: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Contains(res.Output, []byte("spooled")) {
		t.Errorf("Result.Output missing spooled content: %q", res.Output)
	}
	if !bytes.Contains(sink.buf.Bytes(), []byte("spooled")) {
		t.Errorf("sink missing copied spool content: %q", sink.buf.String())
	}
}
