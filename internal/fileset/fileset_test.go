package fileset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pake/internal/pakeerr"
)

func touch(t *testing.T, path string, at time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatal(err)
	}
}

func TestClassify_SymmetricPairing_OutdatedWhenInputNewer(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "a.in")
	out := filepath.Join(dir, "a.out")
	base := time.Now().Add(-time.Hour)
	touch(t, out, base)
	touch(t, in, base.Add(time.Minute))

	c, err := Classify("build", []Pattern{Lit(in)}, []Pattern{Lit(out)})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !c.Outdated {
		t.Fatal("expected outdated: input newer than output")
	}
	want := []Pair{{Input: in, Output: out}}
	if diff := cmp.Diff(want, c.OutdatedPairs); diff != "" {
		t.Errorf("OutdatedPairs mismatch (-want +got):\n%s", diff)
	}
}

func TestClassify_SymmetricPairing_UpToDate(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "a.in")
	out := filepath.Join(dir, "a.out")
	base := time.Now().Add(-time.Hour)
	touch(t, in, base)
	touch(t, out, base.Add(time.Minute))

	c, err := Classify("build", []Pattern{Lit(in)}, []Pattern{Lit(out)})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.Outdated {
		t.Fatalf("expected up to date, got outdated pairs: %v", c.OutdatedPairs)
	}
}

func TestClassify_AsymmetricPairing_MaxInputVsMinOutput(t *testing.T) {
	dir := t.TempDir()
	in1 := filepath.Join(dir, "a.in")
	in2 := filepath.Join(dir, "b.in")
	out1 := filepath.Join(dir, "a.out")
	out2 := filepath.Join(dir, "b.out")
	out3 := filepath.Join(dir, "c.out")
	base := time.Now().Add(-time.Hour)
	touch(t, out1, base)
	touch(t, out2, base.Add(time.Minute))
	touch(t, out3, base.Add(2*time.Minute))
	touch(t, in1, base.Add(30*time.Second))
	touch(t, in2, base.Add(45*time.Second))

	c, err := Classify("build", []Pattern{Lit(in1), Lit(in2)}, []Pattern{Lit(out1), Lit(out2), Lit(out3)})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	// max(in) = in2 @ +45s, min(out) = out1 @ +0s: max(in) > min(out) -> outdated.
	if !c.Outdated {
		t.Fatal("expected outdated under asymmetric pairing")
	}
}

func TestClassify_NoOutputs_AlwaysOutdated(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "a.in")
	touch(t, in, time.Now())

	c, err := Classify("build", []Pattern{Lit(in)}, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !c.Outdated {
		t.Fatal("a task with inputs and no outputs must always be outdated")
	}
}

func TestClassify_NoInputsNoOutputs_AlwaysOutdated(t *testing.T) {
	c, err := Classify("build", nil, nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !c.Outdated {
		t.Fatal("a task with neither inputs nor outputs must always be outdated")
	}
}

func TestClassify_MissingInput_Fails(t *testing.T) {
	_, err := Classify("build", []Pattern{Lit("/nonexistent/path/x")}, nil)
	var mi *pakeerr.MissingInput
	if !errors.As(err, &mi) {
		t.Fatalf("expected MissingInput, got %v", err)
	}
	if mi.Task != "build" {
		t.Errorf("MissingInput.Task = %q, want build", mi.Task)
	}
}

func TestExpandInputs_RejectsDerivedPattern(t *testing.T) {
	_, err := ExpandInputs([]Pattern{{Raw: "out/%.o", Derived: true}})
	if err == nil {
		t.Fatal("expected an error rejecting a derived pattern as input")
	}
}

func TestExpandOutputs_DerivedSubstitutesStem(t *testing.T) {
	out, err := ExpandOutputs([]Pattern{{Raw: "build/%.o", Derived: true}}, []string{"src/main.c", "src/util.c"})
	if err != nil {
		t.Fatalf("ExpandOutputs: %v", err)
	}
	want := []string{"build/main.o", "build/util.o"}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("ExpandOutputs mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandInputs_GlobSortedAndDeduped(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", "c.txt"} {
		touch(t, filepath.Join(dir, name), time.Now())
	}
	out, err := ExpandInputs([]Pattern{Lit(filepath.Join(dir, "*.txt")), Lit(filepath.Join(dir, "a.txt"))})
	if err != nil {
		t.Fatalf("ExpandInputs: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "c.txt"),
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("ExpandInputs mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandInputs_RecursiveGlob(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	touch(t, filepath.Join(nested, "x.go"), time.Now())
	touch(t, filepath.Join(dir, "y.go"), time.Now())

	out, err := ExpandInputs([]Pattern{Lit(filepath.Join(dir, "**", "*.go"))})
	if err != nil {
		t.Fatalf("ExpandInputs: %v", err)
	}
	// "**" matches zero or more directories, so the top-level y.go matches too.
	want := []string{filepath.Join(nested, "x.go"), filepath.Join(dir, "y.go")}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("ExpandInputs recursive glob mismatch (-want +got):\n%s", diff)
	}
}

func TestMtime_DirectoryUsesOwnModTime(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, ok := Mtime(sub); !ok {
		t.Fatal("expected Mtime to succeed on a directory")
	}
}
