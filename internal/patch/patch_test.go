package patch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gwpipe/internal/manifest"
)

const sampleINI = `[data]
instruments = H1 L1 V1
no-save-data =
[sampler]
name = dynesty
nlive = 500
checkpoint = on
`

func TestDeleteContaining(t *testing.T) {
	got := DeleteContaining(sampleINI, "no-save-data")
	if strings.Contains(got, "no-save-data") {
		t.Errorf("matching line survived:\n%s", got)
	}
	if !strings.Contains(got, "instruments = H1 L1 V1\n") {
		t.Error("unrelated line dropped")
	}
	if !strings.HasSuffix(got, "\n") {
		t.Error("trailing newline lost")
	}

	// Deleting again changes nothing.
	if again := DeleteContaining(got, "no-save-data"); again != got {
		t.Errorf("delete is not idempotent:\nfirst:\n%s\nsecond:\n%s", got, again)
	}
}

func TestDeleteContaining_NoMatch(t *testing.T) {
	if got := DeleteContaining(sampleINI, "does-not-appear"); got != sampleINI {
		t.Errorf("text changed without a match:\n%s", got)
	}
}

func TestDeleteContaining_LastLineUnterminated(t *testing.T) {
	got := DeleteContaining("keep\ndrop-me", "drop-me")
	if got != "keep\n" {
		t.Errorf("got %q, want %q", got, "keep\n")
	}
}

func TestInsertAfter(t *testing.T) {
	got := InsertAfter(sampleINI, "nlive = 500", "dlogz = 1000")
	want := `[data]
instruments = H1 L1 V1
no-save-data =
[sampler]
name = dynesty
nlive = 500
dlogz = 1000
checkpoint = on
`
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestInsertAfter_NotIdempotent(t *testing.T) {
	once := InsertAfter(sampleINI, "nlive = 500", "dlogz = 1000")
	twice := InsertAfter(once, "nlive = 500", "dlogz = 1000")
	if n := strings.Count(twice, "dlogz = 1000"); n != 2 {
		t.Errorf("second application should add a second copy, found %d", n)
	}
}

func TestInsertAfter_EveryMatch(t *testing.T) {
	text := "nlive = 500\nother\nnlive = 500\n"
	got := InsertAfter(text, "nlive = 500", "dlogz = 1000")
	want := "nlive = 500\ndlogz = 1000\nother\nnlive = 500\ndlogz = 1000\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestInsertAfter_NoMatch(t *testing.T) {
	if got := InsertAfter(sampleINI, "absent-marker", "x"); got != sampleINI {
		t.Errorf("text changed without a match:\n%s", got)
	}
}

func TestInsertAfter_LastLineUnterminated(t *testing.T) {
	got := InsertAfter("a\nnlive = 500", "nlive = 500", "dlogz = 1000")
	want := "a\nnlive = 500\ndlogz = 1000"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApply(t *testing.T) {
	rules := []manifest.PatchRule{
		{DeleteContaining: "no-save-data"},
		{InsertAfter: "nlive = 500", Insert: "dlogz = 1000"},
	}
	got, err := Apply(sampleINI, rules)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := `[data]
instruments = H1 L1 V1
[sampler]
name = dynesty
nlive = 500
dlogz = 1000
checkpoint = on
`
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}

	// Re-applying both rules to the already-patched text doubles the
	// insertion but leaves deletions alone.
	again, err := Apply(got, rules)
	if err != nil {
		t.Fatalf("Apply (second): %v", err)
	}
	if n := strings.Count(again, "dlogz = 1000"); n != 2 {
		t.Errorf("dlogz lines after second apply = %d, want 2", n)
	}
}

func TestApply_EmptyRule(t *testing.T) {
	if _, err := Apply("x\n", []manifest.PatchRule{{}}); err == nil {
		t.Fatal("expected error for empty rule")
	}
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "single.ini")
	if err := os.WriteFile(path, []byte(sampleINI), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	rules := []manifest.PatchRule{
		{DeleteContaining: "no-save-data"},
		{InsertAfter: "nlive = 500", Insert: "dlogz = 1000"},
	}
	if err := ApplyFile(path, rules); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if strings.Contains(string(data), "no-save-data") || !strings.Contains(string(data), "dlogz = 1000") {
		t.Errorf("patched file content:\n%s", data)
	}
}

func TestApplyFile_MissingFile(t *testing.T) {
	err := ApplyFile(filepath.Join(t.TempDir(), "nope.ini"), nil)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
