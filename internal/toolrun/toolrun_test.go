package toolrun

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRun_Success(t *testing.T) {
	r := NewRunner("")
	res := r.Run(context.Background(), Tool{Name: "ok", Bin: "sh", Args: []string{"-c", "exit 0"}})
	if !res.Ok() {
		t.Errorf("got %+v, want success", res)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	r := NewRunner("")
	res := r.Run(context.Background(), Tool{Name: "fail", Bin: "sh", Args: []string{"-c", "exit 3"}})
	if res.Ok() {
		t.Error("Ok() = true for failing tool")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Err == nil {
		t.Error("Err = nil for failing tool")
	}
}

func TestRun_MissingBinary(t *testing.T) {
	r := NewRunner("")
	res := r.Run(context.Background(), Tool{Name: "ghost", Bin: "gwpipe-no-such-binary"})
	if res.ExitCode != 127 {
		t.Errorf("ExitCode = %d, want 127", res.ExitCode)
	}
	if res.Err == nil {
		t.Error("Err = nil for missing binary")
	}
}

func TestRun_OutputPassthrough(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRunner("")
	r.Stdout = &out
	r.Stderr = &errOut
	res := r.Run(context.Background(), Tool{
		Name: "echo",
		Bin:  "sh",
		Args: []string{"-c", "echo to-stdout; echo to-stderr 1>&2"},
	})
	if !res.Ok() {
		t.Fatalf("run failed: %+v", res)
	}
	if got := out.String(); got != "to-stdout\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := errOut.String(); got != "to-stderr\n" {
		t.Errorf("stderr = %q", got)
	}
}

func TestRun_WorkingDir(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	r := NewRunner(dir)
	r.Stdout = &out
	res := r.Run(context.Background(), Tool{Name: "pwd", Bin: "pwd"})
	if !res.Ok() {
		t.Fatalf("run failed: %+v", res)
	}
	got, err := filepath.EvalSymlinks(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("eval got: %v", err)
	}
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("eval want: %v", err)
	}
	if got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestRun_ExtraEnv(t *testing.T) {
	var out bytes.Buffer
	r := NewRunner("")
	r.Stdout = &out
	r.Env = []string{"GWPIPE_TOOLRUN_TEST=42"}
	res := r.Run(context.Background(), Tool{
		Name: "env",
		Bin:  "sh",
		Args: []string{"-c", "echo $GWPIPE_TOOLRUN_TEST"},
	})
	if !res.Ok() {
		t.Fatalf("run failed: %+v", res)
	}
	if got := strings.TrimSpace(out.String()); got != "42" {
		t.Errorf("env passthrough = %q, want 42", got)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r := NewRunner("")
	start := time.Now()
	res := r.Run(ctx, Tool{Name: "sleep", Bin: "sleep", Args: []string{"10"}})
	if res.Err == nil {
		t.Error("Err = nil for cancelled tool")
	}
	if res.ExitCode == 0 {
		t.Error("ExitCode = 0 for cancelled tool")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
}

func TestTool_Command(t *testing.T) {
	tool := Tool{
		Bin:  "pycbc_inference",
		Args: []string{"--config-file", "single.ini", "--output-file", "./pycbc.hdf5"},
	}
	want := "pycbc_inference --config-file single.ini --output-file ./pycbc.hdf5"
	if got := tool.Command(); got != want {
		t.Errorf("Command() = %q, want %q", got, want)
	}
}
