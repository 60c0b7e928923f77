package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gwpipe/internal/manifest"
	"gwpipe/internal/store"
)

const sampleINI = `[data]
instruments = H1 L1 V1
no-save-data =

[sampler]
name = dynesty
nlive = 500
`

// newStageServer serves fake strain frames and the sample config and
// counts hits per path.
func newStageServer(t *testing.T) (*httptest.Server, func(path string) int) {
	t.Helper()
	var mu sync.Mutex
	hits := make(map[string]int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		if strings.HasSuffix(r.URL.Path, ".ini") {
			fmt.Fprint(w, sampleINI)
			return
		}
		fmt.Fprintf(w, "frame-data for %s", r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	count := func(path string) int {
		mu.Lock()
		defer mu.Unlock()
		return hits[path]
	}
	return srv, count
}

func testManifest(t *testing.T, baseURL, inferenceBin, summaryBin string) *manifest.Manifest {
	t.Helper()
	m := &manifest.Manifest{
		Name:  "test-run",
		Event: "GW170817",
		Strain: manifest.StrainSet{
			BaseURL:  baseURL + "/strain",
			Template: "{code}_TEST-100-10.gwf",
			Files:    []manifest.StrainFile{{Code: "H-H1"}, {Code: "L-L1"}},
		},
		Config: manifest.ConfigSpec{
			URL: baseURL + "/single.ini",
			Patches: []manifest.PatchRule{
				{DeleteContaining: "no-save-data"},
				{InsertAfter: "nlive = 500", Insert: "dlogz = 1000"},
			},
		},
		Inference: manifest.ToolSpec{Bin: inferenceBin},
		Summary:   manifest.SummarySpec{Bin: summaryBin},
	}
	if err := m.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return m
}

func TestBuild_StageOrder(t *testing.T) {
	m, err := manifest.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	p, err := Build(m, Deps{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{"strain:H-H1", "strain:L-L1", "strain:V-V1", "config", "inference", "summary"}
	if diff := cmp.Diff(want, p.Codes()); diff != "" {
		t.Errorf("stage order mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_ToolContracts(t *testing.T) {
	m, err := manifest.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	p, err := Build(m, Deps{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var inf, sum *Stage
	for i := range p.Stages {
		switch p.Stages[i].Kind {
		case KindInference:
			inf = &p.Stages[i]
		case KindSummary:
			sum = &p.Stages[i]
		}
	}
	if inf == nil || sum == nil {
		t.Fatal("missing tool stages")
	}

	wantInf := []string{"--config-file", "single.ini", "--output-file", "./pycbc.hdf5"}
	if diff := cmp.Diff(wantInf, inf.Tool.Args); diff != "" {
		t.Errorf("inference args (-want +got):\n%s", diff)
	}
	wantSum := []string{
		"--webdir", "./outdir/webpage",
		"--samples", "./pycbc.hdf5",
		"--gw",
		"--path_to_samples", "samples",
	}
	if diff := cmp.Diff(wantSum, sum.Tool.Args); diff != "" {
		t.Errorf("summary args (-want +got):\n%s", diff)
	}
}

func TestBuild_GWSwitchDisabled(t *testing.T) {
	srv, _ := newStageServer(t)
	m := testManifest(t, srv.URL, "true", "true")
	no := false
	m.Summary.GW = &no

	p, err := Build(m, Deps{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	last := p.Stages[len(p.Stages)-1]
	for _, a := range last.Tool.Args {
		if a == "--gw" {
			t.Errorf("summary args contain --gw with gw disabled: %v", last.Tool.Args)
		}
	}
}

func TestRun_HappyPath(t *testing.T) {
	srv, _ := newStageServer(t)
	dir := t.TempDir()
	m := testManifest(t, srv.URL, "true", "true")
	ledger := store.NewMemStore()

	p, err := Build(m, Deps{Ledger: ledger, WorkDir: dir})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sum := p.Run(context.Background(), Options{})

	if !sum.Ok() {
		t.Fatalf("run not ok: %+v", sum.Failed())
	}
	if sum.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", sum.ExitCode)
	}
	if len(sum.Results) != 5 {
		t.Fatalf("got %d results, want 5", len(sum.Results))
	}

	cfg, err := os.ReadFile(filepath.Join(dir, "single.ini"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if strings.Contains(string(cfg), "no-save-data") {
		t.Error("config still contains no-save-data after patching")
	}
	if got := strings.Count(string(cfg), "dlogz = 1000"); got != 1 {
		t.Errorf("config has %d dlogz lines, want 1", got)
	}

	run, err := ledger.GetRun(sum.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun(%d) = %v, %v", sum.RunID, run, err)
	}
	if run.Status != store.RunDone || run.ExitCode != 0 {
		t.Errorf("run row = %s/%d, want %s/0", run.Status, run.ExitCode, store.RunDone)
	}
	steps, err := ledger.StepsForRun(sum.RunID)
	if err != nil {
		t.Fatalf("StepsForRun: %v", err)
	}
	if len(steps) != 5 {
		t.Errorf("got %d steps, want 5", len(steps))
	}
	arts, err := ledger.ArtifactsForRun(sum.RunID)
	if err != nil {
		t.Fatalf("ArtifactsForRun: %v", err)
	}
	// Two strain frames and the patched config; the stand-in tools
	// leave no output files behind.
	if len(arts) != 3 {
		t.Errorf("got %d artifacts, want 3", len(arts))
	}
}

func TestRun_SecondRunSkipsStrainRedownloadsConfig(t *testing.T) {
	srv, count := newStageServer(t)
	dir := t.TempDir()
	m := testManifest(t, srv.URL, "true", "true")

	p, err := Build(m, Deps{WorkDir: dir})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for i := 1; i <= 2; i++ {
		sum := p.Run(context.Background(), Options{})
		if !sum.Ok() {
			t.Fatalf("run %d not ok: %+v", i, sum.Failed())
		}
	}

	if got := count("/strain/H-H1_TEST-100-10.gwf"); got != 1 {
		t.Errorf("strain fetched %d times, want 1", got)
	}
	if got := count("/single.ini"); got != 2 {
		t.Errorf("config fetched %d times, want 2", got)
	}

	// The re-download resets the config, so repeated runs keep exactly
	// one inserted line even though insertion itself is not idempotent.
	cfg, err := os.ReadFile(filepath.Join(dir, "single.ini"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if got := strings.Count(string(cfg), "dlogz = 1000"); got != 1 {
		t.Errorf("config has %d dlogz lines after two runs, want 1", got)
	}
	if sum := p.Run(context.Background(), Options{}); sum.Results[0].Detail != "already present" {
		t.Errorf("strain detail = %q, want already present", sum.Results[0].Detail)
	}
}

func TestRun_ContinueOnError(t *testing.T) {
	srv, _ := newStageServer(t)
	dir := t.TempDir()
	m := testManifest(t, srv.URL, "false", "true")
	ledger := store.NewMemStore()

	p, err := Build(m, Deps{Ledger: ledger, WorkDir: dir})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sum := p.Run(context.Background(), Options{})

	if sum.Ok() {
		t.Fatal("run reported ok despite inference failure")
	}
	if len(sum.Results) != 5 {
		t.Fatalf("got %d results, want 5: failure must not stop later stages", len(sum.Results))
	}
	failed := sum.Failed()
	if len(failed) != 1 || failed[0].Code != KindInference {
		t.Errorf("failed stages = %+v, want only inference", failed)
	}
	// The summary tool ran last and succeeded, so the run exits 0,
	// exactly as the equivalent shell sequence would.
	if sum.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", sum.ExitCode)
	}

	run, err := ledger.GetRun(sum.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun: %v, %v", run, err)
	}
	if run.Status != store.RunFailed {
		t.Errorf("run status = %s, want %s", run.Status, store.RunFailed)
	}
	steps, err := ledger.StepsForRun(sum.RunID)
	if err != nil {
		t.Fatalf("StepsForRun: %v", err)
	}
	var infStep *store.Step
	for _, s := range steps {
		if s.Stage == KindInference {
			infStep = s
		}
	}
	if infStep == nil {
		t.Fatal("no inference step recorded")
	}
	if infStep.Status != store.StepFailed || infStep.ExitCode != 1 {
		t.Errorf("inference step = %s/%d, want %s/1", infStep.Status, infStep.ExitCode, store.StepFailed)
	}
}

func TestRun_ExitCodeIsLastStage(t *testing.T) {
	srv, _ := newStageServer(t)
	m := testManifest(t, srv.URL, "true", "false")

	p, err := Build(m, Deps{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sum := p.Run(context.Background(), Options{})
	if sum.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1 from failing summary", sum.ExitCode)
	}
}

func TestRun_MissingToolExits127(t *testing.T) {
	srv, _ := newStageServer(t)
	m := testManifest(t, srv.URL, "gwpipe-no-such-binary", "true")

	p, err := Build(m, Deps{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sum := p.Run(context.Background(), Options{})
	if sum.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0 from trailing summary", sum.ExitCode)
	}
	failed := sum.Failed()
	if len(failed) != 1 || failed[0].ExitCode != 127 {
		t.Errorf("failed = %+v, want one failure with exit 127", failed)
	}
}

func TestRun_StrictStopsAtFirstFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".ini") {
			http.Error(w, "gone fishing", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, "frame-data")
	}))
	t.Cleanup(srv.Close)

	m := testManifest(t, srv.URL, "true", "true")
	p, err := Build(m, Deps{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sum := p.Run(context.Background(), Options{Strict: true})

	if sum.Ok() {
		t.Fatal("run reported ok despite config failure")
	}
	if len(sum.Results) != 3 {
		t.Fatalf("got %d results, want 3: strict mode must stop after config fails", len(sum.Results))
	}
	last := sum.Results[len(sum.Results)-1]
	if last.Code != KindConfig || last.Status != store.StepFailed {
		t.Errorf("last result = %s/%s, want failed config", last.Code, last.Status)
	}
	if sum.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", sum.ExitCode)
	}
}

func TestRun_DryRun(t *testing.T) {
	srv, count := newStageServer(t)
	m := testManifest(t, srv.URL, "true", "true")
	ledger := store.NewMemStore()

	p, err := Build(m, Deps{Ledger: ledger, WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sum := p.Run(context.Background(), Options{DryRun: true})

	if !sum.Ok() {
		t.Fatalf("dry run not ok: %+v", sum.Failed())
	}
	if got := count("/single.ini"); got != 0 {
		t.Errorf("dry run hit the network %d times", got)
	}
	for _, r := range sum.Results {
		if r.Detail == "" {
			t.Errorf("stage %s has no dry-run detail", r.Code)
		}
	}
	if want := "--config-file single.ini"; !strings.Contains(sum.Results[3].Detail, want) {
		t.Errorf("inference detail %q missing %q", sum.Results[3].Detail, want)
	}

	runs, err := ledger.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("dry run recorded %d runs, want 0", len(runs))
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	srv, _ := newStageServer(t)
	m := testManifest(t, srv.URL, "true", "true")
	ledger := store.NewMemStore()

	p, err := Build(m, Deps{Ledger: ledger, WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum := p.Run(ctx, Options{})

	if !sum.Interrupted {
		t.Error("summary not marked interrupted")
	}
	if len(sum.Results) != 0 {
		t.Errorf("got %d results, want 0", len(sum.Results))
	}
	run, err := ledger.GetRun(sum.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetRun: %v, %v", run, err)
	}
	if run.Status != store.RunFailed {
		t.Errorf("run status = %s, want %s", run.Status, store.RunFailed)
	}
}

func TestRun_ToolArtifactsRecorded(t *testing.T) {
	srv, _ := newStageServer(t)
	dir := t.TempDir()

	// Stand-in tools that leave the real tools' outputs behind.
	infBin := filepath.Join(dir, "fake-inference")
	writeScript(t, infBin, "#!/bin/sh\necho posterior > pycbc.hdf5\n")
	sumBin := filepath.Join(dir, "fake-summary")
	writeScript(t, sumBin, "#!/bin/sh\nmkdir -p outdir/webpage\necho '<html></html>' > outdir/webpage/home.html\n")

	m := testManifest(t, srv.URL, infBin, sumBin)
	ledger := store.NewMemStore()
	p, err := Build(m, Deps{Ledger: ledger, WorkDir: dir})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sum := p.Run(context.Background(), Options{})
	if !sum.Ok() {
		t.Fatalf("run not ok: %+v", sum.Failed())
	}

	arts, err := ledger.ArtifactsForRun(sum.RunID)
	if err != nil {
		t.Fatalf("ArtifactsForRun: %v", err)
	}
	kinds := make(map[string]int)
	for _, a := range arts {
		kinds[a.Kind]++
	}
	want := map[string]int{"strain": 2, "config": 1, "posterior": 1, "webpage": 1}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("artifact kinds (-want +got):\n%s", diff)
	}
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
}
