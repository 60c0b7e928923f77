// Package pipeline assembles and runs the data-prep-and-run workflow:
// ensure strain frames locally, fetch and patch the run configuration,
// run inference, run summary. Stages execute strictly in that order.
//
// A stage failure is recorded and the remaining stages still run; the
// final exit code is the exit code of the last stage that executed.
// Strict mode opts out of that and stops at the first failure.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gwpipe/internal/fetch"
	"gwpipe/internal/logging"
	"gwpipe/internal/manifest"
	"gwpipe/internal/patch"
	"gwpipe/internal/store"
	"gwpipe/internal/toolrun"
)

// Stage kinds.
const (
	KindStrain    = "strain"
	KindConfig    = "config"
	KindInference = "inference"
	KindSummary   = "summary"
)

// Stage is one unit of work. Tool stages carry the external command;
// preparation stages carry a run closure.
type Stage struct {
	Code string // e.g. "strain:H-H1", "config", "inference"
	Kind string
	Tool *toolrun.Tool

	desc string
	run  func(ctx context.Context) (detail string, artifacts []store.Artifact, err error)
}

// Describe renders what the stage would do, for dry runs and logs.
func (s Stage) Describe() string {
	if s.Tool != nil {
		return s.Tool.Command()
	}
	return s.desc
}

// StageResult is the recorded outcome of one stage.
type StageResult struct {
	Code     string
	Status   string // store.StepOK or store.StepFailed
	ExitCode int
	Err      error
	Detail   string
	Started  time.Time
	Duration time.Duration
}

// Summary is the outcome of a whole run.
type Summary struct {
	RunID   int64 // 0 when the run was not recorded
	Results []StageResult
	// ExitCode is the exit code of the last stage that executed,
	// matching what a shell running the same commands would return.
	ExitCode int
	// Interrupted is set when the context was cancelled before all
	// stages could be attempted.
	Interrupted bool
}

// Ok reports whether every stage succeeded.
func (s *Summary) Ok() bool {
	for _, r := range s.Results {
		if r.Status != store.StepOK {
			return false
		}
	}
	return !s.Interrupted
}

// Failed returns the results of failed stages.
func (s *Summary) Failed() []StageResult {
	var out []StageResult
	for _, r := range s.Results {
		if r.Status == store.StepFailed {
			out = append(out, r)
		}
	}
	return out
}

// Options control a run.
type Options struct {
	// Strict stops at the first failure. The default keeps going, the
	// way the underlying shell workflow does.
	Strict bool
	// DryRun resolves every stage and reports what it would do,
	// without network access or subprocesses.
	DryRun bool
	// OnStage, when set, receives each stage result as it completes.
	OnStage func(StageResult)
}

// Deps are the pipeline's collaborators. Fetcher and Runner get
// defaults when nil; Ledger may stay nil to skip recording.
type Deps struct {
	Fetcher *fetch.Client
	Runner  *toolrun.Runner
	Ledger  store.Store
	WorkDir string
}

// Pipeline is a built, ready-to-run stage sequence.
type Pipeline struct {
	Manifest *manifest.Manifest
	Stages   []Stage

	deps Deps
	log  *slog.Logger
}

// Build assembles the stage sequence for m: one ensure stage per strain
// file, the config fetch-and-patch stage, then the two tool stages.
// m must already be normalized.
func Build(m *manifest.Manifest, deps Deps) (*Pipeline, error) {
	if m == nil {
		return nil, fmt.Errorf("pipeline: nil manifest")
	}
	if deps.Fetcher == nil {
		deps.Fetcher = fetch.NewClient("gwpipe")
	}
	if deps.Runner == nil {
		deps.Runner = toolrun.NewRunner(deps.WorkDir)
	}

	p := &Pipeline{Manifest: m, deps: deps, log: logging.New("pipeline")}

	for _, f := range m.Strain.Files {
		id := f.Code
		if id == "" {
			id = f.File
		}
		dest := filepath.Join(deps.WorkDir, f.File)
		file, url, sum := f.File, f.URL, f.SHA256
		p.Stages = append(p.Stages, Stage{
			Code: KindStrain + ":" + id,
			Kind: KindStrain,
			desc: fmt.Sprintf("ensure %s (from %s)", file, url),
			run: func(ctx context.Context) (string, []store.Artifact, error) {
				r, err := deps.Fetcher.EnsureFile(ctx, url, dest, sum)
				if err != nil {
					return "", nil, err
				}
				detail := "already present"
				if r.Downloaded {
					detail = "downloaded"
				}
				return detail, []store.Artifact{{
					Path: file, Kind: KindStrain, Bytes: r.Bytes, SHA256: sum,
				}}, nil
			},
		})
	}

	cfgDest := filepath.Join(deps.WorkDir, m.Config.File)
	p.Stages = append(p.Stages, Stage{
		Code: KindConfig,
		Kind: KindConfig,
		desc: fmt.Sprintf("download %s to %s and apply %d patch rules",
			m.Config.URL, m.Config.File, len(m.Config.Patches)),
		run: func(ctx context.Context) (string, []store.Artifact, error) {
			if _, err := deps.Fetcher.Download(ctx, m.Config.URL, cfgDest, ""); err != nil {
				return "", nil, err
			}
			if err := patch.ApplyFile(cfgDest, m.Config.Patches); err != nil {
				return "", nil, err
			}
			var size int64
			if fi, err := os.Stat(cfgDest); err == nil {
				size = fi.Size()
			}
			detail := fmt.Sprintf("fetched and patched (%d rules)", len(m.Config.Patches))
			return detail, []store.Artifact{{
				Path: m.Config.File, Kind: KindConfig, Bytes: size,
			}}, nil
		},
	})

	p.Stages = append(p.Stages, Stage{
		Code: KindInference,
		Kind: KindInference,
		Tool: &toolrun.Tool{
			Name: KindInference,
			Bin:  m.Inference.Bin,
			Args: inferenceArgs(m),
		},
	})
	p.Stages = append(p.Stages, Stage{
		Code: KindSummary,
		Kind: KindSummary,
		Tool: &toolrun.Tool{
			Name: KindSummary,
			Bin:  m.Summary.Bin,
			Args: summaryArgs(m),
		},
	})

	return p, nil
}

// inferenceArgs is the fixed inference contract: the config file and
// the output path, then any manifest extras.
func inferenceArgs(m *manifest.Manifest) []string {
	args := []string{
		"--config-file", m.Config.File,
		"--output-file", m.Inference.Output,
	}
	return append(args, m.Inference.Args...)
}

// summaryArgs is the fixed summary contract: web directory, samples
// file, the --gw switch, and the in-file samples path, then extras.
func summaryArgs(m *manifest.Manifest) []string {
	args := []string{
		"--webdir", m.Summary.WebDir,
		"--samples", m.Inference.Output,
	}
	if m.Summary.GWEnabled() {
		args = append(args, "--gw")
	}
	args = append(args, "--path_to_samples", m.Summary.SamplesPath)
	return append(args, m.Summary.Args...)
}

// Codes returns the stage codes in execution order.
func (p *Pipeline) Codes() []string {
	codes := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		codes[i] = s.Code
	}
	return codes
}

// Run executes the stages in order and returns the collected outcomes.
// The ledger, when present, gets a run row, a step row per stage, and
// artifact rows; ledger trouble is logged and never affects the stages
// themselves.
func (p *Pipeline) Run(ctx context.Context, opts Options) *Summary {
	sum := &Summary{}

	var ledger store.Store
	if p.deps.Ledger != nil && !opts.DryRun {
		ledger = p.deps.Ledger
		id, err := ledger.CreateRun(p.Manifest.Name, p.Manifest.Event, p.deps.WorkDir)
		if err != nil {
			p.log.Warn("ledger: create run failed", "err", err)
			ledger = nil
		} else {
			sum.RunID = id
		}
	}

	for i, st := range p.Stages {
		if ctx.Err() != nil {
			sum.Interrupted = true
			p.log.Warn("run interrupted", "after", i, "of", len(p.Stages))
			break
		}

		res := p.runStage(ctx, st, opts, ledger, sum.RunID)
		sum.Results = append(sum.Results, res)
		sum.ExitCode = res.ExitCode

		if ledger != nil {
			step := store.Step{
				Seq: i, Stage: res.Code, Status: res.Status,
				ExitCode: res.ExitCode, DurationMS: res.Duration.Milliseconds(),
			}
			if res.Err != nil {
				step.Error = res.Err.Error()
			}
			if _, err := ledger.RecordStep(sum.RunID, step); err != nil {
				p.log.Warn("ledger: record step failed", "stage", res.Code, "err", err)
			}
		}
		if opts.OnStage != nil {
			opts.OnStage(res)
		}

		if res.Status == store.StepFailed {
			p.log.Warn("stage failed", "stage", res.Code, "exit", res.ExitCode, "err", res.Err)
			if opts.Strict {
				break
			}
			continue
		}
		p.log.Info("stage done", "stage", res.Code, "detail", res.Detail, "duration", res.Duration)
	}

	if ledger != nil {
		status := store.RunDone
		if !sum.Ok() {
			status = store.RunFailed
		}
		if err := ledger.FinishRun(sum.RunID, status, sum.ExitCode); err != nil {
			p.log.Warn("ledger: finish run failed", "err", err)
		}
	}
	return sum
}

func (p *Pipeline) runStage(ctx context.Context, st Stage, opts Options, ledger store.Store, runID int64) (res StageResult) {
	res = StageResult{Code: st.Code, Status: store.StepOK, Started: time.Now()}
	defer func() { res.Duration = time.Since(res.Started) }()

	if opts.DryRun {
		res.Detail = st.Describe()
		return res
	}

	if st.Tool != nil {
		tr := p.deps.Runner.Run(ctx, *st.Tool)
		res.ExitCode = tr.ExitCode
		res.Err = tr.Err
		res.Detail = tr.Tool.Command()
		if !tr.Ok() {
			res.Status = store.StepFailed
			return res
		}
		p.recordArtifacts(ledger, runID, p.toolArtifacts(st.Kind))
		return res
	}

	detail, arts, err := st.run(ctx)
	res.Detail = detail
	if err != nil {
		res.Status = store.StepFailed
		res.ExitCode = 1
		res.Err = err
		return res
	}
	p.recordArtifacts(ledger, runID, arts)
	return res
}

// toolArtifacts reports what a successful tool stage left on disk.
// Tools are opaque; only presence and size are recorded, never content.
func (p *Pipeline) toolArtifacts(kind string) []store.Artifact {
	switch kind {
	case KindInference:
		out := p.Manifest.Inference.Output
		if fi, err := os.Stat(filepath.Join(p.deps.WorkDir, out)); err == nil {
			return []store.Artifact{{Path: out, Kind: "posterior", Bytes: fi.Size()}}
		}
	case KindSummary:
		web := p.Manifest.Summary.WebDir
		if _, err := os.Stat(filepath.Join(p.deps.WorkDir, web)); err == nil {
			var size int64
			if fi, err := os.Stat(filepath.Join(p.deps.WorkDir, web, "home.html")); err == nil {
				size = fi.Size()
			}
			return []store.Artifact{{Path: web, Kind: "webpage", Bytes: size}}
		}
	}
	return nil
}

func (p *Pipeline) recordArtifacts(ledger store.Store, runID int64, arts []store.Artifact) {
	if ledger == nil {
		return
	}
	for _, a := range arts {
		if _, err := ledger.RecordArtifact(runID, a); err != nil {
			p.log.Warn("ledger: record artifact failed", "path", a.Path, "err", err)
		}
	}
}
