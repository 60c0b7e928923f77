package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"gwpipe/internal/logging"
	"gwpipe/internal/manifest"
	"gwpipe/internal/pipeline"
	"gwpipe/internal/store"
)

// SessionState tracks the lifecycle of a pipeline run session.
type SessionState string

const (
	StateRunning SessionState = "running"
	StateDone    SessionState = "done"
	StateFailed  SessionState = "failed"
)

// StartRunInput mirrors the tool arguments for start_run.
type StartRunInput struct {
	ManifestPath string `json:"manifest_path,omitempty"`
	WorkDir      string `json:"workdir,omitempty"`
	Strict       bool   `json:"strict,omitempty"`
	DryRun       bool   `json:"dry_run,omitempty"`
	NoLedger     bool   `json:"no_ledger,omitempty"`
}

// Session holds the state for a single pipeline run driven over MCP.
// The run executes in a background goroutine; tool calls observe it
// through snapshots so none of them can stall the stages.
type Session struct {
	ID       string
	Manifest *manifest.Manifest
	WorkDir  string

	mu      sync.Mutex
	state   SessionState
	results []pipeline.StageResult
	summary *pipeline.Summary

	stages []string
	doneCh chan struct{}
	cancel context.CancelFunc
}

// NewSession loads the manifest, builds the pipeline, spawns the run
// goroutine, and returns immediately.
func NewSession(input StartRunInput) (*Session, error) {
	var (
		m   *manifest.Manifest
		err error
	)
	if input.ManifestPath != "" {
		m, err = manifest.LoadFromPath(input.ManifestPath)
	} else {
		m, err = manifest.Default()
	}
	if err != nil {
		return nil, err
	}

	log := logging.New("mcp-session")

	var ledger store.Store
	if !input.NoLedger && !input.DryRun {
		st, err := store.Open(filepath.Join(input.WorkDir, store.DefaultDBPath))
		if err != nil {
			log.Warn("ledger unavailable, run will not be recorded", "err", err)
		} else {
			ledger = st
		}
	}

	pipe, err := pipeline.Build(m, pipeline.Deps{
		Ledger:  ledger,
		WorkDir: input.WorkDir,
	})
	if err != nil {
		if ledger != nil {
			ledger.Close()
		}
		return nil, err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:       fmt.Sprintf("r-%d", time.Now().UnixMilli()),
		Manifest: m,
		WorkDir:  input.WorkDir,
		state:    StateRunning,
		stages:   pipe.Codes(),
		doneCh:   make(chan struct{}),
		cancel:   runCancel,
	}

	opts := pipeline.Options{
		Strict:  input.Strict,
		DryRun:  input.DryRun,
		OnStage: sess.record,
	}
	go sess.run(runCtx, pipe, opts, ledger)

	return sess, nil
}

func (s *Session) run(ctx context.Context, pipe *pipeline.Pipeline, opts pipeline.Options, ledger store.Store) {
	defer close(s.doneCh)
	defer s.cancel()
	if ledger != nil {
		defer ledger.Close()
	}

	sum := pipe.Run(ctx, opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = sum
	if sum.Ok() {
		s.state = StateDone
	} else {
		s.state = StateFailed
	}
	logging.New("mcp-session").Info("run finished",
		"id", s.ID, "status", s.state, "exit", sum.ExitCode)
}

func (s *Session) record(res pipeline.StageResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StageCodes returns the planned stage codes in execution order.
func (s *Session) StageCodes() []string {
	out := make([]string, len(s.stages))
	copy(out, s.stages)
	return out
}

// Results returns a snapshot of the stage results completed so far.
func (s *Session) Results() []pipeline.StageResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pipeline.StageResult, len(s.results))
	copy(out, s.results)
	return out
}

// Summary returns the run summary, or nil while the run is in flight.
func (s *Session) Summary() *pipeline.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Done returns a channel that closes when the run completes.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// Cancel stops the run goroutine and releases its resources.
func (s *Session) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}
