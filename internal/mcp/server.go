package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gwpipe/internal/display"
	"gwpipe/internal/format"
	"gwpipe/internal/logging"
	"gwpipe/internal/manifest"
	"gwpipe/internal/pipeline"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP SDK server and manages pipeline run sessions.
// One run at a time: the workflow writes fixed file names into the
// working directory, so concurrent runs would trample each other.
type Server struct {
	MCPServer *sdkmcp.Server
	// WorkDir is the default working directory for runs started without
	// an explicit workdir.
	WorkDir string

	mu      sync.Mutex
	session *Session
}

// NewServer creates an MCP server exposing the pipeline tools. It
// captures the current working directory as the default run workdir.
func NewServer() *Server {
	cwd, _ := os.Getwd()
	s := &Server{WorkDir: cwd}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "gwpipe", Version: "dev"},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "start_run",
		Description: "Start a pipeline run: ensure strain frames, fetch and patch the config, run inference and summary. Returns a run ID immediately.",
	}, s.handleStartRun)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_status",
		Description: "Get a snapshot of the run: stages completed so far with status and exit codes. Never blocks.",
	}, s.handleGetStatus)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_report",
		Description: "Wait for the run to finish and return the final report as a Markdown table plus per-stage results.",
	}, s.handleGetReport)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_inputs",
		Description: "Resolve a manifest and list its strain frames (with local presence), config source, and the exact tool command lines.",
	}, s.handleListInputs)
}

// --- Tool input/output types ---

type startRunInput struct {
	ManifestPath string `json:"manifest_path,omitempty" jsonschema:"manifest file (YAML or JSON); empty for the built-in GW170817 manifest"`
	WorkDir      string `json:"workdir,omitempty" jsonschema:"working directory for downloads and tool runs (default: server cwd)"`
	Strict       bool   `json:"strict,omitempty" jsonschema:"stop at the first failed stage instead of continuing"`
	DryRun       bool   `json:"dry_run,omitempty" jsonschema:"resolve stages without network access or subprocesses"`
	NoLedger     bool   `json:"no_ledger,omitempty" jsonschema:"skip recording the run in the SQLite ledger"`
	Force        bool   `json:"force,omitempty" jsonschema:"cancel any existing run and start fresh"`
}

type startRunOutput struct {
	RunID  string   `json:"run_id"`
	Name   string   `json:"name"`
	Event  string   `json:"event,omitempty"`
	Stages []string `json:"stages"`
	Status string   `json:"status"`
}

type getStatusInput struct {
	RunID string `json:"run_id" jsonschema:"run ID from start_run"`
}

type stageStatus struct {
	Code       string `json:"code"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type getStatusOutput struct {
	RunID       string        `json:"run_id"`
	Status      string        `json:"status"`
	Done        bool          `json:"done"`
	ExitCode    int           `json:"exit_code"`
	Interrupted bool          `json:"interrupted,omitempty"`
	TotalStages int           `json:"total_stages"`
	Stages      []stageStatus `json:"stages"`
}

type getReportInput struct {
	RunID string `json:"run_id" jsonschema:"run ID from start_run"`
}

type getReportOutput struct {
	Status   string        `json:"status"`
	ExitCode int           `json:"exit_code"`
	Report   string        `json:"report"`
	Stages   []stageStatus `json:"stages"`
}

type listInputsInput struct {
	ManifestPath string `json:"manifest_path,omitempty" jsonschema:"manifest file (YAML or JSON); empty for the built-in GW170817 manifest"`
	WorkDir      string `json:"workdir,omitempty" jsonschema:"directory checked for already-present files (default: server cwd)"`
}

type inputFile struct {
	Code     string `json:"code"`
	Detector string `json:"detector,omitempty"`
	File     string `json:"file"`
	URL      string `json:"url"`
	Frame    string `json:"frame,omitempty"`
	Present  bool   `json:"present"`
	Bytes    int64  `json:"bytes,omitempty"`
}

type listInputsOutput struct {
	Name             string      `json:"name"`
	Event            string      `json:"event,omitempty"`
	Files            []inputFile `json:"files"`
	ConfigURL        string      `json:"config_url"`
	ConfigFile       string      `json:"config_file"`
	Patches          int         `json:"patches"`
	InferenceCommand string      `json:"inference_command"`
	SummaryCommand   string      `json:"summary_command"`
}

// --- Tool handlers ---

func (s *Server) handleStartRun(ctx context.Context, _ *sdkmcp.CallToolRequest, input startRunInput) (*sdkmcp.CallToolResult, startRunOutput, error) {
	log := logging.New("mcp")
	s.mu.Lock()
	if s.session != nil {
		select {
		case <-s.session.Done():
			log.Info("replacing finished session", "old_id", s.session.ID)
			s.session.Cancel()
		default:
			if !input.Force {
				id := s.session.ID
				s.mu.Unlock()
				return nil, startRunOutput{}, fmt.Errorf("a run is already in progress (id=%s); pass force to replace it", id)
			}
			log.Warn("force-replacing active session", "old_id", s.session.ID)
			s.session.Cancel()
		}
	}
	s.session = nil
	s.mu.Unlock()

	if input.WorkDir == "" {
		input.WorkDir = s.WorkDir
	}
	sess, err := NewSession(StartRunInput{
		ManifestPath: input.ManifestPath,
		WorkDir:      input.WorkDir,
		Strict:       input.Strict,
		DryRun:       input.DryRun,
		NoLedger:     input.NoLedger,
	})
	if err != nil {
		return nil, startRunOutput{}, fmt.Errorf("start run: %w", err)
	}

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	return nil, startRunOutput{
		RunID:  sess.ID,
		Name:   sess.Manifest.Name,
		Event:  sess.Manifest.Event,
		Stages: sess.StageCodes(),
		Status: string(StateRunning),
	}, nil
}

func (s *Server) handleGetStatus(ctx context.Context, _ *sdkmcp.CallToolRequest, input getStatusInput) (*sdkmcp.CallToolResult, getStatusOutput, error) {
	sess, err := s.getSession(input.RunID)
	if err != nil {
		return nil, getStatusOutput{}, err
	}

	out := getStatusOutput{
		RunID:       sess.ID,
		Status:      string(sess.State()),
		TotalStages: len(sess.StageCodes()),
		Stages:      stageStatuses(sess.Results()),
	}
	if sum := sess.Summary(); sum != nil {
		out.Done = true
		out.ExitCode = sum.ExitCode
		out.Interrupted = sum.Interrupted
	}
	return nil, out, nil
}

func (s *Server) handleGetReport(ctx context.Context, _ *sdkmcp.CallToolRequest, input getReportInput) (*sdkmcp.CallToolResult, getReportOutput, error) {
	sess, err := s.getSession(input.RunID)
	if err != nil {
		return nil, getReportOutput{}, err
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		return nil, getReportOutput{}, ctx.Err()
	}

	sum := sess.Summary()
	return nil, getReportOutput{
		Status:   string(sess.State()),
		ExitCode: sum.ExitCode,
		Report:   renderReport(sess),
		Stages:   stageStatuses(sess.Results()),
	}, nil
}

func (s *Server) handleListInputs(ctx context.Context, _ *sdkmcp.CallToolRequest, input listInputsInput) (*sdkmcp.CallToolResult, listInputsOutput, error) {
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
		return nil, listInputsOutput{}, err
	}

	workdir := input.WorkDir
	if workdir == "" {
		workdir = s.WorkDir
	}

	pipe, err := pipeline.Build(m, pipeline.Deps{WorkDir: workdir})
	if err != nil {
		return nil, listInputsOutput{}, err
	}

	out := listInputsOutput{
		Name:       m.Name,
		Event:      m.Event,
		ConfigURL:  m.Config.URL,
		ConfigFile: m.Config.File,
		Patches:    len(m.Config.Patches),
	}
	for _, st := range pipe.Stages {
		switch st.Kind {
		case pipeline.KindInference:
			out.InferenceCommand = st.Describe()
		case pipeline.KindSummary:
			out.SummaryCommand = st.Describe()
		}
	}

	for _, f := range m.Strain.Files {
		in := inputFile{
			Code:     f.Code,
			Detector: display.Detector(f.Code),
			File:     f.File,
			URL:      f.URL,
			Frame:    display.FrameSummary(f.File),
		}
		if fi, statErr := os.Stat(filepath.Join(workdir, f.File)); statErr == nil && !fi.IsDir() {
			in.Present = true
			in.Bytes = fi.Size()
		}
		out.Files = append(out.Files, in)
	}
	return nil, out, nil
}

// --- Helpers ---

func stageStatuses(results []pipeline.StageResult) []stageStatus {
	out := make([]stageStatus, len(results))
	for i, r := range results {
		st := stageStatus{
			Code:       r.Code,
			Title:      display.StageWithCode(r.Code),
			Status:     r.Status,
			ExitCode:   r.ExitCode,
			Detail:     r.Detail,
			DurationMS: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			st.Error = r.Err.Error()
		}
		out[i] = st
	}
	return out
}

// renderReport builds the Markdown run report returned by get_report.
func renderReport(sess *Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s", sess.ID)
	if sess.Manifest.Event != "" {
		fmt.Fprintf(&b, " (%s)", sess.Manifest.Event)
	}
	b.WriteString("\n\n")

	sum := sess.Summary()
	fmt.Fprintf(&b, "Status: %s, exit code %d.\n\n", sess.State(), sum.ExitCode)

	tb := format.NewTable(format.Markdown)
	tb.Header("Stage", "Status", "Exit", "Duration", "Detail")
	for _, r := range sess.Results() {
		detail := r.Detail
		if r.Err != nil {
			detail = r.Err.Error()
		}
		tb.Row(display.StageWithCode(r.Code), r.Status, r.ExitCode,
			format.FmtMS(r.Duration.Milliseconds()), format.Truncate(detail, 60))
	}
	b.WriteString(tb.String())
	b.WriteString("\n")
	return b.String()
}

// SessionID returns the current session's ID, or empty string if none.
func (s *Server) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return s.session.ID
	}
	return ""
}

// Shutdown cancels any active session, releasing the run goroutine.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Cancel()
		s.session = nil
	}
}

func (s *Server) getSession(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, fmt.Errorf("no active run (call start_run first)")
	}
	if s.session.ID != id {
		return nil, fmt.Errorf("run_id mismatch: have %s, got %s", s.session.ID, id)
	}
	return s.session, nil
}
