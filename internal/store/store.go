package store

// DefaultDBPath is the default relative path for the SQLite ledger
// (per-workspace). Resolve against the working directory; Open() creates
// the parent dir (e.g. .gwpipe).
const DefaultDBPath = ".gwpipe/gwpipe.db"

// Run statuses.
const (
	RunRunning = "running"
	RunDone    = "done"
	RunFailed  = "failed"
)

// Step statuses.
const (
	StepOK     = "ok"
	StepFailed = "failed"
)

// Run is one pipeline invocation, from start to final exit code.
type Run struct {
	ID         int64
	Name       string // manifest name
	Event      string
	WorkDir    string
	Status     string
	ExitCode   int
	StartedAt  string
	FinishedAt string // empty while running
}

// Step is one recorded stage outcome within a run. Seq preserves the
// execution order.
type Step struct {
	ID         int64
	RunID      int64
	Seq        int
	Stage      string // stage code, e.g. "strain:H-H1"
	Status     string
	ExitCode   int
	Error      string
	DurationMS int64
}

// Artifact is a file a run produced or found already in place.
type Artifact struct {
	ID     int64
	RunID  int64
	Path   string
	Kind   string // "strain", "config", "posterior", "webpage"
	Bytes  int64
	SHA256 string
}

// Store is the run ledger facade. CLI and MCP code use only this
// interface; the implementation is SQLite or in-memory. Lookups for
// absent records return nil without an error.
type Store interface {
	CreateRun(name, event, workdir string) (int64, error)
	FinishRun(runID int64, status string, exitCode int) error
	RecordStep(runID int64, step Step) (int64, error)
	RecordArtifact(runID int64, a Artifact) (int64, error)
	GetRun(runID int64) (*Run, error)
	LastRun() (*Run, error)
	ListRuns(limit int) ([]*Run, error)
	StepsForRun(runID int64) ([]*Step, error)
	ArtifactsForRun(runID int64) ([]*Artifact, error)
	Close() error
}
