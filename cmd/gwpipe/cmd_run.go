package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gwpipe/internal/display"
	"gwpipe/internal/fetch"
	"gwpipe/internal/format"
	"gwpipe/internal/pipeline"
	"gwpipe/internal/store"
)

var runFlags struct {
	manifestPath string
	workdir      string
	dbPath       string
	noLedger     bool
	strict       bool
	dryRun       bool
	progress     bool
	inferenceBin string
	summaryBin   string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: strain, config, inference, summary",
	Long: `Run executes the stages in fixed order: ensure each strain frame is
present locally, fetch and patch the inference configuration, run the
inference tool, run the summary tool.

A failed stage does not stop the stages after it; the process exits
with the exit code of the last stage that ran, exactly as the
equivalent shell sequence would. Use --strict to stop at the first
failure instead.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.manifestPath, "manifest", "m", "", "Manifest file (YAML or JSON); default is the built-in GW170817 manifest")
	f.StringVarP(&runFlags.workdir, "workdir", "C", ".", "Working directory for downloads and tool runs")
	f.StringVar(&runFlags.dbPath, "db", "", "Ledger DB path (default <workdir>/"+store.DefaultDBPath+")")
	f.BoolVar(&runFlags.noLedger, "no-ledger", false, "Skip recording the run in the ledger")
	f.BoolVar(&runFlags.strict, "strict", false, "Stop at the first failed stage")
	f.BoolVar(&runFlags.dryRun, "dry-run", false, "Print what each stage would do without doing it")
	f.BoolVar(&runFlags.progress, "progress", false, "Show a progress bar for downloads")
	f.StringVar(&runFlags.inferenceBin, "inference-bin", "", "Inference executable (default from manifest; $GWPIPE_INFERENCE_BIN)")
	f.StringVar(&runFlags.summaryBin, "summary-bin", "", "Summary executable (default from manifest; $GWPIPE_SUMMARY_BIN)")
}

func runRun(cmd *cobra.Command, _ []string) error {
	m, err := loadManifest(runFlags.manifestPath)
	if err != nil {
		return err
	}
	applyToolOverrides(m, runFlags.inferenceBin, runFlags.summaryBin)

	out := cmd.OutOrStdout()

	fetcher := fetch.NewClient("gwpipe/" + version)
	if runFlags.progress {
		fetcher.Progress = os.Stderr
	}
	deps := pipeline.Deps{
		Fetcher: fetcher,
		WorkDir: runFlags.workdir,
	}

	if !runFlags.noLedger && !runFlags.dryRun {
		st, err := store.Open(ledgerPath(runFlags.dbPath, runFlags.workdir))
		if err != nil {
			fmt.Fprintf(os.Stderr, "ledger unavailable (%v); continuing without it\n", err)
		} else {
			deps.Ledger = st
			defer st.Close()
		}
	}

	pipe, err := pipeline.Build(m, deps)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run: %s", m.Name)
	if m.Event != "" {
		fmt.Fprintf(out, " (%s)", m.Event)
	}
	fmt.Fprintf(out, "\nStages: %s\n\n", display.StagePath(pipe.Codes()))

	opts := pipeline.Options{
		Strict: runFlags.strict,
		DryRun: runFlags.dryRun,
		OnStage: func(res pipeline.StageResult) {
			if runFlags.dryRun {
				fmt.Fprintf(out, "  plan  %-22s %s\n", display.StageWithCode(res.Code), res.Detail)
				return
			}
			mark := format.BoolMark(res.Status == store.StepOK)
			fmt.Fprintf(out, "%s %-22s %s (%s)\n",
				mark, display.StageWithCode(res.Code), res.Detail, format.FmtMS(res.Duration.Milliseconds()))
			if res.Err != nil {
				fmt.Fprintf(out, "  error: %v\n", res.Err)
			}
		},
	}

	sum := pipe.Run(cmd.Context(), opts)

	if sum.Interrupted {
		return fmt.Errorf("run interrupted after %d of %d stages", len(sum.Results), len(pipe.Stages))
	}
	if runFlags.dryRun {
		fmt.Fprintf(out, "\nDry run: %d stages planned, nothing executed.\n", len(sum.Results))
		return nil
	}

	if failed := sum.Failed(); len(failed) > 0 {
		fmt.Fprintf(out, "\n%d of %d stages failed:\n", len(failed), len(sum.Results))
		for _, r := range failed {
			fmt.Fprintf(out, "  %s (exit %d)\n", display.StageWithCode(r.Code), r.ExitCode)
		}
	} else {
		fmt.Fprintf(out, "\nAll %d stages completed.\n", len(sum.Results))
	}
	if sum.RunID != 0 {
		fmt.Fprintf(out, "Recorded as run #%d.\n", sum.RunID)
	}

	if sum.ExitCode != 0 {
		return exitCodeError{sum.ExitCode}
	}
	return nil
}
