package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gwpipe/internal/display"
	"gwpipe/internal/fetch"
	"gwpipe/internal/format"
	"gwpipe/internal/manifest"
	"gwpipe/internal/store"
)

var statusFlags struct {
	manifestPath string
	workdir      string
	dbPath       string
	limit        int
	verify       bool
	markdown     bool
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local input files and recorded runs",
	RunE:  runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.StringVarP(&statusFlags.manifestPath, "manifest", "m", "", "Manifest file (YAML or JSON); default is the built-in GW170817 manifest")
	f.StringVarP(&statusFlags.workdir, "workdir", "C", ".", "Directory holding the input files")
	f.StringVar(&statusFlags.dbPath, "db", "", "Ledger DB path (default <workdir>/"+store.DefaultDBPath+")")
	f.IntVar(&statusFlags.limit, "limit", 5, "Number of recorded runs to show")
	f.BoolVar(&statusFlags.verify, "verify", false, "Compute SHA-256 of the local input files")
	f.BoolVar(&statusFlags.markdown, "markdown", false, "Render tables as Markdown")
}

func tableMode() format.Mode {
	if statusFlags.markdown {
		return format.Markdown
	}
	return format.ASCII
}

func runStatus(cmd *cobra.Command, _ []string) error {
	m, err := loadManifest(statusFlags.manifestPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if err := printInputs(cmd, m); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return printRuns(cmd)
}

func printInputs(cmd *cobra.Command, m *manifest.Manifest) error {
	out := cmd.OutOrStdout()

	type fileRow struct {
		name    string
		present bool
		bytes   int64
		frame   string
		sha     string
	}
	rows := make([]fileRow, 0, len(m.Strain.Files)+1)
	for _, f := range m.Strain.Files {
		row := fileRow{name: f.File, frame: display.FrameSummary(f.File)}
		if fi, err := os.Stat(filepath.Join(statusFlags.workdir, f.File)); err == nil && !fi.IsDir() {
			row.present = true
			row.bytes = fi.Size()
		}
		rows = append(rows, row)
	}
	cfgRow := fileRow{name: m.Config.File, frame: "inference configuration"}
	if fi, err := os.Stat(filepath.Join(statusFlags.workdir, m.Config.File)); err == nil && !fi.IsDir() {
		cfgRow.present = true
		cfgRow.bytes = fi.Size()
	}
	rows = append(rows, cfgRow)

	if statusFlags.verify {
		// Frames run to hundreds of megabytes; hash a few at a time.
		g, _ := errgroup.WithContext(cmd.Context())
		g.SetLimit(3)
		for i := range rows {
			if !rows[i].present {
				continue
			}
			i := i
			g.Go(func() error {
				sum, _, err := fetch.FileSHA256(filepath.Join(statusFlags.workdir, rows[i].name))
				if err != nil {
					return fmt.Errorf("hash %s: %w", rows[i].name, err)
				}
				rows[i].sha = sum
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Inputs in %s:\n", statusFlags.workdir)
	tb := format.NewTable(tableMode())
	if statusFlags.verify {
		tb.Header("", "File", "Size", "Description", "SHA-256")
	} else {
		tb.Header("", "File", "Size", "Description")
	}
	var total int64
	for _, r := range rows {
		size := "-"
		if r.present {
			size = display.Bytes(r.bytes)
			total += r.bytes
		}
		if statusFlags.verify {
			sha := "-"
			if r.sha != "" {
				sha = r.sha
			}
			tb.Row(format.BoolMark(r.present), r.name, size, r.frame, sha)
		} else {
			tb.Row(format.BoolMark(r.present), r.name, size, r.frame)
		}
	}
	tb.Columns(format.ColumnConfig{Number: 3, Align: format.AlignRight})
	fmt.Fprintln(out, tb.String())
	fmt.Fprintf(out, "Total on disk: %s\n", display.Bytes(total))
	return nil
}

func printRuns(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	dbPath := ledgerPath(statusFlags.dbPath, statusFlags.workdir)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(out, "No recorded runs (no ledger at %s).\n", dbPath)
		return nil
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(statusFlags.limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No recorded runs yet. Start one with 'gwpipe run'.")
		return nil
	}

	fmt.Fprintf(out, "Recorded runs (latest %d):\n", len(runs))
	tb := format.NewTable(tableMode())
	tb.Header("#", "Name", "Status", "Exit", "Started", "Finished")
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt != "" {
			finished = r.FinishedAt
		}
		tb.Row(r.ID, r.Name, r.Status, r.ExitCode, r.StartedAt, finished)
	}
	fmt.Fprintln(out, tb.String())

	latest := runs[0]
	steps, err := st.StepsForRun(latest.ID)
	if err != nil {
		return fmt.Errorf("steps for run %d: %w", latest.ID, err)
	}
	if len(steps) > 0 {
		fmt.Fprintf(out, "\nStages of run #%d:\n", latest.ID)
		tb := format.NewTable(tableMode())
		tb.Header("", "Stage", "Exit", "Duration", "Error")
		for _, s := range steps {
			errText := ""
			if s.Error != "" {
				errText = format.Truncate(s.Error, 48)
			}
			tb.Row(format.BoolMark(s.Status == store.StepOK),
				display.StageWithCode(s.Stage), s.ExitCode, format.FmtMS(s.DurationMS), errText)
		}
		fmt.Fprintln(out, tb.String())
	}

	arts, err := st.ArtifactsForRun(latest.ID)
	if err != nil {
		return fmt.Errorf("artifacts for run %d: %w", latest.ID, err)
	}
	if len(arts) > 0 {
		fmt.Fprintf(out, "\nArtifacts of run #%d:\n", latest.ID)
		tb := format.NewTable(tableMode())
		tb.Header("Path", "Kind", "Size")
		var total int64
		for _, a := range arts {
			tb.Row(a.Path, a.Kind, display.Bytes(a.Bytes))
			total += a.Bytes
		}
		tb.Footer("total", "", display.Bytes(total))
		tb.Columns(format.ColumnConfig{Number: 3, Align: format.AlignRight})
		fmt.Fprintln(out, tb.String())
	}
	return nil
}
