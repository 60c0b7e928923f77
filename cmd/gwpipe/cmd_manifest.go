package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"gwpipe/internal/display"
)

var manifestFlags struct {
	manifestPath string
	asJSON       bool
	validate     bool
}

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Print the resolved run manifest",
	Long: `Print the manifest the pipeline would run, with file names and URLs
resolved from the strain template. Without --manifest this is the
built-in GW170817 manifest; use it as a starting point for your own.`,
	RunE: runManifest,
}

func init() {
	f := manifestCmd.Flags()
	f.StringVarP(&manifestFlags.manifestPath, "manifest", "m", "", "Manifest file (YAML or JSON); default is the built-in GW170817 manifest")
	f.BoolVar(&manifestFlags.asJSON, "json", false, "Emit JSON instead of YAML")
	f.BoolVar(&manifestFlags.validate, "validate", false, "Only check the manifest; print a one-line verdict")
}

func runManifest(cmd *cobra.Command, _ []string) error {
	m, err := loadManifest(manifestFlags.manifestPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if manifestFlags.validate {
		dets := make([]string, 0, len(m.Strain.Files))
		for _, f := range m.Strain.Files {
			dets = append(dets, display.Detector(f.Code))
		}
		fmt.Fprintf(out, "manifest ok: %s, %d strain file(s) (%s), %d patch rule(s)\n",
			m.Name, len(m.Strain.Files), strings.Join(dets, ", "), len(m.Config.Patches))
		return nil
	}

	if manifestFlags.asJSON {
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return fmt.Errorf("encode manifest: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return enc.Close()
}
