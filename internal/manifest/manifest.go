// Package manifest describes a data-prep-and-run workflow: which strain
// frames must be present, where the run configuration comes from, how it
// is patched, and which external tools consume it.
package manifest

import (
	"fmt"
	"strings"
)

// Manifest is a complete run description. Load one from disk or start
// from Default, then call Normalize before handing it to the pipeline.
type Manifest struct {
	Name      string      `yaml:"name" json:"name"`
	Event     string      `yaml:"event,omitempty" json:"event,omitempty"`
	Strain    StrainSet   `yaml:"strain" json:"strain"`
	Config    ConfigSpec  `yaml:"config" json:"config"`
	Inference ToolSpec    `yaml:"inference" json:"inference"`
	Summary   SummarySpec `yaml:"summary" json:"summary"`
}

// StrainSet lists the frame files a run needs locally. Entries without an
// explicit file or URL are resolved from Template and BaseURL.
type StrainSet struct {
	BaseURL  string       `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Template string       `yaml:"template,omitempty" json:"template,omitempty"`
	Files    []StrainFile `yaml:"files" json:"files"`
}

// StrainFile is one required frame. Code is the observatory-prefixed
// detector code ("H-H1"). File and URL are filled by Normalize when empty.
type StrainFile struct {
	Code   string `yaml:"code" json:"code"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
	URL    string `yaml:"url,omitempty" json:"url,omitempty"`
	SHA256 string `yaml:"sha256,omitempty" json:"sha256,omitempty"`
}

// ConfigSpec is the run configuration source. The file is re-downloaded
// on every run and then patched in place.
type ConfigSpec struct {
	URL     string      `yaml:"url" json:"url"`
	File    string      `yaml:"file,omitempty" json:"file,omitempty"`
	Patches []PatchRule `yaml:"patches,omitempty" json:"patches,omitempty"`
}

// PatchRule is one line-oriented transform. Exactly one of
// DeleteContaining or InsertAfter must be set; InsertAfter requires
// Insert.
type PatchRule struct {
	DeleteContaining string `yaml:"delete_containing,omitempty" json:"delete_containing,omitempty"`
	InsertAfter      string `yaml:"insert_after,omitempty" json:"insert_after,omitempty"`
	Insert           string `yaml:"insert,omitempty" json:"insert,omitempty"`
}

// ToolSpec names the inference executable and its output artifact. Args
// are appended after the fixed --config-file/--output-file contract.
type ToolSpec struct {
	Bin    string   `yaml:"bin,omitempty" json:"bin,omitempty"`
	Output string   `yaml:"output,omitempty" json:"output,omitempty"`
	Args   []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// SummarySpec names the summary executable and its fixed arguments.
type SummarySpec struct {
	Bin         string   `yaml:"bin,omitempty" json:"bin,omitempty"`
	WebDir      string   `yaml:"webdir,omitempty" json:"webdir,omitempty"`
	SamplesPath string   `yaml:"path_to_samples,omitempty" json:"path_to_samples,omitempty"`
	GW          *bool    `yaml:"gw,omitempty" json:"gw,omitempty"`
	Args        []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// GWEnabled reports whether the summary tool gets the --gw flag.
// Unset means yes.
func (s SummarySpec) GWEnabled() bool {
	return s.GW == nil || *s.GW
}

// Defaults for the tool stages. They match the workflow this tool
// reproduces and apply whenever a manifest leaves the field empty.
const (
	DefaultConfigFile   = "single.ini"
	DefaultInferenceBin = "pycbc_inference"
	DefaultOutput       = "./pycbc.hdf5"
	DefaultSummaryBin   = "summarypages"
	DefaultWebDir       = "./outdir/webpage"
	DefaultSamplesPath  = "samples"
)

// Normalize fills defaults and resolves strain file names and URLs in
// place. It returns the first validation error it finds, naming the
// offending field.
func (m *Manifest) Normalize() error {
	if m.Config.URL == "" {
		return fmt.Errorf("manifest: config.url is required")
	}
	if m.Config.File == "" {
		m.Config.File = DefaultConfigFile
	}
	for i, p := range m.Config.Patches {
		if err := p.validate(); err != nil {
			return fmt.Errorf("manifest: config.patches[%d]: %w", i, err)
		}
	}

	if m.Inference.Bin == "" {
		m.Inference.Bin = DefaultInferenceBin
	}
	if m.Inference.Output == "" {
		m.Inference.Output = DefaultOutput
	}
	if m.Summary.Bin == "" {
		m.Summary.Bin = DefaultSummaryBin
	}
	if m.Summary.WebDir == "" {
		m.Summary.WebDir = DefaultWebDir
	}
	if m.Summary.SamplesPath == "" {
		m.Summary.SamplesPath = DefaultSamplesPath
	}

	for i := range m.Strain.Files {
		f := &m.Strain.Files[i]
		if f.Code == "" && f.File == "" {
			return fmt.Errorf("manifest: strain.files[%d]: code or file is required", i)
		}
		if f.File == "" {
			if m.Strain.Template == "" {
				return fmt.Errorf("manifest: strain.files[%d] (%s): no file and no strain.template to derive one", i, f.Code)
			}
			f.File = strings.ReplaceAll(m.Strain.Template, "{code}", f.Code)
		}
		if f.URL == "" {
			if m.Strain.BaseURL == "" {
				return fmt.Errorf("manifest: strain.files[%d] (%s): no url and no strain.base_url to derive one", i, f.Code)
			}
			f.URL = strings.TrimSuffix(m.Strain.BaseURL, "/") + "/" + f.File
		}
	}
	return nil
}

func (p PatchRule) validate() error {
	switch {
	case p.DeleteContaining != "" && p.InsertAfter != "":
		return fmt.Errorf("delete_containing and insert_after are mutually exclusive")
	case p.DeleteContaining == "" && p.InsertAfter == "":
		return fmt.Errorf("one of delete_containing or insert_after is required")
	case p.InsertAfter != "" && p.Insert == "":
		return fmt.Errorf("insert_after needs insert")
	case p.DeleteContaining != "" && p.Insert != "":
		return fmt.Errorf("insert is only valid with insert_after")
	}
	return nil
}
