package main

import (
	"os"
	"path/filepath"

	"gwpipe/internal/manifest"
	"gwpipe/internal/store"
)

// envOr returns the environment variable's value, or def when unset.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadManifest loads the manifest at path, or the built-in GW170817
// manifest when path is empty.
func loadManifest(path string) (*manifest.Manifest, error) {
	if path == "" {
		return manifest.Default()
	}
	return manifest.LoadFromPath(path)
}

// applyToolOverrides replaces the manifest's tool binaries with the
// flag or environment overrides, flags winning.
func applyToolOverrides(m *manifest.Manifest, inferenceBin, summaryBin string) {
	if bin := firstOf(inferenceBin, os.Getenv("GWPIPE_INFERENCE_BIN")); bin != "" {
		m.Inference.Bin = bin
	}
	if bin := firstOf(summaryBin, os.Getenv("GWPIPE_SUMMARY_BIN")); bin != "" {
		m.Summary.Bin = bin
	}
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ledgerPath resolves the ledger DB location: the explicit flag if
// given, otherwise the default path under the working directory.
func ledgerPath(dbFlag, workdir string) string {
	if dbFlag != "" {
		return dbFlag
	}
	return filepath.Join(workdir, store.DefaultDBPath)
}
