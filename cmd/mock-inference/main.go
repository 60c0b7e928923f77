// mock-inference is a deterministic stand-in for pycbc_inference. It
// validates the command-line contract the pipeline promises, checks that
// the configuration was patched, and writes a stub posterior file.
// This binary is testing-only — it has no role in production.
//
// Usage: mock-inference --config-file FILE --output-file FILE
//
// GWPIPE_MOCK_EXIT forces the exit code after the checks, for tests that
// need a failing inference stage.
package main

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// hdf5Magic is the HDF5 format signature. The stub output carries it so
// cautious readers recognize the file type.
var hdf5Magic = []byte("\x89HDF\r\n\x1a\n")

func main() {
	log.SetFlags(0)
	log.SetPrefix("[mock-inference] ")

	var configFile, outputFile string
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config-file":
			i++
			if i < len(args) {
				configFile = args[i]
			}
		case "--output-file":
			i++
			if i < len(args) {
				outputFile = args[i]
			}
		}
	}
	if configFile == "" || outputFile == "" {
		log.Print("usage: mock-inference --config-file FILE --output-file FILE")
		os.Exit(2)
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		log.Printf("config: %v", err)
		os.Exit(1)
	}
	cfg := string(data)
	if strings.Contains(cfg, "no-save-data") {
		log.Print("config still contains no-save-data; it was not patched")
		os.Exit(1)
	}
	if !strings.Contains(cfg, "dlogz") {
		log.Print("config has no dlogz setting; it was not patched")
		os.Exit(1)
	}

	var buf bytes.Buffer
	buf.Write(hdf5Magic)
	fmt.Fprintf(&buf, "mock posterior from %s, generated %s\n",
		configFile, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(outputFile, buf.Bytes(), 0644); err != nil {
		log.Printf("write %s: %v", outputFile, err)
		os.Exit(1)
	}
	log.Printf("wrote %s (%d bytes)", outputFile, buf.Len())

	if v := os.Getenv("GWPIPE_MOCK_EXIT"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("GWPIPE_MOCK_EXIT=%q: %v", v, err)
			os.Exit(2)
		}
		os.Exit(code)
	}
}
