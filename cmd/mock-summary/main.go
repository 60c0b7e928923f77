// mock-summary is a deterministic stand-in for summarypages. It checks
// the argument contract, requires the posterior file to exist, and
// renders a minimal results page under --webdir.
// This binary is testing-only — it has no role in production.
//
// Usage: mock-summary --webdir DIR --samples FILE [--gw] [--path_to_samples KEY]
//
// GWPIPE_MOCK_EXIT forces the exit code after the page is written, for
// tests that need a failing summary stage.
package main

import (
	"bytes"
	"html/template"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Parameter Estimation Summary</title>
</head>
<body>
<h1 id="title">Parameter Estimation Summary</h1>
<table>
<tr><td>Samples file</td><td id="samples-file">{{.Samples}}</td></tr>
<tr><td>Samples group</td><td id="samples-group">{{.Group}}</td></tr>
<tr><td>GW mode</td><td id="gw-mode">{{.GWMode}}</td></tr>
<tr><td>Generated</td><td id="generated">{{.Generated}}</td></tr>
</table>
</body>
</html>
`))

var hdf5Magic = []byte("\x89HDF\r\n\x1a\n")

func main() {
	log.SetFlags(0)
	log.SetPrefix("[mock-summary] ")

	var webdir, samples, group string
	gw := false
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--webdir":
			i++
			if i < len(args) {
				webdir = args[i]
			}
		case "--samples":
			i++
			if i < len(args) {
				samples = args[i]
			}
		case "--path_to_samples":
			i++
			if i < len(args) {
				group = args[i]
			}
		case "--gw":
			gw = true
		}
	}
	if webdir == "" || samples == "" {
		log.Print("usage: mock-summary --webdir DIR --samples FILE [--gw] [--path_to_samples KEY]")
		os.Exit(2)
	}

	head := make([]byte, len(hdf5Magic))
	f, err := os.Open(samples)
	if err != nil {
		log.Printf("samples: %v", err)
		os.Exit(1)
	}
	n, _ := f.Read(head)
	f.Close()
	if n < len(hdf5Magic) || !bytes.Equal(head, hdf5Magic) {
		log.Printf("samples %s is not an HDF5 file", samples)
		os.Exit(1)
	}

	if err := os.MkdirAll(webdir, 0755); err != nil {
		log.Printf("webdir: %v", err)
		os.Exit(1)
	}
	gwMode := "off"
	if gw {
		gwMode = "on"
	}
	var page bytes.Buffer
	err = homeTemplate.Execute(&page, map[string]string{
		"Samples":   filepath.Base(samples),
		"Group":     group,
		"GWMode":    gwMode,
		"Generated": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("render: %v", err)
		os.Exit(1)
	}
	home := filepath.Join(webdir, "home.html")
	if err := os.WriteFile(home, page.Bytes(), 0644); err != nil {
		log.Printf("write %s: %v", home, err)
		os.Exit(1)
	}
	log.Printf("wrote %s (%d bytes)", home, page.Len())

	if v := os.Getenv("GWPIPE_MOCK_EXIT"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("GWPIPE_MOCK_EXIT=%q: %v", v, err)
			os.Exit(2)
		}
		os.Exit(code)
	}
}
