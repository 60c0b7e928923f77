// Package patch applies line-oriented transforms to configuration text.
//
// The two operations have different repeat behavior on purpose.
// DeleteContaining is idempotent. InsertAfter is not: it never checks
// whether the inserted line is already present, so each application adds
// another copy. The workflow this tool reproduces re-downloads the
// config before patching, which is what keeps repeated runs stable.
package patch

import (
	"fmt"
	"os"
	"strings"

	"gwpipe/internal/manifest"
)

// splitKeep splits text into lines, each keeping its trailing newline.
// A final unterminated line is returned as-is, so joining the segments
// reproduces the input byte for byte.
func splitKeep(text string) []string {
	if text == "" {
		return nil
	}
	var segs []string
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			return append(segs, text)
		}
		segs = append(segs, text[:i+1])
		text = text[i+1:]
		if text == "" {
			return segs
		}
	}
}

func lineOf(seg string) string {
	return strings.TrimSuffix(seg, "\n")
}

// DeleteContaining removes every line whose text contains substr.
func DeleteContaining(text, substr string) string {
	var b strings.Builder
	for _, seg := range splitKeep(text) {
		if strings.Contains(lineOf(seg), substr) {
			continue
		}
		b.WriteString(seg)
	}
	return b.String()
}

// InsertAfter inserts line after every line containing marker. The
// presence or absence of a final newline in text is preserved.
func InsertAfter(text, marker, line string) string {
	var b strings.Builder
	for _, seg := range splitKeep(text) {
		b.WriteString(seg)
		if !strings.Contains(lineOf(seg), marker) {
			continue
		}
		if strings.HasSuffix(seg, "\n") {
			b.WriteString(line)
			b.WriteString("\n")
		} else {
			b.WriteString("\n")
			b.WriteString(line)
		}
	}
	return b.String()
}

// Apply runs the rules in order over text and returns the result.
func Apply(text string, rules []manifest.PatchRule) (string, error) {
	for i, r := range rules {
		switch {
		case r.DeleteContaining != "":
			text = DeleteContaining(text, r.DeleteContaining)
		case r.InsertAfter != "":
			if r.Insert == "" {
				return "", fmt.Errorf("patch rule %d: insert_after needs insert", i)
			}
			text = InsertAfter(text, r.InsertAfter, r.Insert)
		default:
			return "", fmt.Errorf("patch rule %d: empty rule", i)
		}
	}
	return text, nil
}

// ApplyFile reads path, applies the rules, and writes the result back
// to the same path.
func ApplyFile(path string, rules []manifest.PatchRule) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	out, err := Apply(string(data), rules)
	if err != nil {
		return fmt.Errorf("patch %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
