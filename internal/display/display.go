// Package display provides human-readable names for machine codes.
//
// Rule: code is for machines, words are for humans.
// Use these functions in CLI output, tables, and logs. Keep raw codes for
// filenames, map keys, and equality comparisons.
package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// --- Detectors ---

var detectors = map[string]string{
	"H1": "LIGO Hanford",
	"L1": "LIGO Livingston",
	"V1": "Virgo",
	"G1": "GEO600",
	"K1": "KAGRA",
}

// detectorCode strips the observatory prefix from a frame-style code:
// "H-H1" -> "H1". Plain interferometer codes pass through unchanged.
func detectorCode(code string) string {
	if i := strings.IndexByte(code, '-'); i >= 0 {
		return code[i+1:]
	}
	return code
}

// Detector returns the human-readable observatory name for a detector
// code. Accepts both "H1" and the observatory-prefixed "H-H1" form.
// Unknown codes are returned as-is.
func Detector(code string) string {
	if name, ok := detectors[detectorCode(code)]; ok {
		return name
	}
	return code
}

// DetectorWithCode returns "LIGO Hanford (H-H1)" format.
func DetectorWithCode(code string) string {
	if name, ok := detectors[detectorCode(code)]; ok {
		return name + " (" + code + ")"
	}
	return code
}

// --- Pipeline Stages ---

var stages = map[string]string{
	"strain":    "Strain Data",
	"config":    "Configuration",
	"inference": "Inference",
	"summary":   "Summary Pages",
}

// Stage returns the human-readable name for a pipeline stage code.
// Strain stages carry a detector suffix: "strain:H-H1" -> "Strain Data H-H1".
func Stage(code string) string {
	kind, arg, _ := strings.Cut(code, ":")
	name, ok := stages[kind]
	if !ok {
		return code
	}
	if arg != "" {
		return name + " " + arg
	}
	return name
}

// StageWithCode returns "Inference (inference)" format for dual-audience
// contexts. Strain stages render as "Strain Data (strain:H-H1)".
func StageWithCode(code string) string {
	kind, _, _ := strings.Cut(code, ":")
	name, ok := stages[kind]
	if !ok {
		return code
	}
	return name + " (" + code + ")"
}

// StagePath converts a slice of stage codes to a human-readable path.
// ["config", "inference", "summary"] -> "Configuration → Inference → Summary Pages"
func StagePath(codes []string) string {
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = Stage(c)
	}
	return strings.Join(names, " → ")
}

// --- Frame files ---

// Frame is the decomposition of a GWF frame filename following the
// "{observatory}-{description}-{gpsstart}-{duration}.gwf" convention,
// e.g. "H-H1_LOSC_CLN_4_V1-1187007040-2048.gwf".
type Frame struct {
	Observatory string
	Description string
	GPSStart    int64
	Duration    int64
}

// GPS time runs ahead of UTC by the leap seconds accumulated since the
// GPS epoch (1980-01-06). The count has been 18 since 2017-01-01, which
// covers the O2 data this tool handles.
const (
	gpsEpochUnix   = 315964800
	gpsLeapSeconds = 18
)

// ParseFrameName decomposes a GWF filename into its convention fields.
func ParseFrameName(name string) (Frame, error) {
	base, ok := strings.CutSuffix(name, ".gwf")
	if !ok {
		return Frame{}, fmt.Errorf("frame name %q: missing .gwf suffix", name)
	}
	obs, rest, ok := strings.Cut(base, "-")
	if !ok || obs == "" {
		return Frame{}, fmt.Errorf("frame name %q: missing observatory prefix", name)
	}
	// The description may itself contain dashes; GPS start and duration
	// are the last two dash-separated fields.
	i := strings.LastIndexByte(rest, '-')
	if i < 0 {
		return Frame{}, fmt.Errorf("frame name %q: missing duration field", name)
	}
	dur, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("frame name %q: duration: %w", name, err)
	}
	rest = rest[:i]
	i = strings.LastIndexByte(rest, '-')
	if i < 0 {
		return Frame{}, fmt.Errorf("frame name %q: missing GPS start field", name)
	}
	gps, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("frame name %q: GPS start: %w", name, err)
	}
	return Frame{
		Observatory: obs,
		Description: rest[:i],
		GPSStart:    gps,
		Duration:    dur,
	}, nil
}

// Detector returns the interferometer code embedded in the description
// ("H1_LOSC_CLN_4_V1" -> "H1"), or "" when the description has none.
func (f Frame) Detector() string {
	code, _, _ := strings.Cut(f.Description, "_")
	if _, ok := detectors[code]; ok {
		return code
	}
	return ""
}

// StartUTC converts the frame's GPS start time to UTC.
func (f Frame) StartUTC() time.Time {
	return GPSToUTC(f.GPSStart)
}

// GPSToUTC converts a GPS timestamp to UTC wall-clock time.
func GPSToUTC(gps int64) time.Time {
	return time.Unix(gps+gpsEpochUnix-gpsLeapSeconds, 0).UTC()
}

// FrameSummary renders a one-line description of a frame filename for
// status output, or "" when the name does not follow the convention.
// "H-H1_LOSC_CLN_4_V1-1187007040-2048.gwf" ->
// "LIGO Hanford, 2048 s from GPS 1187007040 (2017-08-17 12:10:22 UTC)".
func FrameSummary(name string) string {
	f, err := ParseFrameName(name)
	if err != nil {
		return ""
	}
	who := f.Observatory
	if det := f.Detector(); det != "" {
		who = Detector(det)
	}
	return fmt.Sprintf("%s, %d s from GPS %d (%s UTC)",
		who, f.Duration, f.GPSStart, f.StartUTC().Format("2006-01-02 15:04:05"))
}

// --- Sizes ---

// Bytes renders a byte count for humans: 2048 -> "2.0 kB".
func Bytes(n int64) string {
	if n < 0 {
		return "?"
	}
	return humanize.Bytes(uint64(n))
}
