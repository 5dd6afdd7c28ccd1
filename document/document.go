// Package document wraps a sanitized HTML fragment in a self-contained,
// print-oriented HTML document. The embedded stylesheet and the title are
// selected by preset. All functions are pure.
package document

import "fmt"

// Preset identifiers.
const (
	PresetReport = "report"
	PresetNotes  = "notes"
	PresetResume = "resume"
)

// docTemplate is the print template shared by all presets. The @page rule
// drives the PDF margins; the renderer is configured to honor CSS page size.
const docTemplate = `<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>%s</title>
  <style>
    @page { margin: 28mm 18mm; }
    body {
      font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Helvetica, Arial;
      color: #111;
      line-height: 1.5;
      font-size: 12.5pt;
    }
    h1 { font-size: 22pt; margin: 0 0 12mm 0; letter-spacing: -0.02em; }
    .content pre { background: #f6f8fa; padding: 10px 12px; border-radius: 6px; font-size: 10.5pt; }
    .content code { font-family: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, "Liberation Mono", "Courier New", monospace; }
  </style>
</head>
<body>
  <h1>%s</h1>
  <div class="content">%s</div>
</body>
</html>`

// Valid reports whether preset names one of the known presets.
func Valid(preset string) bool {
	switch preset {
	case PresetReport, PresetNotes, PresetResume:
		return true
	}
	return false
}

// Normalize maps any string to a known preset. Empty and unrecognized
// values fall back to the report preset; never an error.
func Normalize(preset string) string {
	if Valid(preset) {
		return preset
	}
	return PresetReport
}

// Title returns the document title for a preset.
func Title(preset string) string {
	switch preset {
	case PresetResume:
		return "Resume"
	case PresetNotes:
		return "Notes"
	default:
		return "Report"
	}
}

// Build wraps fragment in the print template for the given preset. The
// fragment must already be sanitized; it is embedded verbatim.
func Build(fragment, preset string) string {
	title := Title(Normalize(preset))
	return fmt.Sprintf(docTemplate, title, title, fragment)
}
