// Package report renders the outcome of a profiling run.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/skobkin/gpu-optimus/internal/analysis"
	"github.com/skobkin/gpu-optimus/internal/device"
	"github.com/skobkin/gpu-optimus/internal/stats"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Report is everything known about a finished run.
type Report struct {
	Device      device.Info       `json:"device"`
	Command     []string          `json:"command"`
	ExitCode    int               `json:"exit_code"`
	Interrupted bool              `json:"interrupted"`
	Stats       stats.Stats       `json:"stats"`
	Analysis    analysis.Analysis `json:"analysis"`
}

// RenderJSON writes the report as an indented JSON document.
func RenderJSON(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// Render writes the report in the requested format.
func Render(w io.Writer, rep Report, format string, opts TextOptions) error {
	switch format {
	case FormatJSON:
		return RenderJSON(w, rep)
	case FormatText, "":
		return RenderText(w, rep, opts)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
