package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"

	"github.com/skobkin/gpu-optimus/internal/analysis"
)

const (
	colorGreen  = lipgloss.Color("2")
	colorRed    = lipgloss.Color("1")
	colorYellow = lipgloss.Color("3")
	colorBlue   = lipgloss.Color("4")
	colorPurple = lipgloss.Color("5")
)

// TextOptions tunes the terminal report.
type TextOptions struct {
	NoColor bool
}

// RenderText writes the human-readable report: a utilization panel, a cost
// panel and the recommendations table. Colour is used only when w is a
// colour-capable terminal and NoColor is unset.
func RenderText(w io.Writer, rep Report, opts TextOptions) error {
	r := lipgloss.NewRenderer(w)
	if opts.NoColor {
		r.SetColorProfile(termenv.Ascii)
	}

	sections := []string{
		panel(r, "GPU Utilization Summary", colorGreen, utilizationLines(r, rep)),
		panel(r, "Cost Analysis", colorRed, costLines(r, rep.Analysis.Cost)),
	}

	if len(rep.Analysis.Recommendations) == 0 {
		sections = append(sections, r.NewStyle().Foreground(colorGreen).
			Render("No major optimization opportunities found. Great job!"))
	} else {
		sections = append(sections, panel(r, "Recommendations", colorBlue, []string{
			recommendationsTable(r, rep.Analysis.Recommendations),
		}))
	}

	_, err := fmt.Fprintln(w, strings.Join(sections, "\n"))
	return err
}

func utilizationLines(r *lipgloss.Renderer, rep Report) []string {
	bold := r.NewStyle().Bold(true)
	st := rep.Stats

	lines := []string{
		bold.Render("Device:") + " " + deviceLabel(rep),
		bold.Render("Job Duration:") + fmt.Sprintf(" %.0f seconds (%.2f hours)", st.DurationSec, st.DurationSec/3600),
		bold.Render("GPU Compute:") + fmt.Sprintf(" %.1f%% avg, ", st.AvgComputeUtil) +
			r.NewStyle().Foreground(colorRed).Render(fmt.Sprintf("%.1f%% idle", st.IdlePct)),
		bold.Render("GPU Memory:") + fmt.Sprintf(" %.1f%% avg, %.1fGB peak of %.1fGB", st.AvgMemUtilPct, st.PeakMemUsedGB, st.MemTotalGB),
		bold.Render("Samples:") + fmt.Sprintf(" %d", st.SampleCount),
	}

	switch {
	case rep.Interrupted:
		lines = append(lines, r.NewStyle().Foreground(colorYellow).Render("Command interrupted by user."))
	case rep.ExitCode != 0:
		lines = append(lines, r.NewStyle().Foreground(colorRed).Render(fmt.Sprintf("Command failed with exit code %d", rep.ExitCode)))
	}
	return lines
}

func costLines(r *lipgloss.Renderer, cost analysis.CostAnalysis) []string {
	bold := r.NewStyle().Bold(true)

	rate := fmt.Sprintf("$%.2f/hr", cost.HourlyRate)
	if !cost.RateKnown {
		rate = "unknown rate"
	}
	return []string{
		bold.Render("Instance:") + fmt.Sprintf(" %s (%s) @ %s", cost.InstanceType, cost.CloudProvider, rate),
		bold.Render("Total Cost:") + fmt.Sprintf(" $%.2f", cost.TotalCost),
		r.NewStyle().Foreground(colorRed).Render("Wasted Cost (Idle):") + fmt.Sprintf(" $%.2f", cost.WastedCost),
	}
}

func recommendationsTable(r *lipgloss.Renderer, recs []analysis.Recommendation) string {
	widths := []int{8, 18, 40, 48}
	header := r.NewStyle().Bold(true).Foreground(colorPurple).Padding(0, 1)
	cell := r.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.NewStyle().Foreground(colorBlue)).
		Headers("Priority", "Category", "Message", "Suggestion").
		StyleFunc(func(row, col int) lipgloss.Style {
			width := widths[col%len(widths)] + 2
			if row == table.HeaderRow {
				return header.Width(width)
			}
			style := cell.Width(width)
			if col == 0 && row >= 0 && row < len(recs) {
				color := colorYellow
				if recs[row].Priority == analysis.PriorityHigh {
					color = colorRed
				}
				style = style.Foreground(color)
			}
			return style
		})

	for _, rec := range recs {
		t.Row(string(rec.Priority), rec.Category, rec.Message, rec.Suggestion)
	}
	return t.String()
}

func panel(r *lipgloss.Renderer, title string, color lipgloss.Color, lines []string) string {
	heading := r.NewStyle().Bold(true).Foreground(color).Render(title)
	body := heading + "\n" + strings.Join(lines, "\n")
	return r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 1).
		Render(body)
}

func deviceLabel(rep Report) string {
	label := rep.Device.Backend + ":" + rep.Device.ID
	if rep.Device.Name != "" {
		label += " (" + rep.Device.Name + ")"
	}
	return label
}
