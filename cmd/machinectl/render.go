package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/store"
)

// maxBarWindows bounds the per-window chart unless --verbose is set.
const (
	maxBarWindows = 40
	barWidth      = 30
)

type palette struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Dim   lipgloss.Style
	Good  lipgloss.Style
	Warn  lipgloss.Style
	Bad   lipgloss.Style
	Box   lipgloss.Style
}

var styles = palette{
	Title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
	Label: lipgloss.NewStyle().Bold(true).Width(18),
	Dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")),
	Good:  lipgloss.NewStyle().Foreground(lipgloss.Color("#3fb950")),
	Warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#d29922")),
	Bad:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f85149")),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#00ff9f")).
		Padding(0, 1),
}

// scoreStyle colors a score against the alert threshold; the band just
// above it is a warning.
func scoreStyle(score, threshold float64) lipgloss.Style {
	switch {
	case score < threshold:
		return styles.Bad
	case score < threshold+(100-threshold)/3:
		return styles.Warn
	default:
		return styles.Good
	}
}

func field(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, styles.Label.Render(label), value)
}

func renderModel(m store.ModelSummary) string {
	fp := m.Fingerprint
	if fp == "" {
		fp = styles.Dim.Render("none")
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render(m.MachineID),
		"",
		field("sample rate", fmt.Sprintf("%d Hz", m.SampleRate)),
		field("dimension", fmt.Sprintf("%d", m.Dimension)),
		field("training vectors", fmt.Sprintf("%d", m.TrainingVectors)),
		field("mean similarity", fmt.Sprintf("%.4f", m.MeanSimilarity)),
		field("scaling", fmt.Sprintf("%.3f", m.Scaling)),
		field("fingerprint", fp),
		field("created", m.CreatedAt.Local().Format("2006-01-02 15:04:05")),
	)
	return styles.Box.Render(body)
}

func renderModelTable(models []store.ModelSummary) string {
	header := fmt.Sprintf("%-24s %8s %8s %10s  %-16s  %s", "MACHINE", "RATE", "VECTORS", "MEAN SIM", "FINGERPRINT", "CREATED")
	lines := []string{styles.Title.Render(header)}
	for _, m := range models {
		lines = append(lines, fmt.Sprintf("%-24s %8d %8d %10.4f  %-16s  %s",
			m.MachineID, m.SampleRate, m.TrainingVectors, m.MeanSimilarity, m.Fingerprint,
			m.CreatedAt.Local().Format("2006-01-02 15:04")))
	}
	return strings.Join(lines, "\n")
}

func renderDiagnosis(d *orchestrator.Diagnosis, threshold float64, all bool) string {
	mean := scoreStyle(d.MeanScore, threshold).Render(fmt.Sprintf("%.1f", d.MeanScore))
	lowest := scoreStyle(d.MinScore, threshold).Render(fmt.Sprintf("%.1f", d.MinScore))
	head := lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render(d.MachineID),
		"",
		field("windows", fmt.Sprintf("%d @ %d Hz", d.Windows, d.SampleRate)),
		field("mean score", mean),
		field("lowest score", lowest),
		field("alert below", fmt.Sprintf("%.0f", threshold)),
	)
	out := styles.Box.Render(head)

	if len(d.Results) == 0 || (!all && len(d.Results) > maxBarWindows) {
		return out
	}
	bars := make([]string, 0, len(d.Results))
	for _, r := range d.Results {
		n := int(r.Score / 100 * barWidth)
		bar := strings.Repeat("█", n) + strings.Repeat("·", barWidth-n)
		line := fmt.Sprintf("%8s  %s %5.1f", r.StartTime.Round(10*time.Millisecond), scoreStyle(r.Score, threshold).Render(bar), r.Score)
		if r.Degraded {
			line += styles.Dim.Render("  " + r.Conditioning)
		}
		bars = append(bars, line)
	}
	return out + "\n" + strings.Join(bars, "\n")
}

func renderHealth(addr string, rows [][2]string) string {
	lines := []string{styles.Title.Render(addr), ""}
	for _, r := range rows {
		st := styles.Bad
		if r[1] == "SERVING" {
			st = styles.Good
		}
		lines = append(lines, field(r[0], st.Render(r[1])))
	}
	return styles.Box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
