package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"demandindex-plus/internal/model"
)

// UI styles
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).Padding(0, 1)

	boxStyle = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#3B82F6")).Padding(0, 2)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Width(16)

	okStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)

	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	longStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#32CD32")).Bold(true)

	shortStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)

	reversalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500")).Bold(true)
)

var signalOrder = []model.SignalKind{
	model.SignalCrossLong,
	model.SignalCrossShort,
	model.SignalReversalLong,
	model.SignalReversalShort,
}

func signalStyle(k model.SignalKind) lipgloss.Style {
	switch k {
	case model.SignalReversalLong, model.SignalReversalShort:
		return reversalStyle
	case model.SignalCrossLong:
		return longStyle
	default:
		return shortStyle
	}
}

// formatSignal renders one fired signal as a single line.
func formatSignal(r model.DIResult) string {
	return fmt.Sprintf("%s %-6s bar %-6d %s  DI=%s SMA=%s",
		dimStyle.Render(r.TS.Format("2006-01-02 15:04")),
		r.Symbol, r.Index,
		signalStyle(r.Signal).Render(fmt.Sprintf("%-14s", r.Signal)),
		r.DI.StringFixed(2), r.SMA.StringFixed(2))
}

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

// renderSummary draws the replay summary box.
func renderSummary(s *replaySummary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("REPLAY COMPLETE") + "\n\n")
	b.WriteString(row("Source", fmt.Sprintf("%s (tf=%ds)", s.Source, s.TF)))
	b.WriteString(row("Bars", fmt.Sprintf("%d", s.Bars)))
	if !s.First.IsZero() {
		b.WriteString(row("Range", s.First.Format("2006-01-02 15:04")+" → "+s.Last.Format("2006-01-02 15:04")))
	}
	b.WriteString(row("Alerts", fmt.Sprintf("%d", s.Alerts)))
	b.WriteString(row("Elapsed", s.Elapsed.Round(time.Millisecond).String()))
	b.WriteString("\n")

	for _, k := range signalOrder {
		b.WriteString(row(string(k), signalStyle(k).Render(fmt.Sprintf("%d", s.Signals[k]))))
	}

	if syms := s.symbols(); len(syms) > 0 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("%-8s %7s %8s %9s %9s", "SYMBOL", "BARS", "SIGNALS", "DI", "SMA")) + "\n")
		for _, st := range syms {
			b.WriteString(fmt.Sprintf("%-8s %7d %8d %9s %9s\n",
				st.Symbol, st.Bars, st.Signals, st.LastDI.StringFixed(2), st.LastSMA.StringFixed(2)))
		}
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
