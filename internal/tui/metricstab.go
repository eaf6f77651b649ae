package tui

import (
	"bytes"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/lprdesk/internal/metrics"
)

const plotHeight = 8

func (m *Model) updateMetrics(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "r" {
		return m, m.refreshMetricsCmd()
	}
	var cmd tea.Cmd
	m.metricsView, cmd = m.metricsView.Update(msg)
	return m, cmd
}

func (m *Model) refreshMetrics() {
	m.metricsView.SetContent(m.renderMetrics(max(m.width, 40)))
}

func (m *Model) renderMetrics(width int) string {
	view := m.sess.Metrics
	info, hasInfo := view.Info()
	k, hasK := m.sess.Config.ActiveK()
	curve := view.Curve()

	lines := []string{labelStyle.Render(metrics.InfoLine(info, hasInfo))}
	err := view.Err()
	if err != nil {
		lines = append(lines, errorStyle.Render(truncateLine("Failed to load metrics: "+err.Error(), width)))
	}
	if !view.Loaded() {
		if err == nil {
			lines = append(lines, mutedStyle.Render("Loading metrics..."))
		}
		return strings.Join(lines, "\n")
	}
	if len(curve) == 0 {
		lines = append(lines, mutedStyle.Render("No evaluation data yet. Train the classifier first."))
		return strings.Join(lines, "\n")
	}

	lines = append(lines, valueStyle.Render(metrics.Summary(curve, k, hasK)))
	if best, ok := metrics.Best(curve); ok {
		lines = append(lines, labelStyle.Render("Best f1 at k="+strconv.Itoa(best.K)+": "+metrics.Percent(best.F1)))
	}
	lines = append(lines, "")

	var buf bytes.Buffer
	if err := metrics.PlotCurve(&buf, curve, metrics.PlotWidthFor(width), plotHeight, true); err != nil {
		lines = append(lines, errorStyle.Render(err.Error()))
	} else {
		lines = append(lines, strings.TrimRight(buf.String(), "\n"))
	}
	lines = append(lines, "")
	lines = append(lines, metrics.FormatTable(curve, k, hasK)...)
	return strings.Join(lines, "\n")
}
