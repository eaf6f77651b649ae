package metrics

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/lprdesk/internal/model"
)

const notAvailable = "not available"

var tableHeaders = []string{"", "k", "accuracy", "precision", "recall", "f1"}

// FormatTable renders the curve as aligned rows with the active k marked.
func FormatTable(curve []model.EvaluationPoint, activeK int, hasActive bool) []string {
	rows := make([][]string, 0, len(curve))
	for _, p := range sortedCurve(curve) {
		mark := ""
		if hasActive && p.K == activeK {
			mark = "*"
		}
		rows = append(rows, []string{
			mark,
			strconv.Itoa(p.K),
			Percent(p.Accuracy),
			Percent(p.Precision),
			Percent(p.Recall),
			Percent(p.F1),
		})
	}
	return alignRows(tableHeaders, rows)
}

// Percent formats a 0..1 ratio as a percentage.
func Percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// Summary describes the operating point for the active k.
func Summary(curve []model.EvaluationPoint, activeK int, hasActive bool) string {
	if !hasActive {
		return "Operating point: " + notAvailable + " (k unknown)"
	}
	p, ok := OperatingPoint(curve, activeK)
	if !ok {
		return fmt.Sprintf("Operating point k=%d: %s", activeK, notAvailable)
	}
	return fmt.Sprintf("Operating point k=%d: accuracy %s, precision %s, recall %s, f1 %s",
		p.K, Percent(p.Accuracy), Percent(p.Precision), Percent(p.Recall), Percent(p.F1))
}

// InfoLine describes the cumulative training data.
func InfoLine(info model.TrainingInfo, ok bool) string {
	if !ok {
		return "Training data: " + notAvailable
	}
	return fmt.Sprintf("Training data: %d samples from %d images", info.Samples, info.Images)
}

// alignRows pads every column to its widest cell. Text columns are left
// aligned and the rest right aligned.
func alignRows(headers []string, rows [][]string) []string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i := 0; i < len(widths) && i < len(row); i++ {
			if w := runewidth.StringWidth(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}
	lines := make([]string, 0, len(rows)+1)
	for _, row := range append([][]string{headers}, rows...) {
		cells := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			if i == 0 {
				cells[i] = runewidth.FillRight(cell, widths[i])
			} else {
				cells[i] = runewidth.FillLeft(cell, widths[i])
			}
		}
		lines = append(lines, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
	return lines
}
