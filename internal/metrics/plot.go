package metrics

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/verte-zerg/lprdesk/internal/model"
)

const (
	defaultPlotHeight = 8
	minPlotWidth      = 12
	fallbackWidth     = 80
	axisGutter        = "100% │ "
	colorReset        = "\x1b[0m"
)

// metricSeries lists the plotted metrics with their ANSI colors.
var metricSeries = []struct {
	name  string
	color string
	value func(model.EvaluationPoint) float64
}{
	{"accuracy", "\x1b[36m", func(p model.EvaluationPoint) float64 { return p.Accuracy }},
	{"precision", "\x1b[35m", func(p model.EvaluationPoint) float64 { return p.Precision }},
	{"recall", "\x1b[33m", func(p model.EvaluationPoint) float64 { return p.Recall }},
	{"f1", "\x1b[32m", func(p model.EvaluationPoint) float64 { return p.F1 }},
}

// dotBits maps a dot column and row inside a braille cell to its bit.
var dotBits = [2][4]uint8{
	{0x01, 0x02, 0x04, 0x40},
	{0x08, 0x10, 0x20, 0x80},
}

// canvas is a grid of braille cells, each remembering the first series
// that drew into it.
type canvas struct {
	cells [][]uint8
	owner [][]int
}

func newCanvas(width, height int) *canvas {
	c := &canvas{cells: make([][]uint8, height), owner: make([][]int, height)}
	for y := range c.cells {
		c.cells[y] = make([]uint8, width)
		c.owner[y] = make([]int, width)
		for x := range c.owner[y] {
			c.owner[y][x] = -1
		}
	}
	return c
}

func (c *canvas) set(x, y, series int) {
	cy, cx := y/4, x/2
	if x < 0 || y < 0 || cy >= len(c.cells) || cx >= len(c.cells[cy]) {
		return
	}
	c.cells[cy][cx] |= dotBits[x%2][y%4]
	if c.owner[cy][cx] < 0 {
		c.owner[cy][cx] = series
	}
}

// segment plots dots from (x0,y0) to (x1,y1) at unit steps along the longer axis.
func (c *canvas) segment(x0, y0, x1, y1, series int) {
	steps := max(abs(x1-x0), abs(y1-y0))
	if steps == 0 {
		c.set(x0, y0, series)
		return
	}
	for s := 0; s <= steps; s++ {
		x := x0 + int(math.Round(float64((x1-x0)*s)/float64(steps)))
		y := y0 + int(math.Round(float64((y1-y0)*s)/float64(steps)))
		c.set(x, y, series)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// PlotCurve draws the metrics of the curve against k on a shared 0..100% scale.
// Non-positive sizes pick defaults from the terminal.
func PlotCurve(w io.Writer, curve []model.EvaluationPoint, width, height int, forceColor bool) error {
	lines := RenderCurve(curve, width, height, useColor(w, forceColor))
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderCurve returns the plot lines. It returns nil for an empty curve.
func RenderCurve(curve []model.EvaluationPoint, width, height int, color bool) []string {
	points := sortedCurve(curve)
	if len(points) == 0 {
		return nil
	}
	if height <= 0 {
		height = defaultPlotHeight
	}
	if width <= 0 {
		width = PlotWidthFor(terminalWidth())
	}
	width = max(width, minPlotWidth)

	dotsX, dotsY := width*2, height*4
	xs := make([]int, len(points))
	for i := range points {
		if len(points) == 1 {
			xs[i] = dotsX / 2
			continue
		}
		xs[i] = i * (dotsX - 1) / (len(points) - 1)
	}

	c := newCanvas(width, height)
	for si, m := range metricSeries {
		prevX, prevY := -1, -1
		for i, p := range points {
			y := ratioToDot(m.value(p), dotsY)
			if prevX < 0 {
				c.set(xs[i], y, si)
			} else {
				c.segment(prevX, prevY, xs[i], y, si)
			}
			prevX, prevY = xs[i], y
		}
	}

	lines := make([]string, 0, height+3)
	for y := 0; y < height; y++ {
		var row strings.Builder
		row.WriteString(fmt.Sprintf("%4s │ ", yLabel(y, height)))
		for x := 0; x < width; x++ {
			r := rune(0x2800 + int(c.cells[y][x]))
			if owner := c.owner[y][x]; color && owner >= 0 {
				row.WriteString(metricSeries[owner].color + string(r) + colorReset)
				continue
			}
			row.WriteRune(r)
		}
		lines = append(lines, row.String())
	}
	lines = append(lines, strings.Repeat(" ", 5)+"└"+strings.Repeat("─", width+1))
	lines = append(lines, kAxis(points, xs, width))
	lines = append(lines, legend(color))
	return lines
}

func ratioToDot(v float64, dots int) int {
	if math.IsNaN(v) {
		v = 0
	}
	v = math.Min(1, math.Max(0, v))
	return int(math.Round((1 - v) * float64(dots-1)))
}

func yLabel(row, height int) string {
	switch {
	case row == 0:
		return "100%"
	case row == height-1:
		return "0%"
	case height > 2 && row == height/2:
		return "50%"
	default:
		return ""
	}
}

// kAxis places each k label under its column, skipping labels that would overlap.
func kAxis(points []model.EvaluationPoint, xs []int, width int) string {
	axis := []rune(strings.Repeat(" ", width))
	next := 0
	for i, p := range points {
		label := strconv.Itoa(p.K)
		col := xs[i] / 2
		if col < next || col+len(label) > width {
			continue
		}
		copy(axis[col:], []rune(label))
		next = col + len(label) + 1
	}
	return "   k   " + strings.TrimRight(string(axis), " ")
}

func legend(color bool) string {
	parts := make([]string, 0, len(metricSeries))
	for _, m := range metricSeries {
		label := "⣿ " + m.name
		if color {
			label = m.color + label + colorReset
		}
		parts = append(parts, label)
	}
	return "Legend: " + strings.Join(parts, "  ")
}

// PlotWidthFor returns the number of plot cells that fit in totalWidth columns.
func PlotWidthFor(totalWidth int) int {
	if totalWidth <= 0 {
		return minPlotWidth
	}
	return max(totalWidth-runewidth.StringWidth(axisGutter)-1, minPlotWidth)
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return fallbackWidth
	}
	return width
}

func useColor(w io.Writer, force bool) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force {
		return true
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
