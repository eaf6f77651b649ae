package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// fitLines pads every line to width and clips or fills to height.
func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func padLine(line string, width int) string {
	if w := lipgloss.Width(line); w < width {
		return line + strings.Repeat(" ", width-w)
	}
	return line
}

// truncateLine cuts plain text to width display cells with an ellipsis.
func truncateLine(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

// wrapWords breaks plain text at spaces so no line exceeds width cells.
// Words longer than width are split.
func wrapWords(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}
	var (
		lines []string
		line  strings.Builder
		used  int
	)
	flush := func() {
		lines = append(lines, line.String())
		line.Reset()
		used = 0
	}
	for _, word := range strings.Fields(s) {
		w := runewidth.StringWidth(word)
		if used > 0 && used+1+w > width {
			flush()
		}
		for w > width {
			head := runewidth.Truncate(word, width, "")
			if used > 0 {
				flush()
			}
			lines = append(lines, head)
			word = word[len(head):]
			w = runewidth.StringWidth(word)
		}
		if used > 0 {
			line.WriteByte(' ')
			used++
		}
		line.WriteString(word)
		used += w
	}
	if used > 0 || len(lines) == 0 {
		flush()
	}
	return lines
}

// describeImage summarizes a data URL without printing its payload.
func describeImage(dataURL string) string {
	if dataURL == "" {
		return "No image available"
	}
	mime := "image"
	payload := dataURL
	if strings.HasPrefix(dataURL, "data:") {
		if i := strings.Index(dataURL, ","); i > 0 {
			mime = strings.TrimSuffix(strings.TrimPrefix(dataURL[:i], "data:"), ";base64")
			payload = dataURL[i+1:]
		}
	}
	size := len(payload) * 3 / 4
	return mime + " (" + humanBytes(size) + ")"
}

func humanBytes(n int) string {
	const unit = 1024
	switch {
	case n < unit:
		return fmt.Sprintf("%d B", n)
	case n < unit*unit:
		return fmt.Sprintf("%.1f KB", float64(n)/unit)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(unit*unit))
	}
}
