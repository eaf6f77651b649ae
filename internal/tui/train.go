package tui

import (
	"fmt"
	"strings"
	"unicode"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/lprdesk/internal/metrics"
	"github.com/verte-zerg/lprdesk/internal/model"
)

func (m *Model) updateTrain(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.training {
		return m, nil
	}
	switch msg.String() {
	case "ctrl+o":
		return m, m.startInput(inputImages, "Images: ", "", "paths or globs, space separated")
	case "ctrl+s":
		return m, m.submitBatch()
	case "ctrl+d", "delete":
		if len(m.samples) == 0 {
			return m, nil
		}
		if err := m.sess.Batch.Remove(m.sampleCursor); err != nil {
			return m, m.postNotice(model.NoticeError, err.Error())
		}
		m.samples = m.sess.Batch.Samples()
		m.clampCursors()
		return m, nil
	case "up", "down", "home", "end":
		m.sampleCursor = moveCursor(m.sampleCursor, len(m.samples), msg.String())
		return m, nil
	case "backspace":
		return m, m.setLabel("")
	}
	if msg.Type == tea.KeyRunes && len(msg.Runes) == 1 {
		r := msg.Runes[0]
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return m, m.setLabel(string(r))
		}
	}
	return m, nil
}

func (m *Model) setLabel(value string) tea.Cmd {
	if len(m.samples) == 0 {
		return nil
	}
	if err := m.sess.Batch.SetLabel(m.sampleCursor, value); err != nil {
		return m.postNotice(model.NoticeError, err.Error())
	}
	m.samples = m.sess.Batch.Samples()
	if value != "" {
		m.sampleCursor = clamp(m.sampleCursor+1, len(m.samples))
	}
	return nil
}

func (m *Model) submitBatch() tea.Cmd {
	t, err := m.sess.Batch.Begin()
	if err != nil {
		return m.postNotice(model.NoticeError, err.Error())
	}
	m.training = true
	b, ctx := m.sess.Batch, m.ctx
	return func() tea.Msg {
		message, err := b.Finish(ctx, b.Send(ctx, t))
		return trainedMsg{message: message, err: err}
	}
}

func (m *Model) handleImagesAdded(msg imagesAddedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		return m, m.postNotice(model.NoticeError, msg.err.Error())
	}
	first := len(m.samples)
	m.samples = m.sess.Batch.Samples()
	if msg.count > 0 {
		m.sampleCursor = clamp(first, len(m.samples))
	}
	return m, m.postNotice(model.NoticeInfo, fmt.Sprintf("Added %d image(s).", msg.count))
}

func (m *Model) handleTrained(msg trainedMsg) (tea.Model, tea.Cmd) {
	m.training = false
	m.samples = m.sess.Batch.Samples()
	m.clampCursors()
	m.refreshMetrics()
	if msg.err != nil {
		return m, m.postNotice(model.NoticeError, msg.message)
	}
	return m, m.postNotice(model.NoticeSuccess, msg.message)
}

func (m *Model) renderTrain(height int) string {
	info, ok := m.sess.Metrics.Info()
	header := []string{labelStyle.Render(metrics.InfoLine(info, ok))}
	switch {
	case m.training:
		header = append(header, valueStyle.Render(fmt.Sprintf("Training on %d samples...", len(m.samples))))
	case len(m.samples) == 0:
		header = append(header, mutedStyle.Render("No samples. Add character images with ctrl+o."))
	default:
		missing := 0
		for _, s := range m.samples {
			if strings.TrimSpace(s.Label) == "" {
				missing++
			}
		}
		header = append(header, fmt.Sprintf("%d samples, %d without label", len(m.samples), missing))
	}
	header = append(header, "")

	rows := height - len(header)
	start, end := listWindow(m.sampleCursor, len(m.samples), rows)
	lines := header
	for i := start; i < end; i++ {
		s := m.samples[i]
		label := s.Label
		if label == "" {
			label = "_"
		}
		line := fmt.Sprintf("%3d  [%s]  %s", i+1, label, describeImage(s.ImageData))
		if i == m.sampleCursor {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
