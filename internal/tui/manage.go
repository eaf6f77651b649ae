package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/lprdesk/internal/model"
)

func (m *Model) updateManage(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "up", "down", "k", "j", "home", "end", "g", "G":
		m.recordCursor = moveCursor(m.recordCursor, len(m.records), key)
		return m, nil
	case "shift+up", "K":
		return m, m.moveRecord(-1)
	case "shift+down", "J":
		return m, m.moveRecord(1)
	case "d", "delete":
		return m, m.deleteRecord()
	case "e", "enter":
		if len(m.records) == 0 {
			return m, nil
		}
		return m, m.startInput(inputRecordText, "Plate: ", m.records[m.recordCursor].Text, "")
	case "r":
		return m, m.loadRecordsCmd()
	}
	return m, nil
}

func (m *Model) moveRecord(direction int) tea.Cmd {
	if len(m.records) == 0 {
		return nil
	}
	moved, err := m.sess.Records.Move(m.ctx, m.recordCursor, direction)
	if err != nil {
		return m.postNotice(model.NoticeError, err.Error())
	}
	if moved {
		m.recordCursor += direction
	}
	return m.loadRecordsCmd()
}

func (m *Model) deleteRecord() tea.Cmd {
	if len(m.records) == 0 {
		return nil
	}
	if err := m.sess.Records.Delete(m.ctx, m.recordCursor); err != nil {
		return m.postNotice(model.NoticeError, err.Error())
	}
	return m.loadRecordsCmd()
}

func (m *Model) editRecord(text string) tea.Cmd {
	if len(m.records) == 0 {
		return nil
	}
	if err := m.sess.Records.Edit(m.ctx, m.recordCursor, strings.TrimSpace(text)); err != nil {
		return m.postNotice(model.NoticeError, err.Error())
	}
	return m.loadRecordsCmd()
}

func (m *Model) handleRecordsLoaded(msg recordsLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		return m, m.postNotice(model.NoticeError, msg.err.Error())
	}
	m.records = msg.records
	m.clampCursors()
	return m, nil
}

func (m *Model) renderManage(height int) string {
	if len(m.records) == 0 {
		return mutedStyle.Render("No records yet. Recognized plates appear here.")
	}
	header := []string{
		labelStyle.Render(fmt.Sprintf("     %-14s %-20s", "Plate", "Time")),
	}
	detail := m.recordDetail(m.records[m.recordCursor])
	rows := height - len(header) - len(detail) - 1
	start, end := listWindow(m.recordCursor, len(m.records), rows)

	lines := header
	for i := start; i < end; i++ {
		rec := m.records[i]
		line := fmt.Sprintf("%3d  %-14s %-20s", i+1, truncateLine(rec.Text, 14), rec.Time)
		if i == m.recordCursor {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "")
	lines = append(lines, detail...)
	return strings.Join(lines, "\n")
}

func (m *Model) recordDetail(rec model.Record) []string {
	return []string{
		labelStyle.Render("Frame   ") + describeImage(rec.DisplayImage()),
		labelStyle.Render("Plate   ") + describeImage(rec.ResultImage),
	}
}
