package tui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/lprdesk/internal/configsync"
	"github.com/verte-zerg/lprdesk/internal/model"
)

func (m *Model) updateConfig(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "up", "down", "k", "j", "home", "end", "g", "G":
		m.configCursor = moveCursor(m.configCursor, len(m.configRows), key)
		return m, nil
	case "r":
		if m.saving {
			return m, nil
		}
		return m, m.fetchConfigCmd()
	}
	if m.saving || len(m.configRows) == 0 {
		return m, nil
	}
	switch key {
	case "enter", "e":
		row := m.configRows[m.configCursor]
		return m, m.startInput(inputConfigValue, row.label+": ", row.value, "")
	case "s", "ctrl+s":
		return m, m.saveConfig()
	}
	return m, nil
}

func (m *Model) editConfigValue(value string) tea.Cmd {
	if len(m.configRows) == 0 {
		return nil
	}
	row := m.configRows[m.configCursor]
	if err := m.sess.Config.UpdateField(row.path, value, row.index); err != nil {
		return m.postNotice(model.NoticeError, err.Error())
	}
	m.refreshConfigRows()
	return nil
}

func (m *Model) saveConfig() tea.Cmd {
	t, err := m.sess.Config.BeginSave()
	if err != nil {
		return m.postNotice(model.NoticeError, err.Error())
	}
	m.saving = true
	sync, ctx := m.sess.Config, m.ctx
	return func() tea.Msg {
		out := sync.SendSave(ctx, t)
		return configSavedMsg{notice: sync.FinishSave(out), err: out.Err}
	}
}

func (m *Model) handleConfigSaved(msg configSavedMsg) (tea.Model, tea.Cmd) {
	m.saving = false
	m.refreshConfigRows()
	m.refreshMetrics()
	if msg.notice.Text == "" {
		return m, nil
	}
	return m, m.postNoticeWith(msg.notice.Kind, msg.notice.Text, msg.notice.ID)
}

func (m *Model) refreshConfigRows() {
	doc, ok := m.sess.Config.Draft()
	m.configRows = m.configRows[:0]
	if ok {
		m.configRows = configRows(doc)
	}
	m.clampCursors()
}

// configRows flattens the draft into editable rows, one per pair slot.
func configRows(doc configsync.Document) []configRow {
	var rows []configRow
	for _, path := range doc.Paths() {
		v, _ := doc.Get(path)
		if slots, ok := v.([]any); ok {
			for i, slot := range slots {
				index := i
				rows = append(rows, configRow{
					path:  path,
					index: &index,
					label: fmt.Sprintf("%s[%d]", path, i),
					value: formatValue(slot),
				})
			}
			continue
		}
		rows = append(rows, configRow{path: path, label: path, value: formatValue(v)})
	}
	return rows
}

func formatValue(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func (m *Model) renderConfig(height int) string {
	state, loadErr := m.sess.Config.State()
	switch {
	case state == configsync.LoadFailed:
		return errorStyle.Render("Failed to load config: "+loadErr.Error()) + "\n" + mutedStyle.Render("Press r to retry.")
	case len(m.configRows) == 0:
		return mutedStyle.Render("Loading config...")
	}

	header := []string{}
	if k, ok := m.sess.Config.ActiveK(); ok {
		header = append(header, labelStyle.Render("Active k: ")+valueStyle.Render(strconv.Itoa(k)))
	}
	if m.saving {
		header = append(header, valueStyle.Render("Saving..."))
	}
	header = append(header, "")

	labelWidth := 0
	for _, row := range m.configRows {
		labelWidth = max(labelWidth, len(row.label))
	}
	start, end := listWindow(m.configCursor, len(m.configRows), height-len(header))
	lines := header
	for i := start; i < end; i++ {
		row := m.configRows[i]
		kind := m.sess.Config.Kind(row.path)
		line := fmt.Sprintf("%-*s  %-12s %s", labelWidth, row.label, row.value, mutedStyle.Render(kind.String()))
		if i == m.configCursor {
			line = selectedStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
