// Package tui provides the Bubble Tea control surface for a recognition session.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/lprdesk/internal/capture"
	"github.com/verte-zerg/lprdesk/internal/configsync"
	"github.com/verte-zerg/lprdesk/internal/frame"
	"github.com/verte-zerg/lprdesk/internal/logging"
	"github.com/verte-zerg/lprdesk/internal/model"
	"github.com/verte-zerg/lprdesk/internal/session"
)

const (
	tabInference = iota
	tabTrain
	tabManage
	tabConfig
	tabMetrics
)

type inputMode int

const (
	inputNone inputMode = iota
	inputSource
	inputImages
	inputRecordText
	inputConfigValue
)

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	valueStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")).Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// Options configures the TUI.
type Options struct {
	// OpenSource opens a video or image path for the inference tab.
	OpenSource func(path string) (frame.Source, error)
	MessageTTL time.Duration
}

// Model implements the Bubble Tea session UI.
type Model struct {
	sess *session.Session
	opts Options
	ctx  context.Context

	tabs      []string
	activeTab int
	width     int
	height    int

	input textinput.Model
	mode  inputMode

	notice    model.Notice
	noticeSeq uint64

	source  frame.Source
	capture capture.Snapshot

	samples      []model.Sample
	sampleCursor int
	training     bool

	records      []model.Record
	recordCursor int

	configRows   []configRow
	configCursor int
	saving       bool

	metricsView viewport.Model
}

type configRow struct {
	path  string
	index *int
	label string
	value string
}

// NewModel constructs the session UI.
func NewModel(ctx context.Context, sess *session.Session, opts Options) *Model {
	if opts.MessageTTL <= 0 {
		opts.MessageTTL = configsync.DefaultMessageTTL
	}
	input := textinput.New()
	input.Cursor.SetMode(cursor.CursorBlink)
	return &Model{
		sess:        sess,
		opts:        opts,
		ctx:         ctx,
		tabs:        []string{"Inference", "Train", "Manage", "Config", "Metrics"},
		input:       input,
		metricsView: viewport.New(0, 0),
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.startCmd(), m.loadRecordsCmd())
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		return m, nil
	case tea.KeyMsg:
		return m.updateKey(msg)
	case clearNoticeMsg:
		if m.notice.ID == msg.id {
			m.notice = model.Notice{}
		}
		if msg.configID != 0 {
			m.sess.Config.ClearNotice(msg.configID)
		}
		return m, nil
	case sessionStartedMsg:
		m.refreshConfigRows()
		m.refreshMetrics()
		if msg.err != nil {
			m.sess.Logger().Warn("initial load incomplete", logging.Err(msg.err))
		}
		return m, nil
	case sourceLoadedMsg:
		return m.handleSourceLoaded(msg)
	case recognizedMsg:
		return m.handleRecognized(msg)
	case imagesAddedMsg:
		return m.handleImagesAdded(msg)
	case trainedMsg:
		return m.handleTrained(msg)
	case recordsLoadedMsg:
		return m.handleRecordsLoaded(msg)
	case configLoadedMsg:
		m.refreshConfigRows()
		if msg.err != nil {
			return m, m.postNotice(model.NoticeError, msg.err.Error())
		}
		return m, nil
	case configSavedMsg:
		return m.handleConfigSaved(msg)
	case metricsRefreshedMsg:
		m.refreshMetrics()
		if msg.err != nil {
			return m, m.postNotice(model.NoticeError, msg.err.Error())
		}
		return m, nil
	}
	if m.mode != inputNone {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}
	if m.mode != inputNone {
		return m.updateInput(msg)
	}
	switch msg.String() {
	case "tab":
		m.moveTab(1)
		return m, m.enterTab()
	case "shift+tab":
		m.moveTab(-1)
		return m, m.enterTab()
	case "q":
		if m.activeTab != tabTrain {
			return m, tea.Quit
		}
	}
	switch m.activeTab {
	case tabInference:
		return m.updateInference(msg)
	case tabTrain:
		return m.updateTrain(msg)
	case tabManage:
		return m.updateManage(msg)
	case tabConfig:
		return m.updateConfig(msg)
	default:
		return m.updateMetrics(msg)
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderTabs(), m.width, headerHeight)
	body := fitLines(m.renderBody(bodyHeight), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	headerHeight = max(lipgloss.Height(activeNavStyle.Render("X")), 1)
	footerHeight = 1
	if m.mode != inputNone {
		footerHeight++
	}
	if m.notice.Text != "" {
		footerHeight += len(wrapWords(m.notice.Text, max(m.width, 1)))
	}
	bodyHeight = max(m.height-headerHeight-footerHeight, 1)
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, bodyHeight, _ := m.layoutHeights()
	m.metricsView.Width = m.width
	m.metricsView.Height = bodyHeight
	m.input.Width = max(10, m.width-lipgloss.Width(m.input.Prompt)-2)
	m.refreshMetrics()
}

func (m *Model) moveTab(delta int) {
	count := len(m.tabs)
	m.activeTab = ((m.activeTab+delta)%count + count) % count
}

func (m *Model) enterTab() tea.Cmd {
	switch m.activeTab {
	case tabManage:
		return m.loadRecordsCmd()
	case tabTrain:
		m.samples = m.sess.Batch.Samples()
		m.clampCursors()
	case tabConfig:
		m.refreshConfigRows()
	}
	return nil
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderBody(height int) string {
	switch m.activeTab {
	case tabInference:
		return m.renderInference()
	case tabTrain:
		return m.renderTrain(height)
	case tabManage:
		return m.renderManage(height)
	case tabConfig:
		return m.renderConfig(height)
	default:
		return m.metricsView.View()
	}
}

func (m *Model) renderFooter() string {
	lines := []string{}
	if m.mode != inputNone {
		lines = append(lines, m.input.View())
		lines = append(lines, helpStyle.Render(truncateLine("enter: apply  esc: cancel", m.width)))
	} else {
		lines = append(lines, helpStyle.Render(truncateLine(m.helpText(), m.width)))
	}
	if m.notice.Text != "" {
		style := helpStyle
		switch m.notice.Kind {
		case model.NoticeError:
			style = errorStyle
		case model.NoticeSuccess:
			style = successStyle
		}
		for _, line := range wrapWords(m.notice.Text, max(m.width, 1)) {
			lines = append(lines, style.Render(line))
		}
	}
	return strings.Join(lines, "\n")
}

func (m *Model) helpText() string {
	switch m.activeTab {
	case tabInference:
		return "Tabs: tab/shift+tab  Open: o  Capture: enter  Seek: left/right  Quit: q"
	case tabTrain:
		return "Tabs: tab/shift+tab  Add: ctrl+o  Label: type a character  Remove: ctrl+d  Submit: ctrl+s  Quit: ctrl+c"
	case tabManage:
		return "Tabs: tab/shift+tab  Select: up/down  Move: shift+up/down  Edit: e  Delete: d  Reload: r  Quit: q"
	case tabConfig:
		return "Tabs: tab/shift+tab  Select: up/down  Edit: enter  Save: s  Reload: r  Quit: q"
	default:
		return "Tabs: tab/shift+tab  Scroll: up/down/pgup/pgdn  Refresh: r  Quit: q"
	}
}

// postNotice shows a transient message and schedules its removal.
func (m *Model) postNotice(kind model.NoticeKind, text string) tea.Cmd {
	return m.postNoticeWith(kind, text, 0)
}

func (m *Model) postNoticeWith(kind model.NoticeKind, text string, configID uint64) tea.Cmd {
	m.noticeSeq++
	id := m.noticeSeq
	m.notice = model.Notice{ID: id, Kind: kind, Text: text, ExpiresAt: time.Now().Add(m.opts.MessageTTL)}
	m.updateLayout()
	return tea.Tick(m.opts.MessageTTL, func(time.Time) tea.Msg {
		return clearNoticeMsg{id: id, configID: configID}
	})
}

func (m *Model) startInput(mode inputMode, prompt, value, placeholder string) tea.Cmd {
	m.mode = mode
	m.input.Prompt = prompt
	m.input.Placeholder = placeholder
	m.input.SetValue(value)
	m.input.CursorEnd()
	m.updateLayout()
	return m.input.Focus()
}

func (m *Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.stopInput()
		return m, nil
	case tea.KeyEnter:
		mode := m.mode
		value := m.input.Value()
		m.stopInput()
		return m, m.commitInput(mode, value)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) stopInput() {
	m.mode = inputNone
	m.input.Blur()
	m.input.SetValue("")
	m.updateLayout()
}

func (m *Model) commitInput(mode inputMode, value string) tea.Cmd {
	switch mode {
	case inputSource:
		return m.openSourceCmd(strings.TrimSpace(value))
	case inputImages:
		return m.addImagesCmd(value)
	case inputRecordText:
		return m.editRecord(value)
	case inputConfigValue:
		return m.editConfigValue(value)
	}
	return nil
}

func (m *Model) clampCursors() {
	m.sampleCursor = clamp(m.sampleCursor, len(m.samples))
	m.recordCursor = clamp(m.recordCursor, len(m.records))
	m.configCursor = clamp(m.configCursor, len(m.configRows))
}

func clamp(cursor, n int) int {
	if n == 0 || cursor < 0 {
		return 0
	}
	if cursor >= n {
		return n - 1
	}
	return cursor
}

func moveCursor(cursor, n int, key string) int {
	switch key {
	case "up", "k":
		return clamp(cursor-1, n)
	case "down", "j":
		return clamp(cursor+1, n)
	case "home", "g":
		return 0
	case "end", "G":
		return clamp(n-1, n)
	}
	return cursor
}

// listWindow returns the bounds of a height-line window that keeps cursor visible.
func listWindow(cursor, n, height int) (int, int) {
	if height <= 0 || n <= height {
		return 0, n
	}
	start := cursor - height/2
	start = max(0, min(start, n-height))
	return start, start + height
}
