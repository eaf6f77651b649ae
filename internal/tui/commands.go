package tui

import (
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/lprdesk/internal/capture"
	"github.com/verte-zerg/lprdesk/internal/frame"
	"github.com/verte-zerg/lprdesk/internal/model"
)

type clearNoticeMsg struct {
	id       uint64
	configID uint64
}

type sessionStartedMsg struct{ err error }

type sourceLoadedMsg struct {
	src frame.Source
	err error
}

type recognizedMsg struct {
	snap    capture.Snapshot
	applied bool
}

type imagesAddedMsg struct {
	count int
	err   error
}

type trainedMsg struct {
	message string
	err     error
}

type recordsLoadedMsg struct {
	records []model.Record
	err     error
}

type configLoadedMsg struct{ err error }

type configSavedMsg struct {
	notice model.Notice
	err    error
}

type metricsRefreshedMsg struct{ err error }

func (m *Model) startCmd() tea.Cmd {
	sess, ctx := m.sess, m.ctx
	return func() tea.Msg {
		return sessionStartedMsg{err: sess.Start(ctx)}
	}
}

func (m *Model) loadRecordsCmd() tea.Cmd {
	records, ctx := m.sess.Records, m.ctx
	return func() tea.Msg {
		out, err := records.Load(ctx)
		return recordsLoadedMsg{records: out, err: err}
	}
}

func (m *Model) openSourceCmd(path string) tea.Cmd {
	if path == "" || m.opts.OpenSource == nil {
		return nil
	}
	open := m.opts.OpenSource
	return func() tea.Msg {
		src, err := open(path)
		return sourceLoadedMsg{src: src, err: err}
	}
}

func (m *Model) recognizeCmd(t capture.Ticket) tea.Cmd {
	wf, ctx := m.sess.Capture, m.ctx
	return func() tea.Msg {
		snap, applied := wf.Finish(ctx, wf.Request(ctx, t))
		return recognizedMsg{snap: snap, applied: applied}
	}
}

// expandPaths splits the input on whitespace and expands glob patterns.
func expandPaths(value string) []string {
	var out []string
	for _, field := range strings.Fields(value) {
		matches, err := filepath.Glob(field)
		if err != nil || len(matches) == 0 {
			out = append(out, field)
			continue
		}
		out = append(out, matches...)
	}
	return out
}

func (m *Model) addImagesCmd(value string) tea.Cmd {
	paths := expandPaths(value)
	if len(paths) == 0 {
		return nil
	}
	b, ctx := m.sess.Batch, m.ctx
	return func() tea.Msg {
		n, err := b.AddImages(ctx, paths)
		return imagesAddedMsg{count: n, err: err}
	}
}

func (m *Model) fetchConfigCmd() tea.Cmd {
	sync, ctx := m.sess.Config, m.ctx
	return func() tea.Msg {
		return configLoadedMsg{err: sync.Fetch(ctx)}
	}
}

func (m *Model) refreshMetricsCmd() tea.Cmd {
	view, ctx := m.sess.Metrics, m.ctx
	return func() tea.Msg {
		return metricsRefreshedMsg{err: view.Refresh(ctx)}
	}
}
