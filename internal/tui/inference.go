package tui

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/lprdesk/internal/capture"
	"github.com/verte-zerg/lprdesk/internal/logging"
	"github.com/verte-zerg/lprdesk/internal/model"
)

// seeker is implemented by sources with a playback position.
type seeker interface {
	Seek(pos time.Duration)
	Position() time.Duration
}

func (m *Model) updateInference(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "o":
		return m, m.startInput(inputSource, "Source: ", "", "path to a video or image")
	case "enter", "c", " ":
		return m, m.beginRecognize()
	case "left", "right", "shift+left", "shift+right":
		s, ok := m.source.(seeker)
		if !ok || m.capture.State == capture.Recognizing {
			return m, nil
		}
		step := time.Second
		if strings.HasPrefix(msg.String(), "shift+") {
			step = 10 * time.Second
		}
		if strings.HasSuffix(msg.String(), "left") {
			step = -step
		}
		s.Seek(s.Position() + step)
		return m, nil
	}
	return m, nil
}

func (m *Model) beginRecognize() tea.Cmd {
	t, err := m.sess.Capture.Begin()
	switch {
	case errors.Is(err, capture.ErrBusy):
		return nil
	case errors.Is(err, capture.ErrNoSource):
		return m.postNotice(model.NoticeInfo, "Open a video source first (o).")
	case err != nil:
		return m.postNotice(model.NoticeError, err.Error())
	}
	m.capture = m.sess.Capture.Snapshot()
	return m.recognizeCmd(t)
}

func (m *Model) handleSourceLoaded(msg sourceLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		return m, m.postNotice(model.NoticeError, msg.err.Error())
	}
	m.closeSource()
	m.source = msg.src
	m.sess.Capture.Load(msg.src)
	m.capture = m.sess.Capture.Snapshot()
	return m, nil
}

// Close releases the open video source.
func (m *Model) Close() {
	m.closeSource()
	m.source = nil
}

func (m *Model) closeSource() {
	closer, ok := m.source.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		m.sess.Logger().Warn("failed to close source",
			slog.String("source", m.source.Name()),
			logging.Err(err))
	}
}

func (m *Model) handleRecognized(msg recognizedMsg) (tea.Model, tea.Cmd) {
	if !msg.applied {
		return m, nil
	}
	m.capture = msg.snap
	if msg.snap.State == capture.Succeeded {
		return m, m.loadRecordsCmd()
	}
	return m, nil
}

func (m *Model) renderInference() string {
	snap := m.capture
	lines := []string{}
	field := func(label, value string) {
		lines = append(lines, labelStyle.Render(fmt.Sprintf("%-12s", label))+value)
	}

	if snap.Source == "" {
		field("Source", mutedStyle.Render("none"))
	} else {
		source := valueStyle.Render(snap.Source)
		if s, ok := m.source.(seeker); ok {
			source += mutedStyle.Render(" @ " + s.Position().Truncate(100*time.Millisecond).String())
		}
		field("Source", source)
	}
	state := snap.State.String()
	if snap.State == capture.Recognizing {
		state = "recognizing..."
	}
	field("State", state)
	lines = append(lines, "")

	result := snap.Result.Text
	switch {
	case snap.State == capture.Failed:
		result = errorStyle.Render(result)
	case result != "":
		result = valueStyle.Render(result)
	default:
		result = mutedStyle.Render("-")
	}
	field("Plate", result)
	if snap.State == capture.Succeeded || snap.State == capture.NoDetection {
		field("Plate image", describeImage(snap.Result.Image))
	}
	if snap.Frame != "" {
		field("Frame", describeImage(snap.Frame))
	}
	if snap.Timed {
		field("Time", snap.Timestamp)
		field("Latency", snap.LatencyText()+" s")
	}
	if snap.Err != nil {
		lines = append(lines, "", errorStyle.Render(truncateLine(snap.Err.Error(), m.width)))
	}
	return strings.Join(lines, "\n")
}
