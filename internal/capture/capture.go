// Package capture runs the capture and recognize cycle for the displayed frame.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verte-zerg/lprdesk/internal/client"
	"github.com/verte-zerg/lprdesk/internal/frame"
	"github.com/verte-zerg/lprdesk/internal/logging"
	"github.com/verte-zerg/lprdesk/internal/model"
)

// DefaultTimeFormat matches the "HH:MM:SS DD/MM/YYYY" record timestamps.
const DefaultTimeFormat = "15:04:05 02/01/2006"

// Placeholder result texts.
const (
	NoPlateText   = "No plate detected"
	ErrorText     = "Error recognizing plate"
	SaveErrorText = "Error saving record"
)

var (
	// ErrBusy is returned while a recognition request is in flight.
	ErrBusy = errors.New("recognition already in progress")
	// ErrNoSource is returned before any video source was loaded.
	ErrNoSource = errors.New("no video source loaded")
	// ErrClosed is returned after the workflow was torn down.
	ErrClosed = errors.New("capture workflow closed")
)

// State is a step of the capture cycle.
type State int

const (
	Idle State = iota
	FrameCaptured
	Recognizing
	Succeeded
	NoDetection
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FrameCaptured:
		return "frame captured"
	case Recognizing:
		return "recognizing"
	case Succeeded:
		return "succeeded"
	case NoDetection:
		return "no detection"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Recognizer issues recognition requests.
type Recognizer interface {
	Recognize(ctx context.Context, image string) (client.RecognizeResponse, error)
}

// Appender persists successful recognitions.
type Appender interface {
	Append(ctx context.Context, rec model.Record) error
}

// Result is the displayed outcome of a cycle.
type Result struct {
	Text  string
	Image string
}

// Snapshot is a copy of the workflow's display state.
type Snapshot struct {
	State     State
	Source    string
	Frame     string
	Result    Result
	Timestamp string
	Latency   time.Duration
	// Timed reports whether Timestamp and Latency are shown.
	Timed bool
	Err   error
}

// LatencyText returns the latency in seconds, or "" when not shown.
func (s Snapshot) LatencyText() string {
	if !s.Timed {
		return ""
	}
	return FormatLatency(s.Latency)
}

// FormatLatency renders d as seconds with millisecond precision.
func FormatLatency(d time.Duration) string {
	ms := d.Truncate(time.Millisecond).Milliseconds()
	return fmt.Sprintf("%.3f", float64(ms)/1000)
}

// Options tunes a Workflow.
type Options struct {
	TimeFormat string
	Now        func() time.Time
	Logger     *slog.Logger
}

// Ticket identifies one in-flight recognition.
type Ticket struct {
	cycle  uint64
	source frame.Source
}

// Outcome is the raw result of a recognition request.
type Outcome struct {
	Ticket   Ticket
	Frame    string
	Response client.RecognizeResponse
	Err      error
	Started  time.Time
	Finished time.Time
}

// Workflow is the capture state machine for one session.
type Workflow struct {
	mu         sync.Mutex
	recognizer Recognizer
	records    Appender
	timeFormat string
	now        func() time.Time
	logger     *slog.Logger

	source frame.Source
	cycle  uint64
	closed bool
	snap   Snapshot
}

// New returns an idle workflow.
func New(recognizer Recognizer, records Appender, opts Options) *Workflow {
	if opts.TimeFormat == "" {
		opts.TimeFormat = DefaultTimeFormat
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}
	return &Workflow{
		recognizer: recognizer,
		records:    records,
		timeFormat: opts.TimeFormat,
		now:        opts.Now,
		logger:     opts.Logger,
	}
}

// Load makes src the displayed source and starts a new cycle. Any result of
// a request still in flight for the previous cycle is dropped.
func (w *Workflow) Load(src frame.Source) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.source = src
	w.cycle++
	w.snap = Snapshot{State: FrameCaptured, Source: src.Name()}
}

// Begin moves the workflow to Recognizing.
func (w *Workflow) Begin() (Ticket, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.closed:
		return Ticket{}, ErrClosed
	case w.snap.State == Idle || w.source == nil:
		return Ticket{}, ErrNoSource
	case w.snap.State == Recognizing:
		return Ticket{}, ErrBusy
	}
	w.snap.State = Recognizing
	w.snap.Err = nil
	return Ticket{cycle: w.cycle, source: w.source}, nil
}

// Request encodes the current frame and sends it. It holds no lock and may
// run on any goroutine.
func (w *Workflow) Request(ctx context.Context, t Ticket) Outcome {
	out := Outcome{Ticket: t}
	img, err := t.source.Frame(ctx)
	if err != nil {
		out.Err = fmt.Errorf("failed to capture frame: %w", err)
		return out
	}
	out.Frame = img
	out.Started = w.now()
	out.Response, out.Err = w.recognizer.Recognize(ctx, img)
	out.Finished = w.now()
	return out
}

// Finish applies an outcome. It reports false when the outcome belongs to a
// superseded cycle or a closed workflow and was dropped.
func (w *Workflow) Finish(ctx context.Context, out Outcome) (Snapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || out.Ticket.cycle != w.cycle || w.snap.State != Recognizing {
		w.logger.Debug("dropping stale recognition", slog.Uint64("cycle", out.Ticket.cycle))
		return w.snap, false
	}

	w.snap.Frame = out.Frame
	if out.Err != nil {
		w.logger.Warn("recognition failed", logging.Err(out.Err))
		w.fail(ErrorText, out.Err)
		return w.snap, true
	}

	latency := out.Finished.Sub(out.Started).Truncate(time.Millisecond)
	if latency < 0 {
		latency = 0
	}
	w.snap.Timestamp = out.Finished.Format(w.timeFormat)
	w.snap.Latency = latency
	w.snap.Timed = true

	resp := out.Response
	if !resp.OK() || len(resp.Results) == 0 {
		w.snap.State = NoDetection
		w.snap.Result = Result{Text: NoPlateText}
		w.logger.Info("no plate detected",
			slog.String("status", resp.Status),
			slog.String("latency", FormatLatency(latency)))
		return w.snap, true
	}

	first := resp.Results[0]
	rec := model.Record{
		Text:        first.Text,
		Time:        w.snap.Timestamp,
		FullImage:   out.Frame,
		ResultImage: first.Image,
	}
	if err := w.records.Append(ctx, rec); err != nil {
		w.logger.Error("failed to save record", logging.Err(err))
		w.fail(SaveErrorText, err)
		return w.snap, true
	}
	w.snap.State = Succeeded
	w.snap.Result = Result{Text: first.Text, Image: first.Image}
	w.logger.Info("plate recognized",
		slog.String("text", first.Text),
		slog.Int("results", len(resp.Results)),
		slog.String("latency", FormatLatency(latency)))
	return w.snap, true
}

func (w *Workflow) fail(text string, err error) {
	w.snap.State = Failed
	w.snap.Result = Result{Text: text}
	w.snap.Timestamp = ""
	w.snap.Latency = 0
	w.snap.Timed = false
	w.snap.Err = err
}

// Recognize runs a full cycle synchronously.
func (w *Workflow) Recognize(ctx context.Context) (Snapshot, error) {
	t, err := w.Begin()
	if err != nil {
		return w.Snapshot(), err
	}
	snap, _ := w.Finish(ctx, w.Request(ctx, t))
	return snap, nil
}

// Snapshot returns the current display state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

// Close tears the workflow down; later outcomes are dropped.
func (w *Workflow) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
