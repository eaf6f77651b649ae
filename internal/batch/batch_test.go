package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/verte-zerg/lprdesk/internal/client"
	"github.com/verte-zerg/lprdesk/internal/model"
)

type fakeTrainer struct {
	calls int
	sent  []model.Sample
	msg   string
	err   error
}

func (f *fakeTrainer) Train(ctx context.Context, samples []model.Sample) (string, error) {
	f.calls++
	f.sent = samples
	return f.msg, f.err
}

type countingRefresher struct{ calls int }

func (r *countingRefresher) Refresh(ctx context.Context) error {
	r.calls++
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seeded(t *testing.T, trainer Trainer, refresher Refresher, samples ...model.Sample) *Assembler {
	t.Helper()
	a := New(trainer, refresher, quietLogger())
	a.samples = append(a.samples, samples...)
	return a
}

func writeImages(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		img := image.NewGray(image.Rect(0, 0, i+1, i+1))
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			t.Fatalf("encode: %v", err)
		}
		paths[i] = filepath.Join(dir, fmt.Sprintf("char-%d.png", i))
		if err := os.WriteFile(paths[i], buf.Bytes(), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return paths
}

func TestAddImagesAppendsBlockInInputOrder(t *testing.T) {
	a := seeded(t, &fakeTrainer{}, nil, model.Sample{ImageData: "existing", Label: "Z"})
	a.decode = func(path string) (string, error) { return "img:" + filepath.Base(path), nil }

	paths := []string{"/x/a.png", "/x/b.png", "/x/c.png", "/x/d.png", "/x/e.png"}
	n, err := a.AddImages(context.Background(), paths)
	if err != nil || n != len(paths) {
		t.Fatalf("AddImages() = %d, %v", n, err)
	}
	got := a.Samples()
	if len(got) != 6 || got[0].ImageData != "existing" {
		t.Fatalf("unexpected batch: %+v", got)
	}
	for i, p := range paths {
		s := got[i+1]
		if s.ImageData != "img:"+filepath.Base(p) || s.Label != "" {
			t.Fatalf("sample %d out of order: %+v", i+1, s)
		}
	}
}

func TestAddImagesDecodesRealFiles(t *testing.T) {
	a := New(&fakeTrainer{}, nil, quietLogger())
	n, err := a.AddImages(context.Background(), writeImages(t, 3))
	if err != nil || n != 3 {
		t.Fatalf("AddImages() = %d, %v", n, err)
	}
	for _, s := range a.Samples() {
		if !strings.HasPrefix(s.ImageData, "data:image/png;base64,") {
			t.Fatalf("unexpected payload: %.40s", s.ImageData)
		}
	}
}

func TestAddImagesFailureAppendsNothing(t *testing.T) {
	a := New(&fakeTrainer{}, nil, quietLogger())
	paths := append(writeImages(t, 2), filepath.Join(t.TempDir(), "missing.png"))
	if _, err := a.AddImages(context.Background(), paths); err == nil {
		t.Fatalf("expected decode error")
	}
	if a.Len() != 0 {
		t.Fatalf("expected empty batch, got %d", a.Len())
	}
}

func TestSetLabelNormalizes(t *testing.T) {
	a := seeded(t, &fakeTrainer{}, nil, model.Sample{ImageData: "x"})
	for input, want := range map[string]string{"a": "A", "bc": "B", "": "", "7": "7"} {
		if err := a.SetLabel(0, input); err != nil {
			t.Fatalf("SetLabel(%q): %v", input, err)
		}
		if got := a.Samples()[0].Label; got != want {
			t.Fatalf("SetLabel(%q) stored %q, want %q", input, got, want)
		}
	}
	if err := a.SetLabel(3, "A"); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestRemoveShiftsSamples(t *testing.T) {
	a := seeded(t, &fakeTrainer{}, nil,
		model.Sample{ImageData: "x", Label: "A"},
		model.Sample{ImageData: "y", Label: "B"},
		model.Sample{ImageData: "z", Label: "C"})
	if err := a.Remove(1); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	got := a.Samples()
	if len(got) != 2 || got[0].Label != "A" || got[1].Label != "C" {
		t.Fatalf("unexpected batch: %+v", got)
	}
}

func TestSubmitEmptyBatchSendsNothing(t *testing.T) {
	trainer := &fakeTrainer{}
	a := New(trainer, nil, quietLogger())
	if _, err := a.Submit(context.Background()); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
	if trainer.calls != 0 {
		t.Fatalf("expected no request, got %d", trainer.calls)
	}
}

func TestSubmitIncompleteLabelsKeepsBatch(t *testing.T) {
	trainer := &fakeTrainer{}
	before := []model.Sample{{ImageData: "X", Label: "A"}, {ImageData: "Y", Label: ""}}
	a := seeded(t, trainer, nil, before...)

	_, err := a.Submit(context.Background())
	if !errors.Is(err, ErrIncompleteLabels) {
		t.Fatalf("expected ErrIncompleteLabels, got %v", err)
	}
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error type")
	}
	if trainer.calls != 0 {
		t.Fatalf("expected no request, got %d", trainer.calls)
	}
	if !reflect.DeepEqual(a.Samples(), before) {
		t.Fatalf("batch changed: %+v", a.Samples())
	}
	if a.Training() {
		t.Fatalf("validation failure must not enter training state")
	}
}

func TestSubmitSuccessClearsAndRefreshes(t *testing.T) {
	trainer := &fakeTrainer{}
	refresher := &countingRefresher{}
	a := seeded(t, trainer, refresher,
		model.Sample{ImageData: "X", Label: "A"},
		model.Sample{ImageData: "Y", Label: "A"})

	msg, err := a.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if msg != SuccessMessage {
		t.Fatalf("unexpected message: %q", msg)
	}
	if len(trainer.sent) != 2 {
		t.Fatalf("expected whole batch to be sent, got %d", len(trainer.sent))
	}
	if a.Len() != 0 || refresher.calls != 1 || a.Training() {
		t.Fatalf("unexpected state: len=%d refresh=%d training=%v", a.Len(), refresher.calls, a.Training())
	}
}

func TestSubmitFailuresKeepBatch(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"logical with message", &client.LogicalFailure{Op: "train", Status: "error", Message: "not enough samples"}, "not enough samples"},
		{"logical without message", &client.LogicalFailure{Op: "train", Status: "error"}, FailureMessage},
		{"transport", &client.TransportError{Op: "train", Err: errors.New("connection refused")}, "Error: connection refused"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			refresher := &countingRefresher{}
			before := []model.Sample{{ImageData: "X", Label: "A"}}
			a := seeded(t, &fakeTrainer{err: tc.err}, refresher, before...)

			msg, err := a.Submit(context.Background())
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if msg != tc.want {
				t.Fatalf("unexpected message: %q", msg)
			}
			if !reflect.DeepEqual(a.Samples(), before) || refresher.calls != 0 || a.Training() {
				t.Fatalf("batch or state changed after failure")
			}
		})
	}
}

func TestMutationsBlockedWhileTraining(t *testing.T) {
	trainer := &fakeTrainer{}
	a := seeded(t, trainer, nil, model.Sample{ImageData: "X", Label: "A"})
	ticket, err := a.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := a.SetLabel(0, "b"); !errors.Is(err, ErrTraining) {
		t.Fatalf("expected ErrTraining, got %v", err)
	}
	if _, err := a.Begin(); !errors.Is(err, ErrTraining) {
		t.Fatalf("expected ErrTraining for second submit, got %v", err)
	}
	if _, err := a.Finish(context.Background(), a.Send(context.Background(), ticket)); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if trainer.calls != 1 {
		t.Fatalf("expected one request, got %d", trainer.calls)
	}
}

func TestFinishIgnoresStaleOutcome(t *testing.T) {
	trainer := &fakeTrainer{}
	a := seeded(t, trainer, nil, model.Sample{ImageData: "X", Label: "A"})
	ticket, err := a.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	out := a.Send(context.Background(), ticket)
	if _, err := a.Finish(context.Background(), out); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	a.samples = append(a.samples, model.Sample{ImageData: "Y", Label: "B"})
	if _, err := a.Finish(context.Background(), out); !errors.Is(err, ErrStaleOutcome) {
		t.Fatalf("expected ErrStaleOutcome for a repeated outcome, got %v", err)
	}
	if a.Len() != 1 {
		t.Fatalf("unsent batch should be kept, got %d samples", a.Len())
	}

	next, err := a.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := a.Finish(context.Background(), out); !errors.Is(err, ErrStaleOutcome) {
		t.Fatalf("expected ErrStaleOutcome for an earlier ticket, got %v", err)
	}
	if !a.Training() || a.Len() != 1 {
		t.Fatalf("submission in flight should be untouched")
	}
	if _, err := a.Finish(context.Background(), a.Send(context.Background(), next)); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if a.Len() != 0 {
		t.Fatalf("batch should be cleared after its own outcome")
	}
}
