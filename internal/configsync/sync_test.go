package configsync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/verte-zerg/lprdesk/internal/client"
	"github.com/verte-zerg/lprdesk/internal/model"
)

func serviceConfig() map[string]any {
	return map[string]any{
		"preprocess": map[string]any{
			"GAUSSIAN_SMOOTH_FILTER_SIZE": []any{float64(5), float64(5)},
			"ADAPTIVE_THRESH_BLOCK_SIZE":  float64(19),
			"ADAPTIVE_THRESH_WEIGHT":      float64(9),
		},
		"plate": map[string]any{
			"RESIZED_IMAGE_WIDTH":  float64(20),
			"RESIZED_IMAGE_HEIGHT": float64(30),
			"Min_char":             0.01,
			"Max_char":             0.09,
		},
		"knn": map[string]any{"K": float64(3)},
		"model": map[string]any{
			"classifications_path": "classifications.txt",
		},
	}
}

type fakeConfigClient struct {
	getErr  error
	putErr  error
	echo    map[string]any
	gets    int
	puts    int
	lastPut map[string]any
}

func (f *fakeConfigClient) GetConfig(ctx context.Context) (map[string]any, error) {
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return serviceConfig(), nil
}

func (f *fakeConfigClient) PutConfig(ctx context.Context, doc map[string]any) (map[string]any, error) {
	f.puts++
	f.lastPut = doc
	if f.putErr != nil {
		return nil, f.putErr
	}
	return f.echo, nil
}

func newSync(t *testing.T, c ConfigClient, now func() time.Time) *Sync {
	t.Helper()
	return New(c, Options{Now: now, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func loaded(t *testing.T, c *fakeConfigClient) *Sync {
	t.Helper()
	s := newSync(t, c, nil)
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	return s
}

func intp(i int) *int { return &i }

func TestFetchFailureLeavesDraftUnset(t *testing.T) {
	s := newSync(t, &fakeConfigClient{getErr: errors.New("refused")}, nil)
	if err := s.Fetch(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := s.Draft(); ok {
		t.Fatalf("draft must stay unset")
	}
	if state, err := s.State(); state != LoadFailed || err == nil {
		t.Fatalf("expected LoadFailed, got %s %v", state, err)
	}
	if err := s.UpdateField("knn.K", "5", nil); !errors.Is(err, ErrNoDraft) {
		t.Fatalf("expected ErrNoDraft, got %v", err)
	}
}

func TestRefetchFailureKeepsDraft(t *testing.T) {
	c := &fakeConfigClient{}
	s := loaded(t, c)
	c.getErr = errors.New("refused")
	if err := s.Fetch(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := s.Draft(); !ok {
		t.Fatalf("existing draft must be kept")
	}
	if state, _ := s.State(); state != Loaded {
		t.Fatalf("expected Loaded, got %s", state)
	}
}

func TestUpdateFieldIsCopyOnWrite(t *testing.T) {
	s := loaded(t, &fakeConfigClient{})
	before, _ := s.Draft()

	if err := s.UpdateField("knn.K", "5", nil); err != nil {
		t.Fatalf("UpdateField() error = %v", err)
	}
	if err := s.UpdateField("preprocess.GAUSSIAN_SMOOTH_FILTER_SIZE", "7", intp(1)); err != nil {
		t.Fatalf("UpdateField(pair) error = %v", err)
	}

	after, _ := s.Draft()
	if v, _ := after.Get("knn.K"); v != 5 {
		t.Fatalf("expected K=5, got %#v", v)
	}
	if v, _ := after.Get("preprocess.GAUSSIAN_SMOOTH_FILTER_SIZE"); !reflect.DeepEqual(v, []any{float64(5), 7}) {
		t.Fatalf("unexpected pair: %#v", v)
	}
	if v, _ := before.Get("knn.K"); v != float64(3) {
		t.Fatalf("previous draft mutated: K=%#v", v)
	}
	if v, _ := before.Get("preprocess.GAUSSIAN_SMOOTH_FILTER_SIZE"); !reflect.DeepEqual(v, []any{float64(5), float64(5)}) {
		t.Fatalf("previous draft pair mutated: %#v", v)
	}
}

func TestUpdateFieldKindMismatchLeavesDraft(t *testing.T) {
	s := loaded(t, &fakeConfigClient{})
	before, _ := s.Draft()

	cases := []struct {
		path  string
		raw   string
		index *int
	}{
		{"preprocess.GAUSSIAN_SMOOTH_FILTER_SIZE", "9", nil},
		{"knn.K", "9", intp(0)},
		{"knn.K", "abc", nil},
		{"knn.K", "3.5", nil},
		{"plate.Min_char", "small", nil},
		{"preprocess.GAUSSIAN_SMOOTH_FILTER_SIZE", "x", intp(0)},
		{"preprocess.GAUSSIAN_SMOOTH_FILTER_SIZE", "3", intp(2)},
		{"knn.MISSING", "1", nil},
		{"preprocess", "5", nil},
		{"knn", "", nil},
		{"plate", "1", intp(0)},
	}
	for _, tc := range cases {
		err := s.UpdateField(tc.path, tc.raw, tc.index)
		var verr *model.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("UpdateField(%s, %q) expected validation error, got %v", tc.path, tc.raw, err)
		}
	}
	after, _ := s.Draft()
	if !reflect.DeepEqual(before.Map(), after.Map()) {
		t.Fatalf("draft changed after rejected updates")
	}
}

func TestUpdateFieldRawHeuristic(t *testing.T) {
	s := loaded(t, &fakeConfigClient{})
	for raw, want := range map[string]any{
		"2.5":         2.5,
		"0x10":        int64(16),
		"weights.npz": "weights.npz",
	} {
		if err := s.UpdateField("model.classifications_path", raw, nil); err != nil {
			t.Fatalf("UpdateField(%q) error = %v", raw, err)
		}
		doc, _ := s.Draft()
		if v, _ := doc.Get("model.classifications_path"); v != want {
			t.Fatalf("UpdateField(%q) stored %#v, want %#v", raw, v, want)
		}
	}
}

func TestSaveReplacesDraftWithEcho(t *testing.T) {
	echo := serviceConfig()
	echo["knn"] = map[string]any{"K": float64(7)}
	c := &fakeConfigClient{echo: echo}
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	s := newSync(t, c, func() time.Time { return now })
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if err := s.UpdateField("knn.K", "5", nil); err != nil {
		t.Fatalf("UpdateField() error = %v", err)
	}

	notice, err := s.Save(context.Background())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if c.lastPut["knn"].(map[string]any)["K"] != 5 {
		t.Fatalf("expected edited draft to be sent, got %#v", c.lastPut["knn"])
	}
	if k, ok := s.ActiveK(); !ok || k != 7 {
		t.Fatalf("expected draft to follow server echo, got %d %v", k, ok)
	}
	if notice.Kind != model.NoticeSuccess || !notice.ExpiresAt.Equal(now.Add(3*time.Second)) {
		t.Fatalf("unexpected notice: %+v", notice)
	}
}

func TestSaveWithoutEchoKeepsSentDraft(t *testing.T) {
	s := loaded(t, &fakeConfigClient{})
	if err := s.UpdateField("knn.K", "4", nil); err != nil {
		t.Fatalf("UpdateField() error = %v", err)
	}
	if _, err := s.Save(context.Background()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if k, _ := s.ActiveK(); k != 4 {
		t.Fatalf("expected K=4, got %d", k)
	}
}

func TestSaveFailureKeepsEdits(t *testing.T) {
	c := &fakeConfigClient{putErr: &client.LogicalFailure{Op: "put config", Status: "error", Message: "K must be odd"}}
	s := loaded(t, c)
	if err := s.UpdateField("knn.K", "4", nil); err != nil {
		t.Fatalf("UpdateField() error = %v", err)
	}
	notice, err := s.Save(context.Background())
	if err == nil {
		t.Fatalf("expected save error")
	}
	if notice.Kind != model.NoticeError || !strings.Contains(notice.Text, "K must be odd") {
		t.Fatalf("unexpected notice: %+v", notice)
	}
	if k, _ := s.ActiveK(); k != 4 {
		t.Fatalf("edits must survive a failed save, got K=%d", k)
	}
	if s.Saving() {
		t.Fatalf("save flag must be cleared")
	}
}

func TestUpdateBlockedWhileSaving(t *testing.T) {
	s := loaded(t, &fakeConfigClient{})
	ticket, err := s.BeginSave()
	if err != nil {
		t.Fatalf("BeginSave() error = %v", err)
	}
	if err := s.UpdateField("knn.K", "5", nil); !errors.Is(err, ErrSaving) {
		t.Fatalf("expected ErrSaving, got %v", err)
	}
	s.FinishSave(s.SendSave(context.Background(), ticket))
	if err := s.UpdateField("knn.K", "5", nil); err != nil {
		t.Fatalf("UpdateField() after save error = %v", err)
	}
}

func TestNoticeExpiryAndClear(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	s := newSync(t, &fakeConfigClient{}, func() time.Time { return now })
	if err := s.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	first, _ := s.Save(context.Background())
	second, _ := s.Save(context.Background())

	if s.ClearNotice(first.ID) {
		t.Fatalf("stale clear must not remove a newer notice")
	}
	if got := s.Notice(); got.ID != second.ID {
		t.Fatalf("expected newest notice, got %+v", got)
	}
	now = now.Add(3 * time.Second)
	if got := s.Notice(); got.Text != "" {
		t.Fatalf("expected notice to expire, got %+v", got)
	}
	if !s.ClearNotice(second.ID) {
		t.Fatalf("expected clear of current notice")
	}
}

func TestExportFormats(t *testing.T) {
	s := loaded(t, &fakeConfigClient{})
	for format, want := range map[string]string{
		"toml": "[knn]",
		"yaml": "knn:",
		"json": `"knn"`,
	} {
		var buf bytes.Buffer
		if err := s.Export(&buf, format); err != nil {
			t.Fatalf("Export(%s) error = %v", format, err)
		}
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("Export(%s) missing %q:\n%s", format, want, buf.String())
		}
	}
	if err := s.Export(io.Discard, "ini"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestDocumentPaths(t *testing.T) {
	doc := NewDocument(serviceConfig())
	paths := doc.Paths()
	if len(paths) != 9 || paths[0] != "knn.K" {
		t.Fatalf("unexpected paths: %v", paths)
	}
}
