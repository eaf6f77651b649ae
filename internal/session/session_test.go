package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/verte-zerg/lprdesk/internal/client"
	"github.com/verte-zerg/lprdesk/internal/model"
	"github.com/verte-zerg/lprdesk/internal/store"
)

type stillSource struct{}

func (stillSource) Frame(ctx context.Context) (string, error) { return "data:image/jpeg;base64,AA", nil }
func (stillSource) Name() string                              { return "still" }

func newFakeService(t *testing.T, requests *atomic.Int32) *client.Client {
	t.Helper()
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, v any) {
		requests.Add(1)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/recognize/", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"status": "ok", "results": []any{map[string]any{"text": "51A-12345", "image": "<img>"}}})
	})
	mux.HandleFunc("/train/", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"status": "ok"})
	})
	mux.HandleFunc("/training-info/", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"status": "ok", "samples": 10, "images": 2})
	})
	mux.HandleFunc("/config/", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"status": "ok", "config": map[string]any{"knn": map[string]any{"K": 3}}})
	})
	mux.HandleFunc("/evaluate/", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"status": "ok", "results": []any{map[string]any{"k": 3, "accuracy": 0.9, "precision": 0.9, "recall": 0.9, "f1": 0.9}}})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return client.New(client.Config{BaseURL: server.URL, HTTPClient: server.Client()})
}

func newSession(t *testing.T, requests *atomic.Int32) *Session {
	t.Helper()
	slot, err := store.OpenFileSlot(filepath.Join(t.TempDir(), "slots"))
	if err != nil {
		t.Fatalf("open slot: %v", err)
	}
	t.Cleanup(func() { _ = slot.Close() })
	return New(slot, newFakeService(t, requests), model.Settings{})
}

func TestSessionStartLoadsConfigAndMetrics(t *testing.T) {
	var requests atomic.Int32
	s := newSession(t, &requests)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	k, ok := s.Config.ActiveK()
	if !ok || k != 3 {
		t.Fatalf("unexpected active k: %d %v", k, ok)
	}
	if _, ok := s.Metrics.OperatingPoint(k); !ok {
		t.Fatalf("expected operating point for k=%d", k)
	}
}

func TestSessionStartReportsEveryFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/config/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "config unreadable"})
	})
	mux.HandleFunc("/evaluate/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "training files missing"})
	})
	mux.HandleFunc("/training-info/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "samples": 4, "images": 4})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	slot, err := store.OpenFileSlot(filepath.Join(t.TempDir(), "slots"))
	if err != nil {
		t.Fatalf("open slot: %v", err)
	}
	t.Cleanup(func() { _ = slot.Close() })
	s := New(slot, client.New(client.Config{BaseURL: server.URL, HTTPClient: server.Client()}), model.Settings{})

	err = s.Start(context.Background())
	if err == nil {
		t.Fatalf("expected Start() error")
	}
	for _, want := range []string{"config unreadable", "training files missing"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Start() error %q should mention %q", err, want)
		}
	}
	if info, ok := s.Metrics.Info(); !ok || info.Samples != 4 {
		t.Fatalf("training info should load despite evaluation failure: %+v %v", info, ok)
	}
}

func TestSubmitValidationSendsNoRequest(t *testing.T) {
	var requests atomic.Int32
	s := newSession(t, &requests)
	if _, err := s.Batch.Submit(context.Background()); err == nil {
		t.Fatalf("expected empty batch error")
	}
	if n := requests.Load(); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
}

func TestCloseDropsInFlightRecognition(t *testing.T) {
	var requests atomic.Int32
	s := newSession(t, &requests)
	s.Capture.Load(stillSource{})
	ticket, err := s.Capture.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	out := s.Capture.Request(context.Background(), ticket)
	s.Close()
	if s.Alive() {
		t.Fatalf("session should be closed")
	}
	if _, applied := s.Capture.Finish(context.Background(), out); applied {
		t.Fatalf("late result must not be applied")
	}
	records, err := s.Records.Load(context.Background())
	if err != nil || len(records) != 0 {
		t.Fatalf("expected no records, got %d (%v)", len(records), err)
	}
}
