package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/verte-zerg/lprdesk/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{BaseURL: server.URL + "/", HTTPClient: server.Client()})
}

func TestRecognizeSendsImageAndDecodesResults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/recognize/" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if req["image_base64"] != "data:image/jpeg;base64,AAAA" {
			t.Fatalf("unexpected image payload: %q", req["image_base64"])
		}
		_, _ = w.Write([]byte(`{"status":"ok","results":[{"plate_id":1,"text":"51A-12345","image":"<img>"}]}`))
	})

	resp, err := c.Recognize(context.Background(), "data:image/jpeg;base64,AAAA")
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if !resp.OK() || len(resp.Results) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Results[0].Text != "51A-12345" || resp.Results[0].Image != "<img>" {
		t.Fatalf("unexpected result: %+v", resp.Results[0])
	}
}

func TestRecognizeNonOKStatusIsNotAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"no_plate","results":[]}`))
	})
	resp, err := c.Recognize(context.Background(), "x")
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if resp.OK() {
		t.Fatalf("expected non-ok status")
	}
}

func TestNon2xxIsTransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := c.Recognize(context.Background(), "x")
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestMalformedBodyIsTransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	_, err := c.TrainingInfo(context.Background())
	if !IsTransport(err) || !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected invalid response transport error, got %v", err)
	}
}

func TestUnreachableServiceIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := New(Config{BaseURL: url})
	if _, err := c.Evaluate(context.Background()); !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestTrainLogicalFailureCarriesMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Data []model.Sample `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if len(req.Data) != 2 || req.Data[1].Label != "B" {
			t.Fatalf("unexpected batch: %+v", req.Data)
		}
		_, _ = w.Write([]byte(`{"status":"error","message":"model locked"}`))
	})
	_, err := c.Train(context.Background(), []model.Sample{
		{ImageData: "x", Label: "A"},
		{ImageData: "y", Label: "B"},
	})
	var failure *LogicalFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected logical failure, got %v", err)
	}
	if failure.Message != "model locked" {
		t.Fatalf("unexpected message: %q", failure.Message)
	}
	if IsTransport(err) {
		t.Fatalf("logical failure must not be a transport error")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"status":"ok","config":{"knn":{"K":3}}}`))
		case http.MethodPut:
			var req struct {
				Data map[string]any `json:"data"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode request body: %v", err)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "updated": req.Data})
		default:
			t.Fatalf("unexpected method: %s", r.Method)
		}
	})

	doc, err := c.GetConfig(context.Background())
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	knn, ok := doc["knn"].(map[string]any)
	if !ok || knn["K"] != float64(3) {
		t.Fatalf("unexpected config: %#v", doc)
	}
	knn["K"] = float64(5)
	updated, err := c.PutConfig(context.Background(), doc)
	if err != nil {
		t.Fatalf("PutConfig() error = %v", err)
	}
	if updated["knn"].(map[string]any)["K"] != float64(5) {
		t.Fatalf("unexpected echo: %#v", updated)
	}
}

func TestEvaluateDecodesCurve(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/evaluate/" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"ok","samples":40,"results":[{"k":1,"accuracy":0.9,"precision":0.8,"recall":0.7,"f1":0.75}]}`))
	})
	curve, err := c.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	want := model.EvaluationPoint{K: 1, Accuracy: 0.9, Precision: 0.8, Recall: 0.7, F1: 0.75}
	if len(curve) != 1 || curve[0] != want {
		t.Fatalf("unexpected curve: %+v", curve)
	}
}

func TestNewDefaultsBaseURL(t *testing.T) {
	if got := New(Config{}).BaseURL(); got != DefaultBaseURL {
		t.Fatalf("expected default base url, got %q", got)
	}
}
