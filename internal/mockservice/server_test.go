package mockservice

import (
	"context"
	"image"
	"image/color"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/verte-zerg/lprdesk/internal/client"
	"github.com/verte-zerg/lprdesk/internal/frame"
	"github.com/verte-zerg/lprdesk/internal/metrics"
	"github.com/verte-zerg/lprdesk/internal/model"
)

func newTestClient(t *testing.T) *client.Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(NewRouter(NewState(nil), nil))
	t.Cleanup(srv.Close)
	return client.New(client.Config{BaseURL: srv.URL})
}

func encodedImage(t *testing.T, varied bool) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			c := color.RGBA{R: 200, G: 200, B: 200, A: 255}
			if varied && x%3 == 0 {
				c = color.RGBA{A: 255}
			}
			img.Set(x, y, c)
		}
	}
	data, err := frame.EncodeJPEG(img)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestRecognizeDetectsPlate(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	img := encodedImage(t, true)

	resp, err := c.Recognize(ctx, img)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if !resp.OK() || len(resp.Results) != 1 {
		t.Fatalf("expected one result, got %+v", resp)
	}
	if resp.Results[0].Text == "" || resp.Results[0].Image == "" {
		t.Fatalf("expected text and image, got %+v", resp.Results[0])
	}

	again, err := c.Recognize(ctx, img)
	if err != nil {
		t.Fatalf("recognize again: %v", err)
	}
	if again.Results[0].Text != resp.Results[0].Text {
		t.Fatalf("plate text should be stable: %q vs %q", again.Results[0].Text, resp.Results[0].Text)
	}
}

func TestRecognizeBlankFrameHasNoPlate(t *testing.T) {
	c := newTestClient(t)
	resp, err := c.Recognize(context.Background(), encodedImage(t, false))
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if resp.OK() || resp.Status != statusNoPlate || len(resp.Results) != 0 {
		t.Fatalf("expected no_plate, got %+v", resp)
	}
}

func TestRecognizeRejectsGarbage(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Recognize(context.Background(), "data:image/png;base64,!!!")
	if !client.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestTrainUpdatesInfoAndEvaluation(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if _, err := c.Evaluate(ctx); !client.IsLogical(err) {
		t.Fatalf("expected logical failure before training, got %v", err)
	}

	img := encodedImage(t, true)
	samples := []model.Sample{{ImageData: img, Label: "a"}, {ImageData: img, Label: "B"}, {ImageData: img, Label: "A"}}
	if _, err := c.Train(ctx, samples); err != nil {
		t.Fatalf("train: %v", err)
	}

	info, err := c.TrainingInfo(ctx)
	if err != nil {
		t.Fatalf("training info: %v", err)
	}
	if info.Samples != 3 || info.Images != 3 {
		t.Fatalf("unexpected info %+v", info)
	}

	curve, err := c.Evaluate(ctx)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(curve) != len(EvaluatedK) {
		t.Fatalf("expected %d points, got %d", len(EvaluatedK), len(curve))
	}
	best, ok := metrics.Best(curve)
	if !ok || best.K != 3 {
		t.Fatalf("expected best k=3, got %+v", best)
	}
}

func TestTrainRejectsBlankLabel(t *testing.T) {
	c := newTestClient(t)
	img := encodedImage(t, true)
	_, err := c.Train(context.Background(), []model.Sample{{ImageData: img, Label: " "}})
	if !client.IsLogical(err) {
		t.Fatalf("expected logical failure, got %v", err)
	}
	_, err = c.Train(context.Background(), nil)
	if !client.IsLogical(err) {
		t.Fatalf("expected logical failure for empty batch, got %v", err)
	}
}

func TestConfigRoundTripMerges(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	cfg, err := c.GetConfig(ctx)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	knn := cfg["knn"].(map[string]any)
	if knn["K"].(float64) != 3 {
		t.Fatalf("expected default K 3, got %v", knn["K"])
	}

	updated, err := c.PutConfig(ctx, map[string]any{"knn": map[string]any{"K": 5}})
	if err != nil {
		t.Fatalf("put config: %v", err)
	}
	if updated["knn"].(map[string]any)["K"].(float64) != 5 {
		t.Fatalf("expected K 5 echoed, got %v", updated["knn"])
	}
	if _, ok := updated["plate"]; !ok {
		t.Fatalf("partial update should keep other sections: %v", updated)
	}

	cfg, err = c.GetConfig(ctx)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg["knn"].(map[string]any)["K"].(float64) != 5 {
		t.Fatalf("update was not kept: %v", cfg["knn"])
	}
}

func TestMergeInto(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": 1}
	mergeInto(dst, map[string]any{"a": map[string]any{"y": 3}, "c": 4})
	a := dst["a"].(map[string]any)
	if a["x"] != 1 || a["y"] != 3 || dst["b"] != 1 || dst["c"] != 4 {
		t.Fatalf("unexpected merge result %v", dst)
	}
}
