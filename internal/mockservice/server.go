// Package mockservice serves an in-memory stand-in for the recognition
// service so the client can be developed without the real backend.
package mockservice

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"image"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/verte-zerg/lprdesk/internal/configsync"
	"github.com/verte-zerg/lprdesk/internal/frame"
	"github.com/verte-zerg/lprdesk/internal/logging"
	"github.com/verte-zerg/lprdesk/internal/model"
)

// EvaluatedK lists the k values the evaluation endpoint reports.
var EvaluatedK = []int{1, 3, 5, 7, 9}

const (
	statusNoPlate = "no_plate"
	statusFail    = "fail"
	statusError   = "error"
)

// DefaultConfig returns the configuration document the service starts with.
func DefaultConfig() map[string]any {
	return map[string]any{
		"preprocess": map[string]any{
			"GAUSSIAN_SMOOTH_FILTER_SIZE": []any{5, 5},
			"ADAPTIVE_THRESH_BLOCK_SIZE":  19,
			"ADAPTIVE_THRESH_WEIGHT":      9,
		},
		"plate": map[string]any{
			"RESIZED_IMAGE_WIDTH":  20,
			"RESIZED_IMAGE_HEIGHT": 30,
			"Min_char":             0.01,
			"Max_char":             0.09,
		},
		"knn": map[string]any{
			"K": 3,
		},
		"model": map[string]any{
			"classifications_path":  "data/classifications.txt",
			"flattened_images_path": "data/flattened_images.txt",
		},
	}
}

// State is the mutable service state shared by the handlers.
type State struct {
	mu      sync.Mutex
	config  configsync.Document
	samples int
	images  int
	labels  map[string]int
}

// NewState returns a state holding cfg, or DefaultConfig when cfg is nil.
func NewState(cfg map[string]any) *State {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &State{config: configsync.NewDocument(cfg), labels: map[string]int{}}
}

type recognizeRequest struct {
	ImageBase64 string `json:"image_base64" binding:"required"`
}

type trainRequest struct {
	Data []model.Sample `json:"data"`
}

type configRequest struct {
	Data map[string]any `json:"data" binding:"required"`
}

// Handler holds the endpoint handlers.
type Handler struct {
	state  *State
	logger *slog.Logger
}

// NewHandler returns handlers over state.
func NewHandler(state *State, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Get()
	}
	return &Handler{state: state, logger: logger}
}

// NewRouter wires the endpoints on a gin engine.
func NewRouter(state *State, logger *slog.Logger) *gin.Engine {
	h := NewHandler(state, logger)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.logger))

	r.POST("/recognize/", h.Recognize)
	r.POST("/train/", h.Train)
	r.GET("/training-info/", h.TrainingInfo)
	r.GET("/config/", h.GetConfig)
	r.PUT("/config/", h.PutConfig)
	r.GET("/evaluate/", h.Evaluate)
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)))
	}
}

// POST /recognize/
func (h *Handler) Recognize(c *gin.Context) {
	var req recognizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}
	data, err := decodeImagePayload(req.ImageBase64)
	if err != nil {
		h.logger.Warn("undecodable frame", logging.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image data"})
		return
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		h.logger.Warn("undecodable frame", logging.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image data"})
		return
	}
	if uniform(img) {
		c.JSON(http.StatusOK, gin.H{"status": statusNoPlate, "results": []model.PlateResult{}})
		return
	}

	roi, err := frame.EncodeJPEG(img)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode plate image"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": model.StatusOK,
		"results": []model.PlateResult{{
			PlateID: 1,
			Text:    plateText(data),
			Image:   roi,
		}},
	})
}

// POST /train/
func (h *Handler) Train(c *gin.Context) {
	var req trainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": statusError, "message": err.Error()})
		return
	}
	if len(req.Data) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": statusFail})
		return
	}
	labels := make([]string, 0, len(req.Data))
	for i, s := range req.Data {
		label := strings.ToUpper(strings.TrimSpace(s.Label))
		if label == "" {
			c.JSON(http.StatusOK, gin.H{"status": statusError, "message": fmt.Sprintf("sample %d has no label", i)})
			return
		}
		if _, err := decodeImagePayload(s.ImageData); err != nil {
			c.JSON(http.StatusOK, gin.H{"status": statusError, "message": fmt.Sprintf("sample %d: %v", i, err)})
			return
		}
		labels = append(labels, label)
	}

	h.state.mu.Lock()
	for _, label := range labels {
		h.state.labels[label]++
	}
	h.state.samples += len(labels)
	h.state.images += len(labels)
	h.state.mu.Unlock()

	h.logger.Info("training batch accepted", slog.Int("samples", len(labels)))
	c.JSON(http.StatusOK, gin.H{"status": model.StatusOK})
}

// GET /training-info/
func (h *Handler) TrainingInfo(c *gin.Context) {
	h.state.mu.Lock()
	samples, images := h.state.samples, h.state.images
	cfg := h.state.config
	h.state.mu.Unlock()

	paths := gin.H{}
	if v, ok := cfg.Get("model.classifications_path"); ok {
		paths["classifications"] = v
	}
	if v, ok := cfg.Get("model.flattened_images_path"); ok {
		paths["flattened_images"] = v
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  model.StatusOK,
		"samples": samples,
		"images":  images,
		"paths":   paths,
	})
}

// GET /config/
func (h *Handler) GetConfig(c *gin.Context) {
	h.state.mu.Lock()
	cfg := h.state.config.Map()
	h.state.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": model.StatusOK, "config": cfg})
}

// PUT /config/ merges a partial document into the current one.
func (h *Handler) PutConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": statusError, "message": err.Error()})
		return
	}
	h.state.mu.Lock()
	merged := h.state.config.Map()
	mergeInto(merged, req.Data)
	h.state.config = configsync.NewDocument(merged)
	updated := h.state.config.Map()
	h.state.mu.Unlock()

	h.logger.Info("config updated")
	c.JSON(http.StatusOK, gin.H{"status": model.StatusOK, "updated": updated})
}

// GET /evaluate/
func (h *Handler) Evaluate(c *gin.Context) {
	h.state.mu.Lock()
	samples := h.state.samples
	classes := len(h.state.labels)
	h.state.mu.Unlock()

	if samples == 0 {
		c.JSON(http.StatusOK, gin.H{"status": statusError, "message": "training files missing"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  model.StatusOK,
		"samples": samples,
		"results": EvaluationCurve(samples, classes),
	})
}

// EvaluationCurve returns deterministic metrics that improve with the amount
// of training data and peak around k=3.
func EvaluationCurve(samples, classes int) []model.EvaluationPoint {
	base := 1 - 1/(1+float64(samples)/10)
	spread := 0.0
	if classes > 1 {
		spread = 0.02 * math.Log(float64(classes))
	}
	out := make([]model.EvaluationPoint, 0, len(EvaluatedK))
	for _, k := range EvaluatedK {
		penalty := 0.015 * math.Abs(float64(k-3))
		if k == 1 {
			penalty = 0.01
		}
		acc := clamp01(base - penalty)
		prec := clamp01(acc - spread)
		rec := clamp01(acc - spread/2)
		f1 := 0.0
		if prec+rec > 0 {
			f1 = 2 * prec * rec / (prec + rec)
		}
		out = append(out, model.EvaluationPoint{
			K:         k,
			Accuracy:  round4(acc),
			Precision: round4(prec),
			Recall:    round4(rec),
			F1:        round4(f1),
		})
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// mergeInto overlays src onto dst, recursing into nested sections.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		srcChild, srcIsMap := v.(map[string]any)
		dstChild, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeInto(dstChild, srcChild)
			continue
		}
		dst[k] = v
	}
}

// decodeImagePayload accepts raw base64 or a data URL.
func decodeImagePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		_, rest, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, fmt.Errorf("malformed data url")
		}
		payload = rest
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	return data, nil
}

// uniform reports whether every pixel has the same color.
func uniform(img image.Image) bool {
	b := img.Bounds()
	if b.Empty() {
		return true
	}
	r0, g0, b0, a0 := img.At(b.Min.X, b.Min.Y).RGBA()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			if r != r0 || g != g0 || bl != b0 || a != a0 {
				return false
			}
		}
	}
	return true
}

const plateLetters = "ABCDEFGHKLMNPRSTUVXYZ"

// plateText derives a stable plate number from the frame bytes.
func plateText(data []byte) string {
	h := fnv.New32a()
	_, _ = h.Write(data)
	sum := h.Sum32()
	letter := plateLetters[sum%uint32(len(plateLetters))]
	return fmt.Sprintf("%02d%c-%05d", 10+sum%90, letter, (sum/97)%100000)
}
