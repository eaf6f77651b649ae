// Package metrics holds the classifier evaluation curve and renders it.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/verte-zerg/lprdesk/internal/logging"
	"github.com/verte-zerg/lprdesk/internal/model"
)

// Evaluator reads evaluation data from the service.
type Evaluator interface {
	Evaluate(ctx context.Context) ([]model.EvaluationPoint, error)
	TrainingInfo(ctx context.Context) (model.TrainingInfo, error)
}

// View is the read-only metrics state of a session.
type View struct {
	mu     sync.Mutex
	source Evaluator
	logger *slog.Logger

	curve   []model.EvaluationPoint
	info    model.TrainingInfo
	hasInfo bool
	loaded  bool
	err     error
}

// NewView returns an empty view.
func NewView(source Evaluator, logger *slog.Logger) *View {
	if logger == nil {
		logger = logging.Get()
	}
	return &View{source: source, logger: logger}
}

// Refresh reloads the curve and the training info as two independent reads.
// Each result that arrives is applied; a failed read keeps its previous data.
func (v *View) Refresh(ctx context.Context) error {
	var (
		curve            []model.EvaluationPoint
		info             model.TrainingInfo
		evalErr, infoErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		curve, evalErr = v.source.Evaluate(ctx)
		return nil
	})
	g.Go(func() error {
		info, infoErr = v.source.TrainingInfo(ctx)
		return nil
	})
	_ = g.Wait()

	v.mu.Lock()
	defer v.mu.Unlock()
	if infoErr == nil {
		v.info = info
		v.hasInfo = true
	} else {
		infoErr = fmt.Errorf("failed to load training info: %w", infoErr)
	}
	if evalErr == nil {
		v.curve = sortedCurve(curve)
		v.loaded = true
	} else {
		evalErr = fmt.Errorf("failed to load evaluation: %w", evalErr)
	}
	v.err = errors.Join(evalErr, infoErr)
	if v.err != nil {
		v.logger.Warn("failed to refresh metrics", logging.Err(v.err))
		return v.err
	}
	v.logger.Debug("metrics refreshed", slog.Int("points", len(curve)), slog.Int("samples", info.Samples))
	return nil
}

// Curve returns a copy of the curve ordered by k.
func (v *View) Curve() []model.EvaluationPoint {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.EvaluationPoint, len(v.curve))
	copy(out, v.curve)
	return out
}

// Info returns the last training info.
func (v *View) Info() (model.TrainingInfo, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.info, v.hasInfo
}

// Loaded reports whether a curve was loaded at least once.
func (v *View) Loaded() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loaded
}

// Err returns the last refresh error.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// OperatingPoint returns the point for the active k from the view's curve.
func (v *View) OperatingPoint(k int) (model.EvaluationPoint, bool) {
	return OperatingPoint(v.Curve(), k)
}

// OperatingPoint finds the point whose K equals k exactly.
func OperatingPoint(curve []model.EvaluationPoint, k int) (model.EvaluationPoint, bool) {
	for _, p := range curve {
		if p.K == k {
			return p, true
		}
	}
	return model.EvaluationPoint{}, false
}

// Best returns the point with the highest F1. Ties go to the smaller k.
func Best(curve []model.EvaluationPoint) (model.EvaluationPoint, bool) {
	if len(curve) == 0 {
		return model.EvaluationPoint{}, false
	}
	sorted := sortedCurve(curve)
	f1 := make([]float64, len(sorted))
	for i, p := range sorted {
		f1[i] = p.F1
	}
	return sorted[floats.MaxIdx(f1)], true
}

func sortedCurve(curve []model.EvaluationPoint) []model.EvaluationPoint {
	out := make([]model.EvaluationPoint, len(curve))
	copy(out, curve)
	sort.SliceStable(out, func(i, j int) bool { return out[i].K < out[j].K })
	return out
}
