// Package batch assembles labeled training samples and submits them as one unit.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/lprdesk/internal/client"
	"github.com/verte-zerg/lprdesk/internal/frame"
	"github.com/verte-zerg/lprdesk/internal/logging"
	"github.com/verte-zerg/lprdesk/internal/model"
)

// User-facing submission messages.
const (
	SuccessMessage = "Training completed successfully!"
	FailureMessage = "Training failed."
)

const decodeConcurrency = 4

var (
	// ErrEmptyBatch rejects submitting a batch without samples.
	ErrEmptyBatch = &model.ValidationError{Reason: "training batch is empty"}
	// ErrIncompleteLabels rejects submitting a batch with a blank label.
	ErrIncompleteLabels = &model.ValidationError{Reason: "every sample needs a label"}
	// ErrTraining is returned for changes while a submission is in flight.
	ErrTraining = errors.New("training submission in progress")
	// ErrIndexOutOfRange is returned when a sample index does not exist.
	ErrIndexOutOfRange = errors.New("sample index out of range")
	// ErrClosed is returned after the assembler was torn down.
	ErrClosed = errors.New("training batch closed")
	// ErrStaleOutcome is returned by Finish for an outcome that does not
	// belong to the submission in flight.
	ErrStaleOutcome = errors.New("training outcome does not match the submission in flight")
)

// Trainer issues training requests.
type Trainer interface {
	Train(ctx context.Context, samples []model.Sample) (string, error)
}

// Refresher reloads data derived from training, such as the training info and
// evaluation curve.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Decoder turns an image file into an encoded payload.
type Decoder func(path string) (string, error)

// Ticket identifies one in-flight submission.
type Ticket struct {
	seq     uint64
	samples []model.Sample
}

// Outcome is the raw result of a submission.
type Outcome struct {
	Ticket  Ticket
	Message string
	Err     error
}

// Assembler owns the in-memory training batch.
type Assembler struct {
	mu        sync.Mutex
	trainer   Trainer
	refresher Refresher
	decode    Decoder
	logger    *slog.Logger

	samples  []model.Sample
	training bool
	seq      uint64
	closed   bool
}

// New returns an empty assembler. A nil refresher skips the refresh step.
func New(trainer Trainer, refresher Refresher, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = logging.Get()
	}
	return &Assembler{
		trainer:   trainer,
		refresher: refresher,
		decode:    frame.ReadDataURL,
		logger:    logger,
	}
}

// AddImages decodes the files concurrently and appends them as one block in
// input order with empty labels. Nothing is appended when any decode fails.
func (a *Assembler) AddImages(ctx context.Context, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	if err := a.checkIdle(); err != nil {
		return 0, err
	}

	decoded := make([]model.Sample, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(decodeConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := a.decode(path)
			if err != nil {
				return err
			}
			decoded[i] = model.Sample{ImageData: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("failed to add images: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, ErrClosed
	}
	if a.training {
		return 0, ErrTraining
	}
	a.samples = append(a.samples, decoded...)
	return len(decoded), nil
}

// SetLabel stores the first character of value, uppercased, at index.
func (a *Assembler) SetLabel(index int, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkIdleLocked(); err != nil {
		return err
	}
	if index < 0 || index >= len(a.samples) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	a.samples[index].Label = normalizeLabel(value)
	return nil
}

func normalizeLabel(value string) string {
	for _, r := range value {
		return string(unicode.ToUpper(r))
	}
	return ""
}

// Remove deletes the sample at index.
func (a *Assembler) Remove(index int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkIdleLocked(); err != nil {
		return err
	}
	if index < 0 || index >= len(a.samples) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	a.samples = append(a.samples[:index], a.samples[index+1:]...)
	return nil
}

// Samples returns a copy of the batch.
func (a *Assembler) Samples() []model.Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Sample, len(a.samples))
	copy(out, a.samples)
	return out
}

// Len returns the number of samples.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

// Training reports whether a submission is in flight.
func (a *Assembler) Training() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.training
}

// Begin validates the batch and enters the training state.
func (a *Assembler) Begin() (Ticket, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkIdleLocked(); err != nil {
		return Ticket{}, err
	}
	if len(a.samples) == 0 {
		return Ticket{}, ErrEmptyBatch
	}
	for _, s := range a.samples {
		if strings.TrimSpace(s.Label) == "" {
			return Ticket{}, ErrIncompleteLabels
		}
	}
	a.training = true
	a.seq++
	samples := make([]model.Sample, len(a.samples))
	copy(samples, a.samples)
	return Ticket{seq: a.seq, samples: samples}, nil
}

// Send issues the training request. It holds no lock.
func (a *Assembler) Send(ctx context.Context, t Ticket) Outcome {
	msg, err := a.trainer.Train(ctx, t.samples)
	return Outcome{Ticket: t, Message: msg, Err: err}
}

// Finish leaves the training state and applies the outcome. On success the
// batch is cleared and the refresher runs; on failure the batch is kept.
// It returns the user-facing message and the failure, if any.
func (a *Assembler) Finish(ctx context.Context, out Outcome) (string, error) {
	a.mu.Lock()
	if !a.closed && (!a.training || out.Ticket.seq != a.seq) {
		a.mu.Unlock()
		return "", ErrStaleOutcome
	}
	a.training = false
	closed := a.closed
	if out.Err == nil && !closed {
		a.samples = nil
	}
	a.mu.Unlock()

	if closed {
		return "", ErrClosed
	}
	if out.Err != nil {
		a.logger.Warn("training submission failed",
			slog.Int("samples", len(out.Ticket.samples)),
			logging.Err(out.Err))
		return failureMessage(out.Err), out.Err
	}

	a.logger.Info("training submission accepted", slog.Int("samples", len(out.Ticket.samples)))
	if a.refresher != nil {
		if err := a.refresher.Refresh(ctx); err != nil {
			a.logger.Warn("refresh after training failed", logging.Err(err))
		}
	}
	return SuccessMessage, nil
}

func failureMessage(err error) string {
	var failure *client.LogicalFailure
	if errors.As(err, &failure) {
		if failure.Message != "" {
			return failure.Message
		}
		return FailureMessage
	}
	var cause error = err
	var transport *client.TransportError
	if errors.As(err, &transport) {
		cause = transport.Err
	}
	return fmt.Sprintf("Error: %v", cause)
}

// Submit validates and sends the batch synchronously.
func (a *Assembler) Submit(ctx context.Context) (string, error) {
	t, err := a.Begin()
	if err != nil {
		return "", err
	}
	return a.Finish(ctx, a.Send(ctx, t))
}

// Close tears the assembler down; late outcomes leave nothing behind.
func (a *Assembler) Close() {
	a.mu.Lock()
	a.closed = true
	a.samples = nil
	a.mu.Unlock()
}

func (a *Assembler) checkIdle() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkIdleLocked()
}

func (a *Assembler) checkIdleLocked() error {
	if a.closed {
		return ErrClosed
	}
	if a.training {
		return ErrTraining
	}
	return nil
}
