package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/verte-zerg/lprdesk/internal/logging"
	"github.com/verte-zerg/lprdesk/internal/model"
)

// RecordsSlot is the slot holding the serialized record collection.
const RecordsSlot = "records"

var (
	// ErrIndexOutOfRange is returned when a record index does not exist.
	ErrIndexOutOfRange = errors.New("record index out of range")
	// ErrBlankText rejects edits that would leave a record without text.
	ErrBlankText = &model.ValidationError{Reason: "record text must not be blank"}
	// ErrBadDirection rejects moves other than one step up or down.
	ErrBadDirection = &model.ValidationError{Reason: "move direction must be -1 or +1"}
)

// RecordStore is the ordered record collection kept in a single slot.
// Every mutation reads the whole collection, applies the change and
// writes the whole collection back.
type RecordStore struct {
	slot Slot
	name string
	mu   sync.Mutex
}

// NewRecordStore returns a record store backed by the records slot.
func NewRecordStore(slot Slot) *RecordStore {
	return &RecordStore{slot: slot, name: RecordsSlot}
}

// Load restores the record collection. A missing or malformed slot yields
// an empty collection.
func (s *RecordStore) Load(ctx context.Context) ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// Append adds a record at the end of the collection.
func (s *RecordStore) Append(ctx context.Context, rec model.Record) error {
	return s.mutate(ctx, func(records []model.Record) ([]model.Record, bool, error) {
		return append(records, rec), true, nil
	})
}

// Move swaps the record at index with its neighbour at index+direction.
// It reports false without writing when either index is out of bounds.
func (s *RecordStore) Move(ctx context.Context, index, direction int) (bool, error) {
	if direction != -1 && direction != 1 {
		return false, ErrBadDirection
	}
	moved := false
	err := s.mutate(ctx, func(records []model.Record) ([]model.Record, bool, error) {
		target := index + direction
		if index < 0 || index >= len(records) || target < 0 || target >= len(records) {
			return records, false, nil
		}
		records[index], records[target] = records[target], records[index]
		moved = true
		return records, true, nil
	})
	return moved, err
}

// Delete removes the record at index, shifting later records left.
func (s *RecordStore) Delete(ctx context.Context, index int) error {
	return s.mutate(ctx, func(records []model.Record) ([]model.Record, bool, error) {
		if index < 0 || index >= len(records) {
			return records, false, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
		}
		out := make([]model.Record, 0, len(records)-1)
		out = append(out, records[:index]...)
		out = append(out, records[index+1:]...)
		return out, true, nil
	})
}

// Edit replaces the text of the record at index.
func (s *RecordStore) Edit(ctx context.Context, index int, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrBlankText
	}
	return s.mutate(ctx, func(records []model.Record) ([]model.Record, bool, error) {
		if index < 0 || index >= len(records) {
			return records, false, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
		}
		records[index].Text = text
		return records, true, nil
	})
}

// Export writes the collection as indented JSON.
func (s *RecordStore) Export(ctx context.Context, w io.Writer) error {
	records, err := s.Load(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func (s *RecordStore) mutate(ctx context.Context, fn func([]model.Record) ([]model.Record, bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	updated, changed, err := fn(records)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.saveLocked(ctx, updated)
}

func (s *RecordStore) loadLocked(ctx context.Context) ([]model.Record, error) {
	data, ok, err := s.slot.Read(ctx, s.name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s slot: %w", s.name, err)
	}
	if !ok || len(bytes.TrimSpace(data)) == 0 {
		return []model.Record{}, nil
	}
	var records []model.Record
	if err := json.Unmarshal(data, &records); err != nil {
		logging.Get().Warn("discarding malformed record slot",
			slog.String("slot", s.name),
			slog.Int("bytes", len(data)),
			logging.Err(err))
		return []model.Record{}, nil
	}
	if records == nil {
		records = []model.Record{}
	}
	return records, nil
}

func (s *RecordStore) saveLocked(ctx context.Context, records []model.Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	if err := s.slot.Write(ctx, s.name, data); err != nil {
		return fmt.Errorf("failed to write %s slot: %w", s.name, err)
	}
	return nil
}
