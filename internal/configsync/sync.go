// Package configsync keeps a local draft of the service configuration and
// saves it back.
package configsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/verte-zerg/lprdesk/internal/client"
	"github.com/verte-zerg/lprdesk/internal/logging"
	"github.com/verte-zerg/lprdesk/internal/model"
)

const (
	// DefaultKPath is the field holding the active classifier k.
	DefaultKPath = "knn.K"
	// DefaultMessageTTL is how long save notices stay visible.
	DefaultMessageTTL = 3 * time.Second

	savedText = "Config saved successfully!"
)

var (
	// ErrNoDraft is returned before a config has been loaded.
	ErrNoDraft = errors.New("config not loaded")
	// ErrSaving is returned for changes while a save is in flight.
	ErrSaving = errors.New("config save in progress")
	// ErrClosed is returned after the sync was torn down.
	ErrClosed = errors.New("config sync closed")
)

// LoadState tracks the draft's load status.
type LoadState int

const (
	NotLoaded LoadState = iota
	Loaded
	LoadFailed
)

func (s LoadState) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case LoadFailed:
		return "load failed"
	default:
		return "loading"
	}
}

// ConfigClient reads and writes the canonical configuration.
type ConfigClient interface {
	GetConfig(ctx context.Context) (map[string]any, error)
	PutConfig(ctx context.Context, doc map[string]any) (map[string]any, error)
}

// Options tunes a Sync.
type Options struct {
	Schema     Schema
	KPath      string
	MessageTTL time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// SaveTicket identifies one in-flight save.
type SaveTicket struct {
	draft Document
}

// SaveOutcome is the raw result of a save request.
type SaveOutcome struct {
	Ticket  SaveTicket
	Updated map[string]any
	Err     error
}

// Sync owns the draft config for one session.
type Sync struct {
	mu     sync.Mutex
	client ConfigClient
	schema Schema
	kPath  string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	draft   Document
	state   LoadState
	loadErr error
	saving  bool
	closed  bool
	seq     uint64
	notice  model.Notice
}

// New returns a sync with no draft.
func New(c ConfigClient, opts Options) *Sync {
	if opts.Schema == nil {
		opts.Schema = DefaultSchema()
	}
	if opts.KPath == "" {
		opts.KPath = DefaultKPath
	}
	if opts.MessageTTL <= 0 {
		opts.MessageTTL = DefaultMessageTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}
	return &Sync{
		client: c,
		schema: opts.Schema,
		kPath:  opts.KPath,
		ttl:    opts.MessageTTL,
		now:    opts.Now,
		logger: opts.Logger,
	}
}

// Fetch loads the canonical config into the draft. When it fails and no
// draft exists yet the sync enters LoadFailed; an existing draft is kept.
func (s *Sync) Fetch(ctx context.Context) error {
	doc, err := s.client.GetConfig(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err != nil {
		s.logger.Warn("failed to load config", logging.Err(err))
		if s.draft.IsZero() {
			s.state = LoadFailed
			s.loadErr = err
		}
		return fmt.Errorf("failed to load config: %w", err)
	}
	s.draft = NewDocument(doc)
	s.state = Loaded
	s.loadErr = nil
	return nil
}

// State returns the load state and the last load error.
func (s *Sync) State() (LoadState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.loadErr
}

// Draft returns the current draft.
func (s *Sync) Draft() (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft, !s.draft.IsZero()
}

// Kind returns the schema kind for path.
func (s *Sync) Kind(path string) Kind {
	return s.schema.Lookup(path)
}

// UpdateField parses raw for the field at path and replaces the draft with
// an updated copy. Pair fields take the slot index to update.
func (s *Sync) UpdateField(path, raw string, index *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case s.draft.IsZero():
		return ErrNoDraft
	case s.saving:
		return ErrSaving
	}
	current, ok := s.draft.Get(path)
	if !ok {
		return invalid("unknown config field %s", path)
	}
	value, err := parseField(path, s.schema.Lookup(path), current, raw, index)
	if err != nil {
		return err
	}
	next, err := s.draft.With(path, value)
	if err != nil {
		return err
	}
	s.draft = next
	return nil
}

// BeginSave marks a save in flight and captures the draft to send.
func (s *Sync) BeginSave() (SaveTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return SaveTicket{}, ErrClosed
	case s.draft.IsZero():
		return SaveTicket{}, ErrNoDraft
	case s.saving:
		return SaveTicket{}, ErrSaving
	}
	s.saving = true
	return SaveTicket{draft: s.draft}, nil
}

// SendSave issues the save request. It holds no lock.
func (s *Sync) SendSave(ctx context.Context, t SaveTicket) SaveOutcome {
	updated, err := s.client.PutConfig(ctx, t.draft.Map())
	return SaveOutcome{Ticket: t, Updated: updated, Err: err}
}

// FinishSave applies a save outcome and returns the notice to show. On
// success the draft becomes the echoed document.
func (s *Sync) FinishSave(out SaveOutcome) model.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if s.closed {
		return model.Notice{}
	}
	if out.Err != nil {
		s.logger.Warn("failed to save config", logging.Err(out.Err))
		return s.postLocked(model.NoticeError, "Failed to save config: "+saveFailureReason(out.Err))
	}
	if out.Updated != nil {
		s.draft = NewDocument(out.Updated)
	} else {
		s.draft = out.Ticket.draft
	}
	s.logger.Info("config saved")
	return s.postLocked(model.NoticeSuccess, savedText)
}

func saveFailureReason(err error) string {
	var failure *client.LogicalFailure
	if errors.As(err, &failure) && failure.Message != "" {
		return failure.Message
	}
	return err.Error()
}

// Save sends the draft synchronously.
func (s *Sync) Save(ctx context.Context) (model.Notice, error) {
	t, err := s.BeginSave()
	if err != nil {
		return model.Notice{}, err
	}
	out := s.SendSave(ctx, t)
	return s.FinishSave(out), out.Err
}

// Saving reports whether a save is in flight.
func (s *Sync) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

func (s *Sync) postLocked(kind model.NoticeKind, text string) model.Notice {
	s.seq++
	s.notice = model.Notice{ID: s.seq, Kind: kind, Text: text, ExpiresAt: s.now().Add(s.ttl)}
	return s.notice
}

// Notice returns the current notice, or a zero notice once it expired.
func (s *Sync) Notice() model.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notice.Expired(s.now()) {
		return model.Notice{}
	}
	return s.notice
}

// ClearNotice removes the notice with the given id. A newer notice is kept.
func (s *Sync) ClearNotice(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notice.ID != id {
		return false
	}
	s.notice = model.Notice{}
	return true
}

// ActiveK returns the integer at the k path of the draft.
func (s *Sync) ActiveK() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.draft.Get(s.kPath)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// Export writes the draft as toml, yaml or json.
func (s *Sync) Export(w io.Writer, format string) error {
	doc, ok := s.Draft()
	if !ok {
		return ErrNoDraft
	}
	return EncodeDocument(w, doc, format)
}

// EncodeDocument writes doc in the named format.
func EncodeDocument(w io.Writer, doc Document, format string) error {
	m := doc.Map()
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "toml":
		return toml.NewEncoder(w).Encode(m)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// Close tears the sync down; late outcomes are dropped.
func (s *Sync) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
