// Package session ties the per-session components together and owns their lifecycle.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/verte-zerg/lprdesk/internal/batch"
	"github.com/verte-zerg/lprdesk/internal/capture"
	"github.com/verte-zerg/lprdesk/internal/client"
	"github.com/verte-zerg/lprdesk/internal/configsync"
	"github.com/verte-zerg/lprdesk/internal/logging"
	"github.com/verte-zerg/lprdesk/internal/metrics"
	"github.com/verte-zerg/lprdesk/internal/model"
	"github.com/verte-zerg/lprdesk/internal/store"
)

// Service is the remote API a session needs.
type Service interface {
	capture.Recognizer
	batch.Trainer
	configsync.ConfigClient
	metrics.Evaluator
}

var _ Service = (*client.Client)(nil)

// Session owns the state of one interactive session.
type Session struct {
	ID      uuid.UUID
	Records *store.RecordStore
	Capture *capture.Workflow
	Batch   *batch.Assembler
	Config  *configsync.Sync
	Metrics *metrics.View

	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// New builds a session over a record slot and the service.
func New(slot store.Slot, svc Service, settings model.Settings) *Session {
	id := uuid.New()
	logger := logging.Get().With(slog.String("session", id.String()))
	records := store.NewRecordStore(slot)
	view := metrics.NewView(svc, logger)
	return &Session{
		ID:      id,
		Records: records,
		Capture: capture.New(svc, records, capture.Options{
			TimeFormat: settings.TimeFormat,
			Logger:     logger,
		}),
		Batch: batch.New(svc, view, logger),
		Config: configsync.New(svc, configsync.Options{
			KPath:      settings.KPath,
			MessageTTL: settings.MessageTTL,
			Logger:     logger,
		}),
		Metrics: view,
		logger:  logger,
	}
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Start performs the initial loads. Failures are kept in the component
// states and returned joined for logging.
func (s *Session) Start(ctx context.Context) error {
	s.logger.Info("session started")
	cfgErr := s.Config.Fetch(ctx)
	metricsErr := s.Metrics.Refresh(ctx)
	return errors.Join(cfgErr, metricsErr)
}

// Alive reports whether the session has not been closed.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close tears the session down. Results of requests still in flight are
// dropped by the components.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Capture.Close()
	s.Batch.Close()
	s.Config.Close()
	s.logger.Info("session closed")
}
