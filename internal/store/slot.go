// Package store persists named slots and the ordered recognition record collection.
package store

import (
	"context"
	"fmt"
	"strings"
)

// Supported slot engines.
const (
	EngineSQLite = "sqlite"
	EngineJSON   = "json"
)

// Slot is a named durable value, overwritten in full on every write.
type Slot interface {
	Read(ctx context.Context, name string) ([]byte, bool, error)
	Write(ctx context.Context, name string, data []byte) error
	Close() error
}

// NewByEngine opens a slot backend for the given engine name.
func NewByEngine(engine, path string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineSQLite:
		return OpenSQLite(path)
	case EngineJSON:
		return OpenFileSlot(path)
	default:
		return nil, fmt.Errorf("unsupported store engine: %s", engine)
	}
}
