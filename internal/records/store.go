// Package records persists per-service failure records between invocations.
//
// Each record is addressed by service name only, so runs touching different services
// never collide. The package assumes a single writer per host; exclusivity is the
// scheduler's job, not the store's.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/hostwatch/internal/config"
	"github.com/miradorstack/hostwatch/internal/models"
)

var (
	// ErrStoreRead signals an unexpected failure reading a record (I/O, corrupt data).
	// A missing record is not an error.
	ErrStoreRead = errors.New("failure record read error")
	// ErrStoreWrite signals that a record could not be persisted or removed.
	ErrStoreWrite = errors.New("failure record write error")
)

// Store is the narrow key-value contract the escalation engine depends on.
type Store interface {
	// Get returns the record for service, or ok=false when none exists.
	Get(ctx context.Context, service string) (rec models.FailureRecord, ok bool, err error)
	// Put writes {attemptCount, now}, replacing any previous record.
	Put(ctx context.Context, service string, attemptCount int) error
	// Delete removes the record. Deleting a missing record succeeds.
	Delete(ctx context.Context, service string) error
	Close() error
}

// Lister is implemented by backends that can enumerate their records.
type Lister interface {
	List(ctx context.Context) ([]models.FailureRecord, error)
}

// Clock returns the current time. Backends stamp records with it on Put.
type Clock func() time.Time

func readErr(service string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreRead, service, err)
}

func writeErr(service string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreWrite, service, err)
}

// Open builds the backend selected by cfg.Backend.
func Open(cfg config.RecordsConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", config.BackendFile:
		return NewFileStore(cfg.Dir, time.Now)
	case config.BackendBadger:
		return OpenBadgerStore(BadgerConfig{Path: cfg.BadgerPath, SyncWrites: true, Logger: logger}, time.Now)
	case config.BackendValkey:
		v := cfg.Valkey
		return NewValkeyStore(ValkeyConfig{
			Addr:         v.Addr,
			Username:     v.Username,
			Password:     v.Password,
			DB:           v.DB,
			KeyPrefix:    v.KeyPrefix,
			DialTimeout:  v.DialTimeout,
			ReadTimeout:  v.ReadTimeout,
			WriteTimeout: v.WriteTimeout,
			MaxRetries:   v.MaxRetries,
			TLS:          v.TLS,
		}, time.Now)
	default:
		return nil, fmt.Errorf("unknown records backend %q", cfg.Backend)
	}
}
