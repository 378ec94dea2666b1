package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/miradorstack/hostwatch/internal/models"
)

const badgerKeyPrefix = "failure/"

// BadgerConfig configures the embedded BadgerDB backend.
type BadgerConfig struct {
	// Path is ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// BadgerStore keeps failure records in an embedded BadgerDB, one key per service.
type BadgerStore struct {
	db  *badger.DB
	now Clock
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// OpenBadgerStore opens (creating if needed) the database described by cfg.
func OpenBadgerStore(cfg BadgerConfig, now Clock) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for a persistent store")
	}
	if now == nil {
		now = time.Now
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db, now: now}, nil
}

func badgerKey(service string) []byte {
	return []byte(badgerKeyPrefix + service)
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, service string) (models.FailureRecord, bool, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(service))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.FailureRecord{}, false, nil
	}
	if err != nil {
		return models.FailureRecord{}, false, readErr(service, err)
	}
	rec, err := decodeRecord(service, data)
	if err != nil {
		return models.FailureRecord{}, false, readErr(service, err)
	}
	return rec, true, nil
}

// Put implements Store.
func (s *BadgerStore) Put(_ context.Context, service string, attemptCount int) error {
	value := encodeRecord(attemptCount, s.now())
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(service), value)
	}); err != nil {
		return writeErr(service, err)
	}
	return nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(_ context.Context, service string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(service))
	}); err != nil {
		return writeErr(service, err)
	}
	return nil
}

// List implements Lister.
func (s *BadgerStore) List(_ context.Context) ([]models.FailureRecord, error) {
	var out []models.FailureRecord
	prefix := []byte(badgerKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			service := strings.TrimPrefix(string(item.KeyCopy(nil)), badgerKeyPrefix)
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodeRecord(service, data)
			if err != nil {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrStoreRead, err)
	}
	return out, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
