package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"proctor-stream/internal/model"
)

const (
	logKeyPrefix = "log/"
	logSeqKey    = "seq/log"
	seqBandwidth = 128
)

// BadgerStore persists log records in BadgerDB under log/<user>/<id>.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence

	mu     sync.Mutex
	closed bool
	ownsDB bool
}

var _ LogStore = (*BadgerStore)(nil)

// OpenBadger opens (or creates) a BadgerDB directory and owns it.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s, err := NewBadgerStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewBadgerStore wraps an already opened database; the caller keeps ownership.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	seq, err := db.GetSequence([]byte(logSeqKey), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("log sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

func userPrefix(userID string) []byte {
	return []byte(logKeyPrefix + userID + "/")
}

func recordKey(userID string, id int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", logKeyPrefix, userID, id))
}

func (s *BadgerStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *BadgerStore) Append(ctx context.Context, userID string, records []model.LogRecord) ([]model.LogRecord, error) {
	if err := validateBatch(userID, records); err != nil {
		return nil, err
	}
	if strings.Contains(userID, "/") {
		return nil, ErrInvalidRecord
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	stored := make([]model.LogRecord, len(records))
	for i, r := range records {
		id, err := s.seq.Next()
		if err != nil {
			return nil, fmt.Errorf("next log id: %w", err)
		}
		r.ID = int64(id) + 1
		r.UserID = userID
		stored[i] = r
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, r := range stored {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshal log record: %w", err)
			}
			if err := txn.Set(recordKey(userID, r.ID), data); err != nil {
				return fmt.Errorf("set log record: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *BadgerStore) Query(ctx context.Context, userID string) ([]model.LogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	var records []model.LogRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := userPrefix(userID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r model.LogRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			})
			if err != nil {
				return fmt.Errorf("decode log record: %w", err)
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

func (s *BadgerStore) DeleteAll(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.isClosed() {
		return 0, ErrClosed
	}

	prefix := userPrefix(userID)
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("list log records: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			wb.Cancel()
			return 0, fmt.Errorf("delete log record: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush log deletes: %w", err)
	}
	return len(keys), nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.seq.Release()
	if s.ownsDB {
		if cerr := s.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
