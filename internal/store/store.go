package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"proctor-stream/internal/model"
)

var (
	ErrInvalidRecord = errors.New("invalid log record")
	ErrClosed        = errors.New("log store closed")
)

// LogStore is the append-only event log. Append is atomic: either every
// record of the batch is stored and returned with its assigned ID, or none is.
type LogStore interface {
	Append(ctx context.Context, userID string, records []model.LogRecord) ([]model.LogRecord, error)
	Query(ctx context.Context, userID string) ([]model.LogRecord, error)
	DeleteAll(ctx context.Context, userID string) (int, error)
	Close() error
}

type Store struct {
	mu     sync.RWMutex
	closed bool

	logs *logTable
	seq  *seqGenerator
}

var _ LogStore = (*Store)(nil)

func New() *Store {
	return &Store{
		logs: newLogTable(),
		seq:  newSeqGenerator(),
	}
}

func (s *Store) Append(ctx context.Context, userID string, records []model.LogRecord) ([]model.LogRecord, error) {
	if err := validateBatch(userID, records); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	stored := make([]model.LogRecord, len(records))
	for i, r := range records {
		r.ID = s.seq.next()
		r.UserID = userID
		stored[i] = r
	}
	s.logs.append(userID, stored)
	return stored, nil
}

func (s *Store) Query(ctx context.Context, userID string) ([]model.LogRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.logs.all(userID), nil
}

func (s *Store) DeleteAll(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.logs.deleteUser(userID), nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func validateBatch(userID string, records []model.LogRecord) error {
	if userID == "" {
		return ErrInvalidRecord
	}
	for _, r := range records {
		if r.Kind == "" || r.Timestamp.IsZero() {
			return ErrInvalidRecord
		}
	}
	return nil
}

func sortRecords(records []model.LogRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].ID < records[j].ID
		}
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}
