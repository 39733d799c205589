// Package logwriter turns detector events into stored log records with a
// bounded number of append attempts.
package logwriter

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"proctor-stream/internal/metrics"
	"proctor-stream/internal/model"
	"proctor-stream/internal/store"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 500 * time.Millisecond
)

// ErrBatchLost is returned once every attempt to append a batch has failed.
var ErrBatchLost = errors.New("log batch lost")

type Appender interface {
	Append(ctx context.Context, userID string, records []model.LogRecord) ([]model.LogRecord, error)
}

type Config struct {
	Attempts int
	Backoff  time.Duration
}

type Writer struct {
	store Appender
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

func New(s Appender, cfg Config, log *zap.Logger) *Writer {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{store: s, cfg: cfg, log: log, now: time.Now}
}

// Store appends one record per event as a single batch. On success it returns
// the records with their store assigned ids. When the batch cannot be stored
// it returns an empty slice and an error wrapping ErrBatchLost; the caller is
// expected to log and carry on.
func (w *Writer) Store(ctx context.Context, userID string, events []model.Event) ([]model.LogRecord, error) {
	if len(events) == 0 {
		return nil, nil
	}

	ingested := w.now()
	batch := make([]model.LogRecord, 0, len(events))
	for _, ev := range events {
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = ingested
		}
		kind := ev.Kind
		if kind == "" {
			kind = model.KindFromDetail(ev.Detail)
		}
		// An event with nothing to name it would fail the whole batch.
		if kind == "" {
			w.log.Warn("dropping empty event", zap.String("user_id", userID))
			continue
		}
		batch = append(batch, model.LogRecord{UserID: userID, Kind: kind, Detail: ev.Detail, Timestamp: ts})
	}
	if len(batch) == 0 {
		return nil, nil
	}

	var stored []model.LogRecord
	attempt := 0
	op := func() error {
		attempt++
		metrics.LogWriteAttempts.Inc()

		// Every attempt starts from a clean batch; ids from a failed attempt
		// must not leak into the next one.
		records := make([]model.LogRecord, len(batch))
		copy(records, batch)

		out, err := w.store.Append(ctx, userID, records)
		if err != nil {
			if errors.Is(err, store.ErrInvalidRecord) || errors.Is(err, store.ErrClosed) {
				return backoff.Permanent(err)
			}
			w.log.Warn("log append failed",
				zap.String("user_id", userID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		stored = out
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.cfg.Backoff), uint64(w.cfg.Attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		metrics.LogBatches.WithLabelValues("lost").Inc()
		w.log.Error("log batch lost",
			zap.String("user_id", userID),
			zap.Int("events", len(batch)),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return nil, errors.Join(ErrBatchLost, err)
	}

	metrics.LogBatches.WithLabelValues("stored").Inc()
	return stored, nil
}
