package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"proctor-stream/internal/model"
)

func testRecords(base time.Time, details ...string) []model.LogRecord {
	out := make([]model.LogRecord, 0, len(details))
	for i, d := range details {
		ev := model.NewEvent(d, base.Add(time.Duration(i)*time.Second))
		out = append(out, model.LogRecord{Kind: ev.Kind, Detail: ev.Detail, Timestamp: ev.Timestamp})
	}
	return out
}

// exerciseLogStore runs the shared LogStore contract against any backend.
func exerciseLogStore(t *testing.T, s LogStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	stored, err := s.Append(ctx, "u1", testRecords(base, "Face detected", "Phone detected"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored, got %d", len(stored))
	}
	if stored[0].ID == 0 || stored[1].ID <= stored[0].ID {
		t.Fatalf("expected increasing ids, got %d %d", stored[0].ID, stored[1].ID)
	}
	if stored[0].UserID != "u1" || stored[1].Kind != "phone_detected" {
		t.Fatalf("unexpected stored record: %+v", stored[1])
	}

	if _, err := s.Append(ctx, "u2", testRecords(base, "Hand detected")); err != nil {
		t.Fatalf("Append(u2): %v", err)
	}

	recs, err := s.Query(ctx, "u1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 2 || recs[0].Kind != "face_detected" {
		t.Fatalf("unexpected records: %+v", recs)
	}

	n, err := s.DeleteAll(ctx, "u1")
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	recs, _ = s.Query(ctx, "u1")
	if len(recs) != 0 {
		t.Fatalf("expected no records after delete, got %d", len(recs))
	}
	recs, _ = s.Query(ctx, "u2")
	if len(recs) != 1 {
		t.Fatalf("expected other user untouched, got %d", len(recs))
	}

	n, err = s.DeleteAll(ctx, "nobody")
	if err != nil || n != 0 {
		t.Fatalf("expected 0 deleted for unknown user, got %d %v", n, err)
	}
}

func TestStore_LogContract(t *testing.T) {
	exerciseLogStore(t, New())
}

func TestStore_RejectsInvalidBatch(t *testing.T) {
	s := New()
	_, err := s.Append(context.Background(), "", testRecords(time.Now(), "Face detected"))
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	_, err = s.Append(context.Background(), "u1", []model.LogRecord{{Detail: "x"}})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	recs, _ := s.Query(context.Background(), "u1")
	if len(recs) != 0 {
		t.Fatalf("expected nothing stored")
	}
}

func TestStore_Closed(t *testing.T) {
	s := New()
	_ = s.Close()
	if _, err := s.Append(context.Background(), "u1", testRecords(time.Now(), "Face detected")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestStore_QuerySortedByTime(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	late := testRecords(base.Add(time.Minute), "Phone detected")
	early := testRecords(base, "Face detected")
	if _, err := s.Append(ctx, "u1", late); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(ctx, "u1", early); err != nil {
		t.Fatalf("Append: %v", err)
	}
	recs, _ := s.Query(ctx, "u1")
	if len(recs) != 2 || recs[0].Kind != "face_detected" {
		t.Fatalf("expected time order, got %+v", recs)
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(Options{})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := s.(*Store); !ok {
		t.Fatalf("expected memory store, got %T", s)
	}

	b, err := Open(Options{Driver: "badger", BadgerDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open badger: %v", err)
	}
	exerciseLogStore(t, b)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := Open(Options{Driver: "mysql"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
