package model

import (
	"strings"
	"time"
)

type SessionState string

const (
	StateNotStarted SessionState = "not_started"
	StateRunning    SessionState = "running"
	StatePaused     SessionState = "paused"
	StateStopped    SessionState = "stopped"
)

const (
	KindFaceDetected   = "face_detected"
	KindSessionStopped = "session_stopped"
)

// Event is one observation produced by a detector for one frame.
type Event struct {
	Timestamp time.Time
	Kind      string
	Detail    string
}

// NewEvent builds an Event whose kind is derived from the human readable detail.
func NewEvent(detail string, ts time.Time) Event {
	return Event{Timestamp: ts, Kind: KindFromDetail(detail), Detail: detail}
}

// KindFromDetail maps "Face not detected" to "face_not_detected".
func KindFromDetail(detail string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(detail)), " ", "_")
}

type LogRecord struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID        string
	UserID    string
	State     SessionState
	StartedAt *time.Time
	StoppedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
