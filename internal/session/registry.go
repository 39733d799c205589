// Package session tracks one proctoring session per user and drives its
// state machine: not_started -> running <-> paused -> stopped.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"proctor-stream/internal/hub"
	"proctor-stream/internal/keylock"
	"proctor-stream/internal/metrics"
	"proctor-stream/internal/model"
)

var (
	ErrNoActiveSession   = errors.New("no active session")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrSessionStopped    = errors.New("session already stopped")
	ErrNoEvents          = errors.New("no events recorded")
	ErrForbidden         = errors.New("not the session owner")
	ErrNotAdmitted       = errors.New("stream not admitted")
)

type StartStatus string

const (
	StatusReady          StartStatus = "ready"
	StatusAlreadyRunning StartStatus = "already_running"
	StatusResumable      StartStatus = "resumable"
)

const stopMarkerDetail = "Session stopped"

// Connections is the slice of the connection manager the registry drives.
type Connections interface {
	Admit(userID string, t hub.Transport) hub.AdmitResult
	IsConnected(userID string) bool
	ForceDisconnect(userID string) bool
}

type EventWriter interface {
	Store(ctx context.Context, userID string, events []model.Event) ([]model.LogRecord, error)
}

type LogReader interface {
	Query(ctx context.Context, userID string) ([]model.LogRecord, error)
	DeleteAll(ctx context.Context, userID string) (int, error)
}

type StartResult struct {
	Status    StartStatus
	Session   model.Session
	Connected bool
}

type StopResult struct {
	Session      model.Session
	Disconnected bool
	MarkerStored bool
}

// Registry owns the per-user session records. Mutations for one user are
// serialized on a striped lock; the connection manager is only called while
// that lock is held, never the other way round.
type Registry struct {
	locks *keylock.Striped

	mu       sync.RWMutex
	sessions map[string]*model.Session

	conns  Connections
	writer EventWriter
	logs   LogReader
	log    *zap.Logger
	now    func() time.Time
}

func NewRegistry(conns Connections, writer EventWriter, logs LogReader, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		locks:    keylock.New(keylock.DefaultStripes),
		sessions: make(map[string]*model.Session),
		conns:    conns,
		writer:   writer,
		logs:     logs,
		log:      log,
		now:      time.Now,
	}
}

func (r *Registry) lookup(userID string) *model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

func (r *Registry) put(s *model.Session) {
	r.mu.Lock()
	r.sessions[s.UserID] = s
	r.mu.Unlock()
}

// Get returns a copy of the user's session.
func (r *Registry) Get(userID string) (model.Session, bool) {
	unlock := r.locks.Lock(userID)
	defer unlock()
	s := r.lookup(userID)
	if s == nil {
		return model.Session{}, false
	}
	return *s, true
}

// State is the hot path used by the ingestion loop for every frame.
func (r *Registry) State(userID string) (model.SessionState, bool) {
	unlock := r.locks.Lock(userID)
	defer unlock()
	s := r.lookup(userID)
	if s == nil {
		return "", false
	}
	return s.State, true
}

func (r *Registry) IsConnected(userID string) bool {
	return r.conns.IsConnected(userID)
}

func (r *Registry) newSession(userID string) *model.Session {
	now := r.now()
	return &model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     model.StateNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Registry) transition(s *model.Session, to model.SessionState) {
	now := r.now()
	s.State = to
	s.UpdatedAt = now
	switch to {
	case model.StateRunning:
		if s.StartedAt == nil {
			s.StartedAt = &now
		}
	case model.StateStopped:
		s.StoppedAt = &now
	}
	metrics.SessionTransitions.WithLabelValues(string(to)).Inc()
	r.log.Info("session transition",
		zap.String("user_id", s.UserID),
		zap.String("session_id", s.ID),
		zap.String("state", string(to)))
}

// Start prepares a session for streaming. It never creates a second session
// for a user with a live connection.
func (r *Registry) Start(userID string) (StartResult, error) {
	unlock := r.locks.Lock(userID)
	defer unlock()

	s := r.lookup(userID)
	if s == nil || s.State == model.StateStopped {
		s = r.newSession(userID)
		r.put(s)
		metrics.SessionTransitions.WithLabelValues(string(model.StateNotStarted)).Inc()
		r.log.Info("session created", zap.String("user_id", userID), zap.String("session_id", s.ID))
		return StartResult{Status: StatusReady, Session: *s}, nil
	}

	if r.conns.IsConnected(userID) {
		return StartResult{Status: StatusAlreadyRunning, Session: *s, Connected: true}, nil
	}
	if s.State == model.StateNotStarted {
		return StartResult{Status: StatusReady, Session: *s}, nil
	}
	return StartResult{Status: StatusResumable, Session: *s}, nil
}

// Attach moves the user's session to running without admitting a stream.
// sessionHint is the session id carried by a stream token, or empty.
func (r *Registry) Attach(userID, sessionHint string) (model.Session, error) {
	unlock := r.locks.Lock(userID)
	defer unlock()

	s, _, err := r.attachLocked(userID, sessionHint)
	return *s, err
}

// Connect attaches the session and admits t as the user's stream inside the
// same critical section that Stop uses, so a stop either disconnects the new
// stream or is seen by it. A rejected admission leaves the session as it was
// and the transport is left to the caller.
func (r *Registry) Connect(userID, sessionHint string, t hub.Transport) (model.Session, *hub.Connection, error) {
	unlock := r.locks.Lock(userID)
	defer unlock()

	s, undo, err := r.attachLocked(userID, sessionHint)
	if err != nil {
		return *s, nil, err
	}
	res := r.conns.Admit(userID, t)
	if !res.Admitted() {
		undo()
		r.log.Info("stream admission rejected",
			zap.String("user_id", userID),
			zap.String("session_id", s.ID),
			zap.String("reason", res.Reason))
		return model.Session{}, nil, fmt.Errorf("%w: %s", ErrNotAdmitted, res.Reason)
	}
	return *s, res.Conn, nil
}

// attachLocked must run under the user's stripe. undo restores the record
// that was there before.
func (r *Registry) attachLocked(userID, sessionHint string) (*model.Session, func(), error) {
	prev := r.lookup(userID)
	switch {
	case prev != nil && prev.State == model.StateStopped && sessionHint != "" && sessionHint == prev.ID:
		return prev, nil, ErrSessionStopped
	case prev == nil || prev.State == model.StateStopped:
		s := r.newSession(userID)
		r.put(s)
		r.transition(s, model.StateRunning)
		return s, func() {
			r.mu.Lock()
			if prev == nil {
				delete(r.sessions, userID)
			} else {
				r.sessions[userID] = prev
			}
			r.mu.Unlock()
		}, nil
	case prev.State == model.StateNotStarted:
		before := *prev
		r.transition(prev, model.StateRunning)
		return prev, func() { *prev = before }, nil
	}
	return prev, func() {}, nil
}

func (r *Registry) Pause(userID string) (model.Session, error) {
	return r.move(userID, model.StateRunning, model.StatePaused)
}

func (r *Registry) Resume(userID string) (model.Session, error) {
	return r.move(userID, model.StatePaused, model.StateRunning)
}

func (r *Registry) move(userID string, from, to model.SessionState) (model.Session, error) {
	unlock := r.locks.Lock(userID)
	defer unlock()

	s := r.lookup(userID)
	if s == nil || s.State == model.StateNotStarted || s.State == model.StateStopped {
		return model.Session{}, ErrNoActiveSession
	}
	if s.State != from {
		return *s, ErrInvalidTransition
	}
	r.transition(s, to)
	return *s, nil
}

// Stop disconnects the user's stream, marks the session stopped and appends
// the terminal marker event. A marker that could not be stored is reported
// in the result, not as an error.
func (r *Registry) Stop(ctx context.Context, userID string) (StopResult, error) {
	unlock := r.locks.Lock(userID)
	s := r.lookup(userID)
	if s == nil || s.State == model.StateStopped {
		unlock()
		return StopResult{}, ErrNoActiveSession
	}
	disconnected := r.conns.ForceDisconnect(userID)
	r.transition(s, model.StateStopped)
	snapshot := *s
	unlock()

	res := StopResult{Session: snapshot, Disconnected: disconnected}
	marker := model.Event{Timestamp: r.now(), Kind: model.KindSessionStopped, Detail: stopMarkerDetail}
	stored, err := r.writer.Store(ctx, userID, []model.Event{marker})
	if err != nil {
		r.log.Error("stop marker not stored",
			zap.String("user_id", userID),
			zap.String("session_id", snapshot.ID),
			zap.Error(err))
	}
	res.MarkerStored = err == nil && len(stored) > 0
	return res, nil
}

// Clear deletes every stored event for userID. Only the owner may clear; an
// offline session record is dropped with the logs.
func (r *Registry) Clear(ctx context.Context, requester, userID string) (int, error) {
	if requester == "" || requester != userID {
		return 0, ErrForbidden
	}
	n, err := r.logs.DeleteAll(ctx, userID)
	if err != nil {
		return 0, err
	}

	unlock := r.locks.Lock(userID)
	if !r.conns.IsConnected(userID) {
		r.mu.Lock()
		delete(r.sessions, userID)
		r.mu.Unlock()
	}
	unlock()

	r.log.Info("logs cleared", zap.String("user_id", userID), zap.Int("deleted", n))
	return n, nil
}
