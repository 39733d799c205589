package hub

import (
	"sync"

	"go.uber.org/zap"
	"proctor-stream/internal/keylock"
	"proctor-stream/internal/metrics"
)

const (
	reasonReplaced = "Replaced by new connection"
	reasonStopped  = "Session stopped"
	reasonShutdown = "Server shutting down"
)

// AdmitResult is either an admitted connection or a rejection reason.
type AdmitResult struct {
	Conn     *Connection
	Replaced bool
	Reason   string
}

func (r AdmitResult) Admitted() bool { return r.Conn != nil }

// Hub owns the user -> connection mapping. At most one connection is
// registered per user; admission, release and forced disconnect for the same
// user are serialized under one striped lock.
type Hub struct {
	locks *keylock.Striped

	mu     sync.RWMutex
	conns  map[string]*Connection
	closed bool

	log *zap.Logger
}

func New(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		locks: keylock.New(keylock.DefaultStripes),
		conns: make(map[string]*Connection),
		log:   log,
	}
}

// Admit registers t as the user's only connection, closing any previous one.
// A rejected transport is left open for the caller to close.
func (h *Hub) Admit(userID string, t Transport) AdmitResult {
	if userID == "" || t == nil {
		metrics.ConnectionsAdmitted.WithLabelValues("rejected").Inc()
		return AdmitResult{Reason: "invalid admission"}
	}

	unlock := h.locks.Lock(userID)
	defer unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		metrics.ConnectionsAdmitted.WithLabelValues("rejected").Inc()
		return AdmitResult{Reason: "server shutting down"}
	}
	prev := h.conns[userID]
	delete(h.conns, userID)
	h.mu.Unlock()

	replaced := false
	if prev != nil {
		replaced = true
		if prev.close(CloseNormal, reasonReplaced) {
			metrics.ConnectionsClosed.WithLabelValues("replaced").Inc()
		}
		h.log.Info("previous connection replaced",
			zap.String("user_id", userID),
			zap.Uint64("conn_id", prev.ID()))
	}

	c := newConnection(userID, t)
	h.mu.Lock()
	// Shutdown may have run while the previous connection was closing.
	if h.closed {
		h.mu.Unlock()
		metrics.ConnectionsAdmitted.WithLabelValues("rejected").Inc()
		return AdmitResult{Replaced: replaced, Reason: "server shutting down"}
	}
	h.conns[userID] = c
	n := len(h.conns)
	h.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(n))
	if replaced {
		metrics.ConnectionsAdmitted.WithLabelValues("replaced").Inc()
	} else {
		metrics.ConnectionsAdmitted.WithLabelValues("admitted").Inc()
	}
	h.log.Info("connection admitted",
		zap.String("user_id", userID),
		zap.Uint64("conn_id", c.ID()),
		zap.Bool("replaced", replaced))
	return AdmitResult{Conn: c, Replaced: replaced}
}

// Release deregisters c if it is still the registered connection for its
// user and closes it. Safe to call more than once.
func (h *Hub) Release(c *Connection) {
	if c == nil {
		return
	}
	unlock := h.locks.Lock(c.userID)
	h.mu.Lock()
	if h.conns[c.userID] == c {
		delete(h.conns, c.userID)
	}
	n := len(h.conns)
	h.mu.Unlock()
	unlock()

	metrics.ConnectionsActive.Set(float64(n))
	if c.close(CloseNormal, "") {
		metrics.ConnectionsClosed.WithLabelValues("released").Inc()
		h.log.Info("connection released",
			zap.String("user_id", c.userID),
			zap.Uint64("conn_id", c.ID()))
	}
}

// ForceDisconnect closes and deregisters the user's connection regardless of
// what its ingestion loop is doing. Reports whether one existed.
func (h *Hub) ForceDisconnect(userID string) bool {
	unlock := h.locks.Lock(userID)
	defer unlock()

	h.mu.Lock()
	c := h.conns[userID]
	delete(h.conns, userID)
	n := len(h.conns)
	h.mu.Unlock()

	if c == nil {
		return false
	}
	metrics.ConnectionsActive.Set(float64(n))
	if c.close(CloseNormal, reasonStopped) {
		metrics.ConnectionsClosed.WithLabelValues("forced").Inc()
	}
	h.log.Info("connection force disconnected",
		zap.String("user_id", userID),
		zap.Uint64("conn_id", c.ID()))
	return true
}

func (h *Hub) IsConnected(userID string) bool {
	c := h.Connection(userID)
	return c != nil && c.Open()
}

// Connection returns the registered connection for userID, or nil.
func (h *Hub) Connection(userID string) *Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[userID]
}

// Send is best effort: it reports ErrNotConnected when the user has no open
// connection, and tears the connection down when the write fails.
func (h *Hub) Send(userID string, message []byte) error {
	c := h.Connection(userID)
	if c == nil {
		return ErrNotConnected
	}
	return h.SendTo(c, message)
}

// SendTo writes to a specific connection with the same failure handling as Send.
func (h *Hub) SendTo(c *Connection, message []byte) error {
	err := c.Write(message)
	if err == nil || err == ErrNotConnected {
		return err
	}
	h.log.Warn("send failed, dropping connection",
		zap.String("user_id", c.userID),
		zap.Uint64("conn_id", c.ID()),
		zap.Error(err))
	metrics.ConnectionsClosed.WithLabelValues("send_failed").Inc()
	h.Release(c)
	return err
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown closes every connection and rejects later admissions.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Connection)
	h.mu.Unlock()

	metrics.ConnectionsActive.Set(0)
	for _, c := range conns {
		if c.close(CloseGoingAway, reasonShutdown) {
			metrics.ConnectionsClosed.WithLabelValues("shutdown").Inc()
		}
	}
	h.log.Info("hub shut down", zap.Int("closed", len(conns)))
}
