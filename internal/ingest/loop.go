// Package ingest runs the per-connection receive, detect, persist and
// acknowledge loop.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"proctor-stream/internal/frame"
	"proctor-stream/internal/hub"
	"proctor-stream/internal/metrics"
	"proctor-stream/internal/model"
	"proctor-stream/internal/publish"
)

const (
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxProbeFailures  = 2
)

var (
	keepaliveMsg = []byte(`{"type":"keepalive"}`)
	pingMsg      = []byte(`{"type":"ping"}`)
	pongMsg      = []byte(`{"type":"pong"}`)
)

type Sessions interface {
	State(userID string) (model.SessionState, bool)
}

type Detector interface {
	Run(ctx context.Context, f *frame.Frame) []model.Event
}

type EventWriter interface {
	Store(ctx context.Context, userID string, events []model.Event) ([]model.LogRecord, error)
}

type Config struct {
	KeepaliveInterval time.Duration
	IdleTimeout       time.Duration
	MaxProbeFailures  int
}

type Deps struct {
	Hub       *hub.Hub
	Sessions  Sessions
	Decoder   *frame.Decoder
	Detector  Detector
	Writer    EventWriter
	Publisher publish.Publisher
	Logger    *zap.Logger
}

type Loop struct {
	hub       *hub.Hub
	sessions  Sessions
	decoder   *frame.Decoder
	detector  Detector
	writer    EventWriter
	publisher publish.Publisher
	cfg       Config
	log       *zap.Logger
}

func New(deps Deps, cfg Config) *Loop {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxProbeFailures <= 0 {
		cfg.MaxProbeFailures = DefaultMaxProbeFailures
	}
	if deps.Decoder == nil {
		deps.Decoder = frame.NewDecoder(0)
	}
	if deps.Publisher == nil {
		deps.Publisher = publish.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Loop{
		hub:       deps.Hub,
		sessions:  deps.Sessions,
		decoder:   deps.Decoder,
		detector:  deps.Detector,
		writer:    deps.Writer,
		publisher: deps.Publisher,
		cfg:       cfg,
		log:       deps.Logger,
	}
}

// LogEntry is one confirmed record in a logs acknowledgement.
type LogEntry struct {
	Event string `json:"event"`
	Time  string `json:"time"`
	Type  string `json:"type"`
	ID    int64  `json:"id"`
}

type logsMessage struct {
	Type   string     `json:"type"`
	Data   []LogEntry `json:"data"`
	Stored bool       `json:"stored"`
}

type controlMessage struct {
	Type string `json:"type"`
}

// probeState counts liveness probes that went unanswered.
type probeState struct {
	outstanding bool
	failures    int
}

// Run serves conn until the peer goes away, the connection is closed out of
// band, the session is stopped or ctx is done. conn is always released on
// return; the session itself is left as is.
func (l *Loop) Run(ctx context.Context, conn *hub.Connection) {
	defer l.hub.Release(conn)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.keepalive(ctx, conn)

	log := l.log.With(zap.String("user_id", conn.UserID()), zap.Uint64("conn_id", conn.ID()))
	var probe probeState
	for {
		p, err := conn.Receive(ctx, l.cfg.IdleTimeout)
		if errors.Is(err, hub.ErrReceiveTimeout) {
			if !l.probe(conn, &probe, log) {
				return
			}
			continue
		}
		if err != nil {
			log.Debug("stream receive ended", zap.Error(err))
			return
		}

		probe = probeState{}
		switch {
		case p.Kind == hub.PayloadPong:
			continue
		case p.Kind == hub.PayloadText && l.handleControl(conn, p.Data):
			continue
		}
		if !l.handleFrame(ctx, conn, p, log) {
			return
		}
	}
}

func (l *Loop) keepalive(ctx context.Context, conn *hub.Connection) {
	ticker := time.NewTicker(l.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-ticker.C:
			if err := l.hub.SendTo(conn, keepaliveMsg); err != nil {
				return
			}
			if err := conn.Ping(); err != nil {
				l.hub.Release(conn)
				return
			}
		}
	}
}

// probe runs after an idle timeout. It reports false once the connection
// should be terminated.
func (l *Loop) probe(conn *hub.Connection, st *probeState, log *zap.Logger) bool {
	if st.outstanding {
		st.failures++
		metrics.LivenessProbes.WithLabelValues("failed").Inc()
		if st.failures >= l.cfg.MaxProbeFailures {
			metrics.LivenessProbes.WithLabelValues("terminated").Inc()
			log.Info("stream unresponsive, terminating", zap.Int("failed_probes", st.failures))
			return false
		}
	}
	if err := l.hub.SendTo(conn, pingMsg); err != nil {
		log.Info("liveness probe send failed", zap.Error(err))
		return false
	}
	_ = conn.Ping()
	st.outstanding = true
	metrics.LivenessProbes.WithLabelValues("sent").Inc()
	return true
}

// handleControl consumes JSON liveness messages sent as text frames.
func (l *Loop) handleControl(conn *hub.Connection, data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var msg controlMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return false
	}
	switch msg.Type {
	case "pong", "keepalive":
		return true
	case "ping":
		_ = l.hub.SendTo(conn, pongMsg)
		return true
	}
	return false
}

// handleFrame reports false when the loop must exit.
func (l *Loop) handleFrame(ctx context.Context, conn *hub.Connection, p hub.Payload, log *zap.Logger) bool {
	userID := conn.UserID()

	state, ok := l.sessions.State(userID)
	if !ok || state == model.StateStopped {
		log.Info("session no longer active, closing stream")
		return false
	}
	if state == model.StatePaused {
		metrics.FramesReceived.WithLabelValues("paused").Inc()
		return true
	}
	if state != model.StateRunning {
		metrics.FramesReceived.WithLabelValues("inactive").Inc()
		return true
	}

	var (
		f       *frame.Frame
		decoded bool
	)
	if p.Kind == hub.PayloadText {
		f, decoded = l.decoder.DecodeText(string(p.Data))
	} else {
		f, decoded = l.decoder.DecodeBinary(p.Data)
	}
	if !decoded {
		metrics.FramesReceived.WithLabelValues("rejected").Inc()
		log.Debug("frame rejected", zap.Int("bytes", len(p.Data)))
		return true
	}
	metrics.FramesReceived.WithLabelValues("processed").Inc()

	events := l.detector.Run(ctx, f)
	if len(events) == 0 {
		return true
	}

	stored, err := l.writer.Store(ctx, userID, events)
	if err != nil {
		log.Warn("events not persisted", zap.Int("events", len(events)), zap.Error(err))
		return true
	}
	if len(stored) == 0 || !conn.Open() {
		return true
	}

	if err := l.hub.SendTo(conn, ackMessage(stored)); err != nil {
		log.Info("acknowledgement not delivered", zap.Error(err))
	}
	if err := l.publisher.Publish(ctx, userID, stored); err != nil {
		log.Warn("publish failed", zap.Error(err))
	}
	return true
}

func ackMessage(records []model.LogRecord) []byte {
	msg := logsMessage{Type: "logs", Data: make([]LogEntry, len(records)), Stored: true}
	for i, r := range records {
		msg.Data[i] = LogEntry{
			Event: r.Detail,
			Time:  r.Timestamp.UTC().Format(time.RFC3339Nano),
			Type:  r.Kind,
			ID:    r.ID,
		}
	}
	data, _ := json.Marshal(msg)
	return data
}
