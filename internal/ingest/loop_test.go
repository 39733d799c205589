package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"proctor-stream/internal/detect"
	"proctor-stream/internal/frame"
	"proctor-stream/internal/frame/frametest"
	"proctor-stream/internal/hub"
	"proctor-stream/internal/logwriter"
	"proctor-stream/internal/model"
	"proctor-stream/internal/store"
)

type fakeTransport struct {
	in     chan hub.Payload
	out    chan []byte
	pings  atomic.Int32
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan hub.Payload, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) Read() (hub.Payload, error) {
	select {
	case p := <-t.in:
		return p, nil
	case <-t.closed:
		return hub.Payload{}, errors.New("closed")
	}
}

func (t *fakeTransport) Write(message []byte) error {
	select {
	case <-t.closed:
		return errors.New("closed")
	default:
	}
	select {
	case t.out <- append([]byte(nil), message...):
		return nil
	case <-t.closed:
		return errors.New("closed")
	}
}

func (t *fakeTransport) Ping() error {
	t.pings.Add(1)
	return nil
}

func (t *fakeTransport) Close(int, string) error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

type fakeSessions struct {
	mu    sync.Mutex
	state model.SessionState
}

func (s *fakeSessions) set(st model.SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *fakeSessions) State(string) (model.SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.state != ""
}

type countingDetector struct {
	calls  atomic.Int32
	detail string
}

func (d *countingDetector) Name() string { return "counting" }

func (d *countingDetector) Detect(context.Context, *frame.Frame) ([]model.Event, error) {
	d.calls.Add(1)
	if d.detail == "" {
		return nil, nil
	}
	return []model.Event{{Detail: d.detail}}, nil
}

type failingAppender struct{}

func (failingAppender) Append(context.Context, string, []model.LogRecord) ([]model.LogRecord, error) {
	return nil, errors.New("db down")
}

type harness struct {
	hub      *hub.Hub
	tr       *fakeTransport
	conn     *hub.Connection
	sessions *fakeSessions
	det      *countingDetector
	logs     *store.Store
	done     chan struct{}
}

type option func(*Deps, *Config)

func start(t *testing.T, detail string, opts ...option) *harness {
	t.Helper()
	h := &harness{
		hub:      hub.New(nil),
		tr:       newFakeTransport(),
		sessions: &fakeSessions{state: model.StateRunning},
		det:      &countingDetector{detail: detail},
		logs:     store.New(),
		done:     make(chan struct{}),
	}
	deps := Deps{
		Hub:      h.hub,
		Sessions: h.sessions,
		Detector: detect.NewOrchestrator(nil, h.det),
		Writer:   logwriter.New(h.logs, logwriter.Config{Backoff: time.Millisecond}, nil),
	}
	cfg := Config{KeepaliveInterval: time.Hour, IdleTimeout: time.Hour}
	for _, o := range opts {
		o(&deps, &cfg)
	}

	res := h.hub.Admit("42", h.tr)
	require.True(t, res.Admitted())
	h.conn = res.Conn

	loop := New(deps, cfg)
	go func() {
		defer close(h.done)
		loop.Run(context.Background(), h.conn)
	}()
	t.Cleanup(func() {
		h.hub.Shutdown()
		<-h.done
	})
	return h
}

func (h *harness) nextMessage(t *testing.T, typ string) map[string]any {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case raw := <-h.tr.out:
			var m map[string]any
			require.NoError(t, json.Unmarshal(raw, &m))
			if m["type"] == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("no %q message received", typ)
			return nil
		}
	}
}

func (h *harness) waitExit(t *testing.T) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit")
	}
}

func TestLoop_AcknowledgesStoredEvents(t *testing.T) {
	h := start(t, "Face not detected")
	h.tr.in <- hub.Payload{Kind: hub.PayloadBinary, Data: frametest.JPEG(32, 32, 128)}

	msg := h.nextMessage(t, "logs")
	assert.Equal(t, true, msg["stored"])
	data := msg["data"].([]any)
	require.Len(t, data, 1)
	entry := data[0].(map[string]any)
	assert.Equal(t, "Face not detected", entry["event"])
	assert.Equal(t, "face_not_detected", entry["type"])
	assert.NotEmpty(t, entry["time"])
	assert.NotZero(t, entry["id"])

	records, err := h.logs.Query(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(entry["id"].(float64)), records[0].ID)
}

func TestLoop_TextFrames(t *testing.T) {
	h := start(t, "Hand detected")
	h.tr.in <- hub.Payload{Kind: hub.PayloadText, Data: []byte(frametest.DataURL(frametest.JPEG(24, 24, 128)))}

	msg := h.nextMessage(t, "logs")
	data := msg["data"].([]any)
	assert.Equal(t, "hand_detected", data[0].(map[string]any)["type"])
}

func TestLoop_DecodeFailuresKeepConnectionOpen(t *testing.T) {
	h := start(t, "Face not detected")
	h.tr.in <- hub.Payload{Kind: hub.PayloadBinary, Data: make([]byte, 50)}
	h.tr.in <- hub.Payload{Kind: hub.PayloadBinary, Data: []byte(strings.Repeat("z", 400))}
	h.tr.in <- hub.Payload{Kind: hub.PayloadText, Data: []byte("data:image/png;base64,@@@@")}
	h.tr.in <- hub.Payload{Kind: hub.PayloadText, Data: []byte(base64.StdEncoding.EncodeToString(make([]byte, 30)))}

	// A valid frame after the junk proves the loop is still serving.
	h.tr.in <- hub.Payload{Kind: hub.PayloadBinary, Data: frametest.JPEG(32, 32, 128)}
	h.nextMessage(t, "logs")

	assert.Equal(t, int32(1), h.det.calls.Load())
	assert.True(t, h.hub.IsConnected("42"))
	records, _ := h.logs.Query(context.Background(), "42")
	assert.Len(t, records, 1)
}

func TestLoop_NoEventsNoAck(t *testing.T) {
	h := start(t, "")
	for i := 0; i < 5; i++ {
		h.tr.in <- hub.Payload{Kind: hub.PayloadBinary, Data: frametest.JPEG(32, 32, 128)}
	}
	require.Eventually(t, func() bool { return h.det.calls.Load() == 5 }, 5*time.Second, 5*time.Millisecond)

	records, _ := h.logs.Query(context.Background(), "42")
	assert.Empty(t, records)
	assert.Empty(t, h.tr.out)
	assert.True(t, h.hub.IsConnected("42"))
}

func TestLoop_PausedDropsFrames(t *testing.T) {
	h := start(t, "Face not detected")
	h.sessions.set(model.StatePaused)
	for i := 0; i < 3; i++ {
		h.tr.in <- hub.Payload{Kind: hub.PayloadBinary, Data: frametest.JPEG(32, 32, 128)}
	}
	// Frames are handled in order, so the pong proves all three were drained.
	h.tr.in <- hub.Payload{Kind: hub.PayloadText, Data: []byte(`{"type":"ping"}`)}
	h.nextMessage(t, "pong")
	assert.Zero(t, h.det.calls.Load())
	assert.True(t, h.hub.IsConnected("42"))

	h.sessions.set(model.StateRunning)
	h.tr.in <- hub.Payload{Kind: hub.PayloadBinary, Data: frametest.JPEG(32, 32, 128)}
	h.nextMessage(t, "logs")
	assert.Equal(t, int32(1), h.det.calls.Load())
}

func TestLoop_NotStartedSessionDropsFrames(t *testing.T) {
	h := start(t, "Face not detected")
	h.sessions.set(model.StateNotStarted)
	h.tr.in <- hub.Payload{Kind: hub.PayloadBinary, Data: frametest.JPEG(32, 32, 128)}
	h.tr.in <- hub.Payload{Kind: hub.PayloadText, Data: []byte(`{"type":"ping"}`)}
	h.nextMessage(t, "pong")

	assert.Zero(t, h.det.calls.Load())
	records, err := h.logs.Query(context.Background(), "42")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLoop_LostBatchIsNotAcknowledged(t *testing.T) {
	h := start(t, "Face not detected", func(d *Deps, _ *Config) {
		d.Writer = logwriter.New(failingAppender{}, logwriter.Config{Backoff: time.Millisecond}, nil)
	})
	h.tr.in <- hub.Payload{Kind: hub.PayloadBinary, Data: frametest.JPEG(32, 32, 128)}
	require.Eventually(t, func() bool { return h.det.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.tr.out)
	assert.True(t, h.hub.IsConnected("42"))
}

func TestLoop_ProbeFailuresTerminate(t *testing.T) {
	h := start(t, "", func(_ *Deps, c *Config) {
		c.IdleTimeout = 20 * time.Millisecond
	})
	h.nextMessage(t, "ping")
	h.waitExit(t)

	assert.False(t, h.hub.IsConnected("42"))
	assert.False(t, h.conn.Open())
	assert.GreaterOrEqual(t, h.tr.pings.Load(), int32(1))
}

func TestLoop_PongKeepsConnectionAlive(t *testing.T) {
	h := start(t, "", func(_ *Deps, c *Config) {
		c.IdleTimeout = 40 * time.Millisecond
	})
	for i := 0; i < 5; i++ {
		h.nextMessage(t, "ping")
		h.tr.in <- hub.Payload{Kind: hub.PayloadText, Data: []byte(`{"type":"pong"}`)}
	}
	assert.True(t, h.hub.IsConnected("42"))
}

func TestLoop_ClientPingGetsPong(t *testing.T) {
	h := start(t, "")
	h.tr.in <- hub.Payload{Kind: hub.PayloadText, Data: []byte(`{"type":"ping"}`)}
	h.nextMessage(t, "pong")
	assert.Zero(t, h.det.calls.Load())
}

func TestLoop_Keepalive(t *testing.T) {
	h := start(t, "", func(_ *Deps, c *Config) {
		c.KeepaliveInterval = 10 * time.Millisecond
	})
	h.nextMessage(t, "keepalive")
	require.Eventually(t, func() bool { return h.tr.pings.Load() > 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestLoop_ForceDisconnectEndsLoop(t *testing.T) {
	h := start(t, "")
	require.True(t, h.hub.ForceDisconnect("42"))
	h.waitExit(t)
}

func TestLoop_StoppedSessionEndsLoop(t *testing.T) {
	h := start(t, "Face not detected")
	h.sessions.set(model.StateStopped)
	h.tr.in <- hub.Payload{Kind: hub.PayloadBinary, Data: frametest.JPEG(32, 32, 128)}
	h.waitExit(t)
	assert.Zero(t, h.det.calls.Load())
}

func TestLoop_ReplacedConnectionReleaseKeepsNewOne(t *testing.T) {
	h := start(t, "")
	next := newFakeTransport()
	res := h.hub.Admit("42", next)
	require.True(t, res.Replaced)
	h.waitExit(t)
	assert.Same(t, res.Conn, h.hub.Connection("42"))
}
