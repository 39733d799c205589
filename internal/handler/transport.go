package handler

import (
	"time"

	"github.com/gorilla/websocket"
	"proctor-stream/internal/hub"
)

const writeWait = 10 * time.Second

// wsTransport adapts a gorilla connection to hub.Transport.
type wsTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn, writeWait: writeWait}
}

func (t *wsTransport) Read() (hub.Payload, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return hub.Payload{}, err
		}
		switch mt {
		case websocket.BinaryMessage:
			return hub.Payload{Kind: hub.PayloadBinary, Data: data}, nil
		case websocket.TextMessage:
			return hub.Payload{Kind: hub.PayloadText, Data: data}, nil
		}
	}
}

func (t *wsTransport) Write(message []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, message)
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeWait))
}

// Close sends a close frame bounded by the write deadline, then drops the
// socket whether or not the peer got it.
func (t *wsTransport) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = newWSTransport(conn).Close(code, reason)
}
