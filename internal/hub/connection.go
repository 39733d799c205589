package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type PayloadKind int

const (
	PayloadBinary PayloadKind = iota
	PayloadText
	// PayloadPong marks liveness traffic (a transport pong) with no frame data.
	PayloadPong
)

type Payload struct {
	Kind PayloadKind
	Data []byte
}

// Close codes mirror RFC 6455.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
)

var (
	ErrNotConnected     = errors.New("connection not open")
	ErrConnectionClosed = errors.New("connection closed")
	ErrReceiveTimeout   = errors.New("receive timeout")
)

// Transport is the wire side of a connection. Read is only called from the
// connection's reader pump. Close must unblock a pending Read.
type Transport interface {
	Read() (Payload, error)
	Write(message []byte) error
	Ping() error
	Close(code int, reason string) error
}

var connIDCounter atomic.Uint64

type Connection struct {
	id        uint64
	userID    string
	transport Transport

	sendMu sync.Mutex

	readOnce sync.Once
	inbound  chan Payload
	readErr  error
	alive    chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(userID string, t Transport) *Connection {
	return &Connection{
		id:        connIDCounter.Add(1),
		userID:    userID,
		transport: t,
		inbound:   make(chan Payload),
		alive:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (c *Connection) ID() uint64     { return c.id }
func (c *Connection) UserID() string { return c.userID }

// Done is closed once the connection has been torn down.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) Open() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Write sends one message; writes are serialized per connection.
func (c *Connection) Write(message []byte) error {
	if !c.Open() {
		return ErrNotConnected
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.transport.Write(message)
}

func (c *Connection) Ping() error {
	if !c.Open() {
		return ErrNotConnected
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.transport.Ping()
}

// MarkAlive records liveness traffic that never surfaces as a payload, such
// as a transport level pong.
func (c *Connection) MarkAlive() {
	select {
	case c.alive <- struct{}{}:
	default:
	}
}

// Receive waits at most timeout for the next inbound payload. It returns
// ErrReceiveTimeout when nothing arrived, and the transport error once the
// peer is gone.
func (c *Connection) Receive(ctx context.Context, timeout time.Duration) (Payload, error) {
	c.readOnce.Do(func() { go c.readPump() })
	if !c.Open() {
		return Payload{}, ErrConnectionClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p, ok := <-c.inbound:
		if !ok {
			if c.readErr != nil {
				return Payload{}, c.readErr
			}
			return Payload{}, ErrConnectionClosed
		}
		return p, nil
	case <-c.alive:
		return Payload{Kind: PayloadPong}, nil
	case <-c.done:
		return Payload{}, ErrConnectionClosed
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	case <-timer.C:
		return Payload{}, ErrReceiveTimeout
	}
}

func (c *Connection) readPump() {
	for {
		p, err := c.transport.Read()
		if err != nil {
			c.readErr = err
			close(c.inbound)
			return
		}
		select {
		case c.inbound <- p:
		case <-c.done:
			return
		}
	}
}

// close tears the transport down once; reports whether this call closed it.
func (c *Connection) close(code int, reason string) bool {
	closed := false
	c.closeOnce.Do(func() {
		closed = true
		close(c.done)
		_ = c.transport.Close(code, reason)
	})
	return closed
}
