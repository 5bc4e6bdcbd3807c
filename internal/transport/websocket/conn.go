package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/officeverse/internal/registry"
)

var (
	// ErrConnClosed is returned by Send after the connection has closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrOutboxFull is returned by Send when the peer is not draining its frames.
	ErrOutboxFull = errors.New("outbox full")
)

const closeWriteDeadline = 2 * time.Second

// Conn is one websocket client. It satisfies registry.Peer: Send enqueues
// onto a bounded outbox drained by a single writer goroutine and never blocks.
type Conn struct {
	id         registry.ConnID
	remoteAddr string
	ws         *websocket.Conn
	outbox     chan []byte
	logger     *zap.Logger

	writeTimeout time.Duration
	pingInterval time.Duration

	done      chan struct{}
	closeOnce sync.Once
	writerEnd chan struct{}
}

func newConn(id registry.ConnID, remoteAddr string, ws *websocket.Conn, outboxSize int, writeTimeout, pingInterval time.Duration, logger *zap.Logger) *Conn {
	return &Conn{
		id:           id,
		remoteAddr:   remoteAddr,
		ws:           ws,
		outbox:       make(chan []byte, outboxSize),
		logger:       logger,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		done:         make(chan struct{}),
		writerEnd:    make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Conn) ID() registry.ConnID { return c.id }

// RemoteAddr returns the client's address as seen by the listener.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Send enqueues frame for delivery.
//
// Postcondition: Returns ErrConnClosed after Close, ErrOutboxFull when the
// outbox is at capacity, nil otherwise. Never blocks.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.outbox <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrOutboxFull
	}
}

// Close stops the writer, which sends a close frame and closes the socket.
// Frames still queued are dropped. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }

// writePump owns every write to the socket.
func (c *Conn) writePump() {
	defer close(c.writerEnd)
	defer c.ws.Close()

	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(closeWriteDeadline))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ping:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				c.Close()
				return
			}
		case frame := <-c.outbox:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}
		}
	}
}
