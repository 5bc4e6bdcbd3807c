// Package websocket upgrades HTTP requests to websocket connections and feeds
// each connection's frames, one at a time, to a channel.Handler.
package websocket

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/officeverse/internal/channel"
	"github.com/cory-johannsen/officeverse/internal/config"
	"github.com/cory-johannsen/officeverse/internal/registry"
)

// Server accepts websocket connections for any number of channels and tracks
// them so Shutdown can close every live connection.
type Server struct {
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a websocket Server.
//
// Precondition: cfg must have passed config validation; logger must be non-nil.
// Postcondition: Returns a Server with no live connections.
func NewServer(cfg config.WebSocketConfig, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger.Named("websocket"),
		conns:  make(map[*Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// Handler returns an http.Handler that upgrades requests and serves them with h.
// name labels the channel in logs.
//
// Precondition: h must be non-nil.
func (s *Server) Handler(name string, h channel.Handler) http.Handler {
	logger := s.logger.With(zap.String("channel", name))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, h, logger)
	})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, h channel.Handler, logger *zap.Logger) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Debug("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	id := registry.ConnID(uuid.NewString())
	connLogger := logger.With(zap.String("conn_id", string(id)), zap.String("remote_addr", r.RemoteAddr))
	conn := newConn(id, r.RemoteAddr, ws, s.cfg.OutboxSize, s.cfg.WriteTimeout, s.cfg.PingInterval, connLogger)

	if !s.track(conn) {
		conn.Close()
		go conn.writePump()
		<-conn.writerEnd
		return
	}
	defer s.untrack(conn)

	start := time.Now()
	connLogger.Info("client connected")

	go conn.writePump()
	h.Connect(conn)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-conn.Done()
		cancel()
	}()

	s.readLoop(ctx, conn, h, connLogger)

	conn.Close()
	h.Disconnect(conn)
	<-conn.writerEnd
	connLogger.Info("client disconnected", zap.Duration("duration", time.Since(start)))
}

// readLoop delivers frames to h until the socket fails or closes.
func (s *Server) readLoop(ctx context.Context, conn *Conn, h channel.Handler, logger *zap.Logger) {
	ws := conn.ws
	ws.SetReadLimit(s.cfg.MaxMessageSize)
	if s.cfg.PingInterval > 0 {
		pongWait := s.cfg.PingInterval + s.cfg.WriteTimeout
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		kind, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		outcome := dispatch(ctx, conn, h, frame, logger)
		if outcome != channel.OutcomeHandled {
			logger.Debug("frame not handled", zap.Stringer("outcome", outcome))
		}
	}
}

// dispatch isolates a panicking handler so one bad frame cannot take down the
// connection's reader.
func dispatch(ctx context.Context, conn *Conn, h channel.Handler, frame []byte, logger *zap.Logger) (outcome channel.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic", zap.Any("panic", r), zap.Stack("stack"))
			outcome = channel.OutcomeFailed
		}
	}()
	return h.HandleMessage(ctx, conn, frame)
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// Len returns the number of live connections.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown refuses new connections, closes every live one and waits for their
// handlers to run Disconnect.
//
// Postcondition: No connection goroutines remain when Shutdown returns.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	live := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		live = append(live, c)
	}
	s.mu.Unlock()

	for _, c := range live {
		c.Close()
	}
	s.wg.Wait()
	s.logger.Info("websocket server stopped", zap.Int("closed", len(live)))
}
