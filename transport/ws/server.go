// Package ws implements the ConnectionServer: the WebSocket I/O half of
// the coordinator. Each connection gets a read loop and a dedicated writer
// goroutine with a bounded outbound queue, so the coordinator can fan out
// broadcasts without letting one slow participant stall the others.
package ws

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sigcoord/coordinator/coordinator"
	"github.com/sigcoord/coordinator/internal/coordinatorlog"
	"github.com/sigcoord/coordinator/protocol"
)

// Config tunes the connection server; callers fill it from
// config.ServerConfig, and NewConnectionServer replaces zero heartbeat and
// queue fields with defaults (30s, 90s, 64).
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxOutboundQueue  int
	TLSCertFile       string
	TLSKeyFile        string
}

// conn wraps one upgraded WebSocket connection with its bounded send queue
// and the session/participant identity AUTH assigned to it. done is closed
// exactly once at teardown; send is never closed, so enqueue can race
// removeConn safely: a send either lands in the queue or loses the select
// to done.
type conn struct {
	ws         *websocket.Conn
	send       chan []byte
	done       chan struct{}
	remoteAddr string

	mu            sync.Mutex
	sessionID     string
	participantID string
	role          protocol.Role
	authenticated bool

	lastPong time.Time
	closed   bool
}

// ConnectionServer is the WebSocket transport half of the coordinator,
// translating wire frames into coordinator.Manager calls and
// coordinator.Event values into wire broadcasts.
type ConnectionServer struct {
	mgr      *coordinator.Manager
	log      coordinatorlog.Logger
	upgrader websocket.Upgrader
	cfg      Config

	mu    sync.RWMutex
	conns map[*websocket.Conn]*conn
	// bySession indexes live, authenticated connections for event fan-out.
	bySession map[string]map[string]*conn // sessionID -> participantID -> conn

	stop     chan struct{}
	stopOnce sync.Once
}

// NewConnectionServer constructs a ConnectionServer and starts its event
// fan-out goroutine, which drains mgr.Events() for the lifetime of the
// server.
func NewConnectionServer(mgr *coordinator.Manager, log coordinatorlog.Logger, cfg Config) *ConnectionServer {
	if log == nil {
		log = coordinatorlog.NewDefaultLogger()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 90 * time.Second
	}
	if cfg.MaxOutboundQueue <= 0 {
		cfg.MaxOutboundQueue = 64
	}
	s := &ConnectionServer{
		mgr: mgr,
		log: log,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns:     make(map[*websocket.Conn]*conn),
		bySession: make(map[string]map[string]*conn),
		stop:      make(chan struct{}),
	}
	go s.fanOutEvents()
	return s
}

// Handler returns an http.Handler for WebSocket upgrades.
func (s *ConnectionServer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
			return
		}
		wsConn.SetReadLimit(protocol.MaxFrameSize)

		c := &conn{
			ws:         wsConn,
			send:       make(chan []byte, s.cfg.MaxOutboundQueue),
			done:       make(chan struct{}),
			remoteAddr: r.RemoteAddr,
			lastPong:   time.Now(),
		}
		s.addConn(wsConn, c)

		go s.writeLoop(c)
		s.readLoop(c)
		s.removeConn(c)
	})
}

// ListenAndServe starts the HTTP listener on addr, serving wss:// when a
// cert/key pair is configured and plain ws:// otherwise.
func (s *ConnectionServer) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		return http.ListenAndServeTLS(addr, s.cfg.TLSCertFile, s.cfg.TLSKeyFile, mux)
	}
	return http.ListenAndServe(addr, mux)
}

// Close stops the event fan-out goroutine and closes every tracked
// connection.
func (s *ConnectionServer) Close() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for ws := range s.conns {
		conns = append(conns, ws)
	}
	s.mu.Unlock()

	for _, ws := range conns {
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = ws.Close()
	}
}

func (s *ConnectionServer) addConn(ws *websocket.Conn, c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[ws] = c
}

func (s *ConnectionServer) removeConn(c *conn) {
	s.mu.Lock()
	c.mu.Lock()
	sessionID, participantID, authenticated := c.sessionID, c.participantID, c.authenticated
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	delete(s.conns, c.ws)
	if authenticated {
		if byParticipant, ok := s.bySession[sessionID]; ok {
			delete(byParticipant, participantID)
			if len(byParticipant) == 0 {
				delete(s.bySession, sessionID)
			}
		}
	}
	s.mu.Unlock()

	if alreadyClosed {
		return
	}
	close(c.done)
	_ = c.ws.Close()
	if authenticated {
		s.mgr.Disconnect(sessionID, participantID)
	}
}

func (s *ConnectionServer) registerAuthenticated(c *conn, sessionID, participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.mu.Lock()
	c.sessionID = sessionID
	c.participantID = participantID
	c.authenticated = true
	c.mu.Unlock()

	byParticipant, ok := s.bySession[sessionID]
	if !ok {
		byParticipant = make(map[string]*conn)
		s.bySession[sessionID] = byParticipant
	}
	byParticipant[participantID] = c
}

// enqueue pushes frame onto c's outbound queue. Non-critical broadcasts
// (anything but TRANSACTION_RECEIVED/TRANSACTION_EXECUTED) drop the oldest
// queued frame under back-pressure rather than block; those two types are
// kept until delivered or the connection is terminated: they block for up
// to HeartbeatTimeout, and if the queue still has no room the connection
// is closed instead of the frame being dropped.
func (s *ConnectionServer) enqueue(c *conn, frame []byte, critical bool) {
	if critical {
		select {
		case c.send <- frame:
		case <-c.done:
		case <-time.After(s.cfg.HeartbeatTimeout):
			c.mu.Lock()
			sessionID := c.sessionID
			c.mu.Unlock()
			s.log.Warn("critical frame not delivered before timeout, closing connection", coordinatorlog.String("session_id", sessionID))
			_ = c.ws.Close()
		}
		return
	}

	select {
	case c.send <- frame:
		return
	case <-c.done:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- frame:
	default:
	}
}
