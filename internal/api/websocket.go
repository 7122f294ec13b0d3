package api

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tileworld/internal/config"
	"tileworld/internal/game"
	"tileworld/internal/game/spatial"
	"tileworld/internal/protocol"
)

const (
	// MaxWSConnectionsPerIP is the maximum websocket sessions per IP
	MaxWSConnectionsPerIP = 10

	helloTimeout = 10 * time.Second
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10

	// An outbox refusing this many sends in a row belongs to a client that
	// stopped reading; its connection is closed.
	slowConsumerLimit = 64
)

// HubStats is a point-in-time view of the hub.
type HubStats struct {
	Sessions      int    `json:"sessions"`
	Accepted      uint64 `json:"accepted"`
	Rejected      uint64 `json:"rejected"`
	RateLimited   uint64 `json:"rateLimited"`
	DecodeErrors  uint64 `json:"decodeErrors"`
	SlowConsumers uint64 `json:"slowConsumers"`
}

// GameHub accepts game sessions over websocket. Each session gets one reader
// goroutine that pushes decoded messages into the simulation's bridge and
// one writer goroutine that flushes the session's outbox.
type GameHub struct {
	bridge   *game.Bridge
	limits   config.ResourceLimits
	metrics  game.Metrics
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*wsSession

	conns *connLimiter

	// TrustProxy reads client addresses from forwarding headers
	TrustProxy bool

	accepted      atomic.Uint64
	rejected      atomic.Uint64
	rateLimited   atomic.Uint64
	decodeErrors  atomic.Uint64
	slowConsumers atomic.Uint64
}

// NewGameHub creates a hub feeding bridge.
func NewGameHub(bridge *game.Bridge, limits config.ResourceLimits, origins *OriginChecker, metrics game.Metrics) *GameHub {
	if origins == nil {
		origins = NewOriginChecker(nil)
	}
	if metrics == nil {
		metrics = PrometheusMetrics{}
	}
	h := &GameHub{
		bridge:   bridge,
		limits:   limits,
		metrics:  metrics,
		sessions: make(map[string]*wsSession),
		conns:    newConnLimiter(MaxWSConnectionsPerIP),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 16384,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origins.Allowed(origin) {
				return true
			}
			log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// ServeHTTP upgrades the request and runs the session until it ends.
func (h *GameHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := ClientIP(r, h.TrustProxy)

	if h.SessionCount() >= h.limits.MaxTotalPlayers {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", h.limits.MaxTotalPlayers)
		RecordConnectionRejected("ws_total_limit")
		h.rejected.Add(1)
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.conns.Acquire(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		h.rejected.Add(1)
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}
	defer h.conns.Release(ip)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	if h.limits.MaxFrameBytes > 0 {
		conn.SetReadLimit(int64(h.limits.MaxFrameBytes))
	}

	hello, ok := h.handshake(conn)
	if !ok {
		h.rejected.Add(1)
		RecordConnectionRejected("handshake")
		conn.Close()
		return
	}

	s := newSession(uuid.NewString(), ip, conn, h.limits.MaxOutboundQueue)
	h.register(s)
	defer h.unregister(s)

	go s.writeLoop(&h.slowConsumers)

	if !h.bridge.Enqueue(game.Inbound{
		Kind:    game.InboundConnect,
		Session: s.id,
		Name:    hello.Name,
		Outbox:  s,
	}) {
		s.rejectAndClose(protocol.ErrCodeShuttingDown, "server is shutting down")
		return
	}
	h.accepted.Add(1)

	h.readLoop(s)

	h.bridge.Enqueue(game.Inbound{Kind: game.InboundDisconnect, Session: s.id})
	s.Close()
}

// handshake reads the Hello frame. On failure a Reject has already been
// written.
func (h *GameHub) handshake(conn *websocket.Conn) (*protocol.Hello, bool) {
	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	msg, err := protocol.Decode(frame)
	if err != nil {
		writeReject(conn, protocol.ErrCodeBadHello, err.Error())
		return nil, false
	}
	hello, ok := msg.(*protocol.Hello)
	if !ok {
		writeReject(conn, protocol.ErrCodeBadHello, "expected Hello, got "+msg.Type().String())
		return nil, false
	}
	if hello.Version != protocol.ProtocolVersion {
		log.Printf("⚠️ Rejecting %q: protocol version %d, server speaks %d", hello.Name, hello.Version, protocol.ProtocolVersion)
		writeReject(conn, protocol.ErrCodeProtoVersion, "unsupported protocol version")
		return nil, false
	}
	if hello.Name == "" {
		hello.Name = "player"
	}
	return hello, true
}

func (h *GameHub) readLoop(s *wsSession) {
	limiter := newSessionLimiter(h.limits.MaxMessagesPerSec, h.limits.MaxMessageBurst)

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("📱 Session %s read error: %v", s.id, err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		wsMessagesIn.Inc()

		if mt != websocket.BinaryMessage {
			h.drop(s, "text_frame", errors.New("text frames are not supported"))
			continue
		}
		if !limiter.Allow() {
			h.rateLimited.Add(1)
			h.metrics.ProtocolViolation("rate_limit")
			continue
		}
		msg, err := protocol.Decode(frame)
		if err != nil {
			h.decodeErrors.Add(1)
			h.drop(s, "decode", err)
			continue
		}
		if !h.bridge.Enqueue(game.Inbound{Kind: game.InboundMessage, Session: s.id, Msg: msg}) {
			return
		}
	}
}

func (h *GameHub) drop(s *wsSession, kind string, err error) {
	h.metrics.ProtocolViolation(kind)
	log.Printf("⚠️ Dropped frame from %s: %v", s.id, err)
}

func (h *GameHub) register(s *wsSession) {
	h.mu.Lock()
	h.sessions[s.id] = s
	count := len(h.sessions)
	h.mu.Unlock()

	log.Printf("📱 Session %s connected from %s (%d total)", s.id, s.ip, count)
	UpdateWSSessions(count)
}

func (h *GameHub) unregister(s *wsSession) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	count := len(h.sessions)
	h.mu.Unlock()

	log.Printf("📱 Session %s disconnected (%d remaining)", s.id, count)
	UpdateWSSessions(count)
}

// SessionCount returns the number of open sessions.
func (h *GameHub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// CloseAll closes every session; used on shutdown.
func (h *GameHub) CloseAll() {
	h.mu.RLock()
	sessions := make([]*wsSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Stats returns hub counters.
func (h *GameHub) Stats() HubStats {
	return HubStats{
		Sessions:      h.SessionCount(),
		Accepted:      h.accepted.Load(),
		Rejected:      h.rejected.Load(),
		RateLimited:   h.rateLimited.Load(),
		DecodeErrors:  h.decodeErrors.Load(),
		SlowConsumers: h.slowConsumers.Load(),
	}
}

func writeReject(conn *websocket.Conn, code, reason string) {
	frame, err := protocol.Encode(&protocol.Reject{Code: code, Reason: reason})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code))
}

// ============================================================================
// Session outbox
// ============================================================================

// wsSession implements game.Outbox. The simulation goroutine is the only
// producer of its queue and the writer goroutine the only consumer.
type wsSession struct {
	id   string
	ip   string
	conn *websocket.Conn

	out    *spatial.SPSCQueue[protocol.Message]
	wake   chan struct{}
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once

	fullStreak int // producer side only
	slow       atomic.Bool
	reject     *protocol.Reject
	rejectMu   sync.Mutex
}

func newSession(id, ip string, conn *websocket.Conn, capacity int) *wsSession {
	if capacity <= 0 {
		capacity = 1024
	}
	return &wsSession{
		id:   id,
		ip:   ip,
		conn: conn,
		out:  spatial.NewSPSCQueue[protocol.Message](capacity),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Send queues msg without blocking.
func (s *wsSession) Send(msg protocol.Message) bool {
	if s.closed.Load() {
		return false
	}
	if !s.out.TryPush(msg) {
		wsOutboxFull.Inc()
		s.fullStreak++
		if s.fullStreak >= slowConsumerLimit {
			log.Printf("🐢 Session %s is not reading, closing", s.id)
			s.slow.Store(true)
			s.Close()
		}
		return false
	}
	s.fullStreak = 0
	s.signal()
	return true
}

// Close stops accepting messages. The writer flushes what is queued, then
// closes the connection.
func (s *wsSession) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

func (s *wsSession) rejectAndClose(code, reason string) {
	s.rejectMu.Lock()
	s.reject = &protocol.Reject{Code: code, Reason: reason}
	s.rejectMu.Unlock()
	s.Close()
}

func (s *wsSession) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *wsSession) writeLoop(slow *atomic.Uint64) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.wake:
			if !s.flush() {
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			s.flush()
			s.rejectMu.Lock()
			rej := s.reject
			s.rejectMu.Unlock()
			if rej != nil {
				writeReject(s.conn, rej.Code, rej.Reason)
				return
			}
			if s.slow.Load() {
				slow.Add(1)
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes every queued message. Returns false on a write error.
func (s *wsSession) flush() bool {
	for {
		msg, ok := s.out.TryPop()
		if !ok {
			return true
		}
		frame, err := protocol.Encode(msg)
		if err != nil {
			log.Printf("⚠️ Encode for %s failed: %v", s.id, err)
			continue
		}
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return false
		}
		wsMessagesOut.Inc()
	}
}

var _ game.Outbox = (*wsSession)(nil)
