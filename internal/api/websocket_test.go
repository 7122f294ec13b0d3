package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tileworld/internal/game"
	"tileworld/internal/protocol"
)

func newHubServer(t *testing.T, engine *game.Engine) (*httptest.Server, *GameHub) {
	t.Helper()
	hub := NewGameHub(engine.Bridge(), engine.Config().Limits, nil, PrometheusMetrics{})
	router := NewRouter(RouterConfig{Engine: engine, Hub: hub, DisableLogging: true})
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, hub
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	frame, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	msg, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return msg
}

func TestGameHubHandshake(t *testing.T) {
	engine := newTestEngine(t)
	engine.Start()
	defer engine.Stop()
	ts, hub := newHubServer(t, engine)

	conn := dial(t, ts)
	send(t, conn, &protocol.Hello{Version: protocol.ProtocolVersion, Name: "Alice"})

	welcome, ok := read(t, conn).(*protocol.Welcome)
	if !ok {
		t.Fatal("Expected Welcome as the first server message")
	}
	if welcome.SessionID == "" || welcome.EntityID == 0 {
		t.Errorf("Welcome should carry session and entity ids, got %+v", welcome)
	}
	if welcome.WorldWidth != 200 || welcome.WorldHeight != 150 {
		t.Errorf("Expected a 200x150 world, got %dx%d", welcome.WorldWidth, welcome.WorldHeight)
	}

	var sawViewport, sawRegion bool
	for i := 0; i < 4 && !(sawViewport && sawRegion); i++ {
		switch read(t, conn).(type) {
		case *protocol.ViewportMoved:
			sawViewport = true
		case *protocol.BlockRegionSnapshot:
			sawRegion = true
		}
	}
	if !sawViewport || !sawRegion {
		t.Errorf("Expected a viewport and its terrain after Welcome (viewport=%v region=%v)", sawViewport, sawRegion)
	}
	if hub.SessionCount() != 1 {
		t.Errorf("Expected 1 session, got %d", hub.SessionCount())
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	deadline := time.Now().Add(5 * time.Second)
	for hub.SessionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.SessionCount() != 0 {
		t.Errorf("Expected the session to be unregistered after close, got %d", hub.SessionCount())
	}
}

func TestGameHubRejectsBadHello(t *testing.T) {
	engine := newTestEngine(t)
	ts, hub := newHubServer(t, engine)

	tests := []struct {
		name  string
		first protocol.Message
		code  string
	}{
		{"wrong version", &protocol.Hello{Version: protocol.ProtocolVersion + 1, Name: "Old"}, protocol.ErrCodeProtoVersion},
		{"not a hello", &protocol.KeepAlive{}, protocol.ErrCodeBadHello},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, ts)
			send(t, conn, tt.first)

			rej, ok := read(t, conn).(*protocol.Reject)
			if !ok {
				t.Fatal("Expected Reject")
			}
			if rej.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, rej.Code)
			}
			if !protocol.IsKnownCode(rej.Code) {
				t.Errorf("Reject code %s is not a known code", rej.Code)
			}
		})
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Stats().Rejected < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if stats := hub.Stats(); stats.Rejected != 2 || stats.Accepted != 0 {
		t.Errorf("Expected 2 rejected and 0 accepted, got %+v", stats)
	}
}

func TestSessionSlowConsumerCloses(t *testing.T) {
	s := newSession("s1", "127.0.0.1", nil, 4)

	for i := 0; i < 4; i++ {
		if !s.Send(&protocol.KeepAlive{}) {
			t.Fatalf("Send %d should fit in the outbox", i)
		}
	}
	for i := 0; i < slowConsumerLimit; i++ {
		if s.Send(&protocol.KeepAlive{}) {
			t.Fatal("Send into a full outbox should fail")
		}
	}
	if !s.closed.Load() || !s.slow.Load() {
		t.Error("Session should be closed as a slow consumer")
	}
	if s.Send(&protocol.KeepAlive{}) {
		t.Error("Send after close should fail")
	}
}

func TestSessionFullStreakResets(t *testing.T) {
	s := newSession("s1", "127.0.0.1", nil, 2)
	s.Send(&protocol.KeepAlive{})
	s.Send(&protocol.KeepAlive{})

	for i := 0; i < slowConsumerLimit-1; i++ {
		s.Send(&protocol.KeepAlive{})
	}
	s.out.TryPop() // consumer catches up by one
	if !s.Send(&protocol.KeepAlive{}) {
		t.Fatal("Send should succeed after the consumer frees a slot")
	}
	if s.fullStreak != 0 {
		t.Errorf("Expected full streak reset, got %d", s.fullStreak)
	}
	if s.closed.Load() {
		t.Error("Session should stay open")
	}
}

func TestOriginChecker(t *testing.T) {
	oc := NewOriginChecker([]string{"https://play.example.com", "https://*.tiles.dev", "http://10.0.0.5:*"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://play.example.com", true},
		{"https://a.tiles.dev", true},
		{"http://a.tiles.dev", false},
		{"http://10.0.0.5:8080", true},
		{"https://evil.com", false},
		{"http://localhost:3000", false},
	}
	for _, tt := range tests {
		if got := oc.Allowed(tt.origin); got != tt.want {
			t.Errorf("Allowed(%q): expected %v, got %v", tt.origin, tt.want, got)
		}
	}

	defaults := NewOriginChecker(nil)
	if !defaults.Allowed("http://localhost:5173") {
		t.Error("Default checker should allow localhost on any port")
	}
	if defaults.Allowed("https://example.com") {
		t.Error("Default checker should refuse other origins")
	}
}
