package overlay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/stream-herald/notify"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server, *atomic.Int64) {
	t.Helper()
	h := NewHub()
	var signals atomic.Int64
	h.SetFinishedFunc(func() { signals.Add(1) })
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	return h, srv, &signals
}

func dialTestHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDispatchNoClientsIsVacuous(t *testing.T) {
	h := NewHub()
	if h.Dispatch(notify.NewFollow("ghost")) {
		t.Fatal("dispatch to empty registry should report false")
	}
}

func TestDispatchAndAcknowledge(t *testing.T) {
	h, srv, signals := newTestHub(t)
	conn := dialTestHub(t, srv)
	waitFor(t, "client registration", func() bool { return h.ClientCount() == 1 })
	before := signals.Load()

	n := notify.NewFollow("ada")
	if !h.Dispatch(n) {
		t.Fatal("dispatch with a connected client should report true")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("payload message type = %d, want text", mt)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Type != int(notify.TypeFollow) {
		t.Errorf("payload type = %d, want %d", p.Type, notify.TypeFollow)
	}
	if p.MessageDisplayed != n.DisplayText {
		t.Errorf("payload message = %q, want %q", p.MessageDisplayed, n.DisplayText)
	}

	// the client is mid-playback now, so the finished callback must wait
	// for the sentinel
	if err := conn.WriteMessage(websocket.TextMessage, []byte("FINISHED")); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}
	waitFor(t, "finished signal", func() bool { return signals.Load() > before })
}

func TestBarrierRequiresAllClients(t *testing.T) {
	h, srv, signals := newTestHub(t)
	first := dialTestHub(t, srv)
	second := dialTestHub(t, srv)
	waitFor(t, "both registrations", func() bool { return h.ClientCount() == 2 })

	h.Dispatch(notify.NewRaid("raider", 12))
	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("read payload: %v", err)
		}
	}
	before := signals.Load()

	if err := first.WriteMessage(websocket.TextMessage, []byte("FINISHED")); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if signals.Load() > before {
		t.Fatal("finished fired with one client still playing")
	}

	if err := second.WriteMessage(websocket.TextMessage, []byte("FINISHED")); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}
	waitFor(t, "finished signal", func() bool { return signals.Load() > before })
}

func TestDepartingClientUnblocksBarrier(t *testing.T) {
	h, srv, signals := newTestHub(t)
	acker := dialTestHub(t, srv)
	leaver := dialTestHub(t, srv)
	waitFor(t, "both registrations", func() bool { return h.ClientCount() == 2 })

	h.Dispatch(notify.NewBits("spender", 200))
	for _, conn := range []*websocket.Conn{acker, leaver} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("read payload: %v", err)
		}
	}
	before := signals.Load()

	if err := acker.WriteMessage(websocket.TextMessage, []byte("FINISHED")); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if signals.Load() > before {
		t.Fatal("finished fired while second client was still playing")
	}

	// the unfinished client disconnecting must resolve the barrier
	leaver.Close()
	waitFor(t, "finished signal after departure", func() bool { return signals.Load() > before })
	waitFor(t, "registry shrink", func() bool { return h.ClientCount() == 1 })
}

func TestJoinDuringPlaybackDoesNotResolveBarrier(t *testing.T) {
	h, srv, signals := newTestHub(t)
	first := dialTestHub(t, srv)
	waitFor(t, "client registration", func() bool { return h.ClientCount() == 1 })

	h.Dispatch(notify.NewFollow("ada"))
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	before := signals.Load()

	// a client joining mid-playback starts idle; its arrival must not ack
	// the notification the first client is still showing
	dialTestHub(t, srv)
	waitFor(t, "second registration", func() bool { return h.ClientCount() == 2 })
	time.Sleep(50 * time.Millisecond)
	if signals.Load() > before {
		t.Fatal("join resolved the barrier while a client was still playing")
	}

	if err := first.WriteMessage(websocket.TextMessage, []byte("FINISHED")); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}
	waitFor(t, "finished signal", func() bool { return signals.Load() > before })
}

func TestClientChurnAloneFiresNothing(t *testing.T) {
	h, srv, signals := newTestHub(t)
	conn := dialTestHub(t, srv)
	waitFor(t, "client registration", func() bool { return h.ClientCount() == 1 })

	conn.Close()
	waitFor(t, "registry shrink", func() bool { return h.ClientCount() == 0 })
	time.Sleep(50 * time.Millisecond)
	if signals.Load() != 0 {
		t.Fatalf("signals = %d after join/leave with nothing playing, want 0", signals.Load())
	}
}

func TestJoinDuringDispatchKeepsSingleFlight(t *testing.T) {
	h := NewHub()
	q := notify.NewQueue(h)
	h.SetFinishedFunc(q.SignalFinished)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	first := dialTestHub(t, srv)
	waitFor(t, "client registration", func() bool { return h.ClientCount() == 1 })

	q.Push(notify.NewFollow("ada"))
	q.Push(notify.NewBits("bob", 100))

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err != nil {
		t.Fatalf("read first payload: %v", err)
	}

	// second client joins while the first notification is unacked
	second := dialTestHub(t, srv)
	waitFor(t, "second registration", func() bool { return h.ClientCount() == 2 })

	// the second notification must stay queued across several ticks
	time.Sleep(300 * time.Millisecond)
	if got := q.Depth(); got != 1 {
		t.Fatalf("queue depth = %d, want 1 while the first notification plays", got)
	}

	if err := first.WriteMessage(websocket.TextMessage, []byte("FINISHED")); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	// after the ack both clients receive the second notification
	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read second payload: %v", err)
		}
		var p Payload
		if err := json.Unmarshal(data, &p); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if p.Type != int(notify.TypeBits) {
			t.Errorf("payload type = %d, want %d", p.Type, notify.TypeBits)
		}
	}
}

func TestNonSentinelFramesIgnored(t *testing.T) {
	h, srv, signals := newTestHub(t)
	conn := dialTestHub(t, srv)
	waitFor(t, "client registration", func() bool { return h.ClientCount() == 1 })

	h.Dispatch(notify.NewSubscription("sub"))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	before := signals.Load()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write chatter: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if signals.Load() > before {
		t.Fatal("non-sentinel frame resolved the barrier")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("FINISHED")); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}
	waitFor(t, "finished signal", func() bool { return signals.Load() > before })
}
