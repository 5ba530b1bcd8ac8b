package notify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// wsPair starts a server that hands its side of the connection to onConn and
// returns the dialled client side.
func wsPair(t *testing.T, onConn func(*websocket.Conn)) *websocket.Conn {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		onConn(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSClient_DeliversThroughBus(t *testing.T) {
	t.Parallel()
	bus, m := quietBus(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ready := make(chan struct{})

	peer := wsPair(t, func(conn *websocket.Conn) {
		c := NewWSClient(conn, 4, log, m)
		unsub := bus.Subscribe(AllEvents, c.Deliver)
		m.ClientConnected(1)
		close(ready)
		go func() {
			c.Run(context.Background())
			unsub()
			m.ClientConnected(-1)
		}()
	})
	<-ready

	if err := bus.Broadcast(context.Background(), EventMessageCreated, MessageCreated{DialogID: 5, MessageID: 11, Sender: "USER"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	_ = peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev Event
	if err := peer.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	var p MessageCreated
	if err := ev.Decode(&p); err != nil || ev.Name != EventMessageCreated || p.MessageID != 11 {
		t.Errorf("event %+v payload %+v err %v", ev, p, err)
	}
	if v := testutil.ToFloat64(m.connected); v != 1 {
		t.Errorf("connected gauge = %v", v)
	}
}

func TestWSClient_FullBufferDropsWithoutBlocking(t *testing.T) {
	t.Parallel()
	m := NewMetrics(prometheus.NewRegistry())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clients := make(chan *WSClient, 1)

	wsPair(t, func(conn *websocket.Conn) {
		// No Run: nothing drains the buffer.
		clients <- NewWSClient(conn, 1, log, m)
	})
	c := <-clients
	defer c.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			_ = c.Deliver(context.Background(), Event{Name: EventDialogStatus})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver blocked on a full buffer")
	}
	if v := testutil.ToFloat64(m.droppedTotal); v != 4 {
		t.Errorf("dropped_total = %v, want 4", v)
	}
}

func TestWSClient_PeerCloseEndsRun(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	finished := make(chan struct{})

	peer := wsPair(t, func(conn *websocket.Conn) {
		c := NewWSClient(conn, 0, log, nil)
		go func() {
			c.Run(context.Background())
			close(finished)
		}()
	})
	_ = peer.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	peer.Close()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the peer closed")
	}
}
