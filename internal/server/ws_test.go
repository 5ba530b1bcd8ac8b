package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/54b3r/aiotvet-go/internal/notify"
)

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/notifications?token=" + token
}

// waitSubscribers blocks until the bus has n subscribers on AllEvents.
func waitSubscribers(t *testing.T, bus *notify.Bus, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for bus.Subscribers(notify.AllEvents) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscribers", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNotifications_StreamsDialogEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	srv := httptest.NewServer(f.srv.Handler())
	t.Cleanup(srv.Close)

	hdr := http.Header{"Origin": []string{testOrigin}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, f.apiKey), hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	// The recorder is the first subscriber.
	waitSubscribers(t, f.bus, 2)
	f.inbound(t, "tg:11", "Is the store open on Sunday?")

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var names []string
	for range 3 {
		var ev notify.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		names = append(names, ev.Name)
	}
	want := []string{notify.EventMessageCreated, notify.EventMessageCreated, notify.EventDialogStatus}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", names, want)
	}

	if got := connectedClients(t, f); got != 1 {
		t.Errorf("connected_clients = %v while a client is connected", got)
	}

	_ = conn.Close()
	waitSubscribers(t, f.bus, 1)
	deadline := time.Now().Add(5 * time.Second)
	for connectedClients(t, f) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connected_clients not decremented after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func connectedClients(t *testing.T, f *fixture) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "aiotvet_notify_connected_clients" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return -1
}

func TestNotifications_Rejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	srv := httptest.NewServer(f.srv.Handler())
	t.Cleanup(srv.Close)

	tests := []struct {
		name   string
		token  string
		origin string
		want   int
	}{
		{"bad token", "wrong", testOrigin, http.StatusUnauthorized},
		{"foreign origin", f.apiKey, "https://evil.example.net", http.StatusForbidden},
	}
	for _, tc := range tests {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tc.token), http.Header{"Origin": []string{tc.origin}})
		if err == nil {
			t.Errorf("%s: dial succeeded", tc.name)
			continue
		}
		if resp == nil || resp.StatusCode != tc.want {
			t.Errorf("%s: response = %v, want status %d", tc.name, resp, tc.want)
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
	}
}
