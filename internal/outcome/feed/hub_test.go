package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/cgs-simulator/internal/outcome"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", n, h.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) outcome.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var ev outcome.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return ev
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, srv, "")
	b := dial(t, srv, "")
	waitSubscribers(t, hub, 2)

	ev := outcome.Event{Kind: outcome.KindBundleDelivered, BundleID: "b1", Node: "gs1"}
	if err := hub.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record: %v", err)
	}
	for _, conn := range []*websocket.Conn{a, b} {
		got := readEvent(t, conn)
		if got.Kind != ev.Kind || got.BundleID != "b1" {
			t.Fatalf("unexpected event %+v", got)
		}
	}
}

func TestHub_KindFilter(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "?kind=bundle.dropped")
	waitSubscribers(t, hub, 1)

	ctx := context.Background()
	_ = hub.Record(ctx, outcome.Event{Kind: outcome.KindBundleDelivered, BundleID: "skip"})
	_ = hub.Record(ctx, outcome.Event{Kind: outcome.KindBundleDropped, BundleID: "keep"})

	if got := readEvent(t, conn); got.BundleID != "keep" {
		t.Fatalf("expected only dropped events, got %+v", got)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitSubscribers(t, hub, 1)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitSubscribers(t, hub, 0)

	if err := hub.Record(context.Background(), outcome.Event{Kind: outcome.KindBundleForwarded}); err != nil {
		t.Fatalf("Record with no subscribers: %v", err)
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitSubscribers(t, hub, 1)
	hub.Close()
	if hub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers after close")
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to be closed")
	}
}
