//go:build linux

package denylog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(h.Handler()))
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Give the hub time to register the client.
	time.Sleep(100 * time.Millisecond)
	return conn
}

func TestHub_Publish(t *testing.T) {
	hub := NewHub(nil)
	conn := dialHub(t, hub)

	hub.Publish(Event{
		Direction: "egress",
		Protocol:  "TCP",
		DstIP:     "93.184.216.34",
		DstPort:   443,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}

	var got Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if got.Direction != "egress" || got.DstIP != "93.184.216.34" {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestHub_Forward(t *testing.T) {
	hub := NewHub(nil)
	conn := dialHub(t, hub)

	ch := make(chan Event, 1)
	go hub.Forward(ch)

	ch <- Event{Direction: "ingress", SrcIP: "203.0.113.9"}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read forwarded event: %v", err)
	}

	var got Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if got.SrcIP != "203.0.113.9" {
		t.Errorf("forwarded event = %+v", got)
	}
	close(ch)
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(nil)
	if hub.ClientCount() != 0 {
		t.Fatalf("fresh hub has %d clients", hub.ClientCount())
	}

	conn := dialHub(t, hub)
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", hub.ClientCount())
	}

	conn.Close()
	time.Sleep(200 * time.Millisecond)
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after close, got %d", hub.ClientCount())
	}
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := NewHub(nil)
	// Must not panic or block.
	hub.Publish(Event{Direction: "egress"})
}
