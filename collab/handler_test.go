package collab

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

func newWSServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/collab/{documentID}", Handle(hub))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return msg
}

func readUntilType(t *testing.T, conn *websocket.Conn, msgType string) map[string]interface{} {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg := readJSON(t, conn)
		if msg["type"] == msgType {
			return msg
		}
	}
	t.Fatalf("Never received a %q message", msgType)
	return nil
}

func TestHandleRejectsMissingEmail(t *testing.T) {
	hub := NewHub(newMockStore(), nil, quietConfig())
	defer hub.Shutdown()
	srv := newWSServer(t, hub)

	resp, err := http.Get(srv.URL + "/collab/doc-1")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleEndToEnd(t *testing.T) {
	hub := NewHub(newMockStore(), nil, quietConfig())
	defer hub.Shutdown()
	srv := newWSServer(t, hub)

	a := dialWS(t, srv, "/collab/doc-1?email=alice@example.com&displayName=Alice")
	welcome := readJSON(t, a)
	if welcome["type"] != "welcome" {
		t.Fatalf("Expected welcome, got %v", welcome["type"])
	}
	if welcome["version"].(float64) != 0 {
		t.Errorf("Welcome version mismatch: %v", welcome["version"])
	}

	b := dialWS(t, srv, "/collab/doc-1?email=bob@example.com")
	readJSON(t, b) // welcome
	readUntilType(t, a, "user-joined")

	err := a.WriteJSON(map[string]interface{}{
		"type":    "operation",
		"op":      map[string]interface{}{"kind": "insert", "from": 0, "content": "Hello"},
		"version": 0,
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ack := readUntilType(t, a, "ack")
	if ack["version"].(float64) != 1 {
		t.Errorf("Ack version mismatch: %v", ack["version"])
	}

	opMsg := readUntilType(t, b, "operation")
	if opMsg["version"].(float64) != 1 {
		t.Errorf("Broadcast version mismatch: %v", opMsg["version"])
	}
	op := opMsg["op"].(map[string]interface{})
	if op["content"] != "Hello" {
		t.Errorf("Broadcast op mismatch: %v", op)
	}
}

func TestHandleDisconnectNotifiesPeers(t *testing.T) {
	hub := NewHub(newMockStore(), nil, quietConfig())
	defer hub.Shutdown()
	srv := newWSServer(t, hub)

	a := dialWS(t, srv, "/collab/doc-1?email=alice@example.com")
	readJSON(t, a)
	b := dialWS(t, srv, "/collab/doc-1?email=bob@example.com")
	readJSON(t, b)
	readUntilType(t, a, "user-joined")

	// An abrupt close, not a polite leave message.
	b.Close()

	left := readUntilType(t, a, "user-left")
	if left["userId"] == "" {
		t.Error("user-left carries no user id")
	}
}

func TestHandleDefaultsDisplayNameToEmail(t *testing.T) {
	hub := NewHub(newMockStore(), nil, quietConfig())
	defer hub.Shutdown()
	srv := newWSServer(t, hub)

	a := dialWS(t, srv, "/collab/doc-1?email=alice@example.com")
	welcome := readJSON(t, a)
	presence := welcome["presence"].([]interface{})
	self := presence[0].(map[string]interface{})
	if self["displayName"] != "alice@example.com" {
		t.Errorf("Display name should default to the email, got %v", self["displayName"])
	}
}
