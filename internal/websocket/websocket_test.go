package websocket_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/tmxbot/envimix/internal/logger"
	"github.com/tmxbot/envimix/internal/models"
	ws "github.com/tmxbot/envimix/internal/websocket"
)

func setupHub(t *testing.T) (*ws.Hub, *httptest.Server) {
	t.Helper()
	hub := ws.New(logger.New())
	hub.Start()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(server.Close)
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *gws.Conn) models.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg models.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad message %q: %v", data, err)
	}
	return msg
}

func statusPayload(t *testing.T, msg models.WSMessage) (string, string) {
	t.Helper()
	payload, ok := msg.Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected payload %T", msg.Payload)
	}
	id, _ := payload["campaign_id"].(string)
	rendered, _ := payload["rendered"].(string)
	return id, rendered
}

func TestBroadcastStatus_ReachesConnectedClients(t *testing.T) {
	hub, server := setupHub(t)
	conn := dial(t, server)
	time.Sleep(50 * time.Millisecond) // let the registration land

	hub.BroadcastStatus("camp-1", "the grid")

	msg := readMessage(t, conn)
	if msg.Type != "status" {
		t.Fatalf("expected a status message, got %q", msg.Type)
	}
	id, rendered := statusPayload(t, msg)
	if id != "camp-1" || rendered != "the grid" {
		t.Errorf("unexpected payload %q/%q", id, rendered)
	}
}

func TestBroadcastStatus_ReplayedToLateJoiners(t *testing.T) {
	hub, server := setupHub(t)

	hub.BroadcastStatus("camp-1", "the grid")

	// A client connecting after the broadcast still gets the last grid
	conn := dial(t, server)
	msg := readMessage(t, conn)
	if msg.Type != "status" {
		t.Fatalf("expected a replayed status, got %q", msg.Type)
	}
	id, rendered := statusPayload(t, msg)
	if id != "camp-1" || rendered != "the grid" {
		t.Errorf("unexpected replay %q/%q", id, rendered)
	}
}

func TestBroadcastStatus_FanOut(t *testing.T) {
	hub, server := setupHub(t)
	conn1 := dial(t, server)
	conn2 := dial(t, server)
	time.Sleep(50 * time.Millisecond)

	hub.BroadcastStatus("camp-1", "the grid")

	for _, conn := range []*gws.Conn{conn1, conn2} {
		msg := readMessage(t, conn)
		id, _ := statusPayload(t, msg)
		if id != "camp-1" {
			t.Errorf("unexpected campaign %q", id)
		}
	}
}
