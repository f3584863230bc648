package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/tasksync/internal/models"
	"github.com/kimhsiao/tasksync/internal/sync/outbox"
)

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:8090", true},
		{"http://127.0.0.1:3000", true},
		{"https://localhost", true},
		{"http://evil.example.com", false},
		{"http://localhost.evil.com", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, localOrigin(req), "origin %q", tt.origin)
	}
}

// dialHub starts a server for hub and connects one client to it.
func dialHub(t *testing.T, hub *WSHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(HandleWebSocket(hub))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *WSHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) WSEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env WSEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestWSHub_broadcastsSyncEvents(t *testing.T) {
	hub := NewWSHub()
	defer hub.Close()
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	hub.BatchStarted(3)
	env := readEnvelope(t, conn)
	assert.Equal(t, EventBatchStarted, env.Type)
	assert.Equal(t, float64(3), env.Data["size"])

	hub.BatchCompleted(outbox.BatchResult{Synced: 2, Failed: 1, Errors: []string{"x: boom"}}, 15*time.Millisecond)
	env = readEnvelope(t, conn)
	assert.Equal(t, EventBatchCompleted, env.Type)
	assert.Equal(t, float64(2), env.Data["synced"])
	assert.Equal(t, float64(15), env.Data["duration"])

	hub.EntryFailed(models.OutboxEntry{ID: "e1", RecordID: "r1", Operation: "BOGUS", ErrorMessage: "bad"})
	env = readEnvelope(t, conn)
	assert.Equal(t, EventEntryFailed, env.Type)
	assert.Equal(t, "e1", env.Data["entry_id"])
	assert.Equal(t, "bad", env.Data["error"])

	hub.ConflictDetected(models.ConflictLog{RecordID: "r1", Resolution: models.ResolutionForcedOverwrite})
	env = readEnvelope(t, conn)
	assert.Equal(t, EventConflictDetected, env.Type)
	assert.Equal(t, models.ResolutionForcedOverwrite, env.Data["resolution"])
}

func TestWSHub_subscriptionsFilterEvents(t *testing.T) {
	hub := NewWSHub()
	defer hub.Close()
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"events": []string{EventEntryFailed},
	}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack map[string]interface{}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribe_ack", ack["action"])

	hub.BatchStarted(1)
	hub.EntryFailed(models.OutboxEntry{ID: "e2"})

	env := readEnvelope(t, conn)
	assert.Equal(t, EventEntryFailed, env.Type, "batch_started should have been filtered out")
}

func TestWSHub_ping(t *testing.T) {
	hub := NewWSHub()
	defer hub.Close()
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var pong map[string]interface{}
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["action"])
}

func TestWSHub_unregisterOnDisconnect(t *testing.T) {
	hub := NewWSHub()
	defer hub.Close()
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestWSHub_closeDisconnectsClients(t *testing.T) {
	hub := NewWSHub()
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	hub.Close()
	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	done := make(chan struct{})
	go func() {
		hub.BatchStarted(1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked after Close")
	}
}
