package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/matteso1/synapse/internal/app"
	"github.com/matteso1/synapse/internal/awareness"
	"github.com/matteso1/synapse/internal/crdt"
	"github.com/matteso1/synapse/internal/protocol"
	"github.com/matteso1/synapse/internal/relay"
)

func newTestServer(t *testing.T) (*httptest.Server, *relay.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &app.Config{}
	cfg.Monitoring.Prometheus.Enabled = false

	registry := relay.NewRegistry(time.Minute)
	t.Cleanup(registry.Close)

	handler := relay.NewHandler(registry, relay.DefaultOptions())
	server := httptest.NewServer(NewRouter(cfg, registry, handler))
	t.Cleanup(server.Close)

	return server, registry
}

func dial(t *testing.T, server *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(server.URL, "http", "ws", 1) + "/" + room
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	return frame
}

func TestHealthEndpoint(t *testing.T) {
	server, registry := newTestServer(t)
	registry.GetOrCreate("ABCD")

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status    string `json:"status"`
		Rooms     int    `json:"rooms"`
		Timestamp string `json:"timestamp"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "healthy", body.Status)
	require.Equal(t, 1, body.Rooms)

	_, err = time.Parse(time.RFC3339, body.Timestamp)
	require.NoError(t, err)
}

func TestUnknownPathsServeBanner(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/anything/else")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestFirstFrameIsEmptyVectorSyncStep1(t *testing.T) {
	server, _ := newTestServer(t)

	conn := dial(t, server, "NEWRM")
	msg, err := protocol.Decode(readFrame(t, conn))
	require.NoError(t, err)
	require.Equal(t, protocol.MessageSync, msg.Type)
	require.Equal(t, protocol.SyncStep1, msg.SubType)
	require.Empty(t, msg.Payload)
}

func TestUpdateRelayedToPeerWithoutEcho(t *testing.T) {
	server, _ := newTestServer(t)

	a := dial(t, server, "ABCD")
	readFrame(t, a) // handshake SyncStep1

	b := dial(t, server, "ABCD")
	readFrame(t, b) // handshake SyncStep1

	u1 := protocol.EncodeUpdate(crdt.EncodeUpdate([]crdt.Entry{{Client: 1, Seq: 1, Body: []byte("ins")}}))
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, u1))

	require.Equal(t, u1, readFrame(t, b), "peer must receive the exact frame")

	// The sender must never see its own update come back.
	require.NoError(t, a.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := a.ReadMessage()
	require.Error(t, err)
	netErr, ok := err.(interface{ Timeout() bool })
	require.True(t, ok, "expected a timeout, got %v", err)
	require.True(t, netErr.Timeout())
}

func TestSyncRoundBringsLateJoinerUpToDate(t *testing.T) {
	server, _ := newTestServer(t)

	a := dial(t, server, "DOC")
	readFrame(t, a)

	u1 := protocol.EncodeUpdate(crdt.EncodeUpdate([]crdt.Entry{{Client: 1, Seq: 1, Body: []byte("hello")}}))
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, u1))

	b := dial(t, server, "DOC")
	step1, err := protocol.Decode(readFrame(t, b))
	require.NoError(t, err)
	require.Equal(t, protocol.SyncStep1, step1.SubType)
	require.NotEmpty(t, step1.Payload, "room already has history")

	// Ask for everything and verify the diff carries the edit.
	require.NoError(t, b.WriteMessage(websocket.BinaryMessage, protocol.EncodeSyncStep1(nil)))
	step2, err := protocol.Decode(readFrame(t, b))
	require.NoError(t, err)
	require.Equal(t, protocol.SyncStep2, step2.SubType)

	entries, err := crdt.DecodeUpdate(step2.Payload)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("hello"), entries[0].Body)
}

func TestDisconnectBroadcastsAwarenessRemoval(t *testing.T) {
	server, _ := newTestServer(t)

	a := dial(t, server, "ROOM")
	readFrame(t, a)
	b := dial(t, server, "ROOM")
	readFrame(t, b)

	presence := protocol.EncodeAwareness(awareness.EncodeUpdate([]awareness.Record{
		{ClientID: 42, Clock: 1, State: []byte(`{"name":"b"}`)},
	}))
	require.NoError(t, b.WriteMessage(websocket.BinaryMessage, presence))

	// Both sides see the presence update.
	readFrame(t, b)
	msg, err := protocol.Decode(readFrame(t, a))
	require.NoError(t, err)
	require.Equal(t, protocol.MessageAwareness, msg.Type)

	require.NoError(t, b.Close())

	removal, err := protocol.Decode(readFrame(t, a))
	require.NoError(t, err)
	require.Equal(t, protocol.MessageAwareness, removal.Type)

	records, err := awareness.DecodeUpdate(removal.Payload)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, uint64(42), records[0].ClientID)
	require.Equal(t, []byte("null"), records[0].State)
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	server, _ := newTestServer(t)

	a := dial(t, server, "SAFE")
	readFrame(t, a)
	b := dial(t, server, "SAFE")
	readFrame(t, b)

	// Truncated sync frame: dropped, connection stays usable.
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte{0x00}))

	u1 := protocol.EncodeUpdate(crdt.EncodeUpdate([]crdt.Entry{{Client: 1, Seq: 1, Body: []byte("ok")}}))
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, u1))
	require.Equal(t, u1, readFrame(t, b))
}
