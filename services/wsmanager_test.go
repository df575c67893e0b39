package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wsPair dials a websocket against a throwaway echo-less server and
// returns both ends.
func wsPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("websocket not accepted")
	}
	t.Cleanup(func() { _ = server.Close() })
	return server, client
}

func TestWSConnManagerSendAndBroadcast(t *testing.T) {
	manager := NewWSConnManager()

	serverA, clientA := wsPair(t)
	serverB, clientB := wsPair(t)

	manager.Add("user-a", serverA)
	manager.Add("user-b", serverB)

	manager.Send("user-a", []byte("only a"))
	_, msg, err := clientA.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "only a", string(msg))

	manager.Broadcast([]byte("everyone"))
	_, msg, err = clientA.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "everyone", string(msg))
	_, msg, err = clientB.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "everyone", string(msg))

	manager.Remove("user-b", serverB)
	manager.Send("user-b", []byte("gone"))
	manager.Broadcast([]byte("after remove"))
	_, msg, err = clientA.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "after remove", string(msg))
}

func TestPushFeedChanged(t *testing.T) {
	server, client := wsPair(t)
	GlobalWSConnManager.Add("push-user", server)
	defer GlobalWSConnManager.Remove("push-user", server)

	require.NoError(t, PushFeedChanged(3))

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)

	var notify FeedChangedNotify
	require.NoError(t, json.Unmarshal(msg, &notify))
	require.Equal(t, "feed_changed", notify.Event)
	require.Equal(t, 3, notify.Entries)
	require.False(t, notify.At.IsZero())
}
