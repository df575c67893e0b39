package handlers_test

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

func TestFeedWebsocketPush(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.register(t, "ws_watcher")
	env.waitFeedLen(t, token, 0)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/feed/ws"
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, greeting, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"connected"}`, string(greeting))

	w := env.do(t, "POST", "/api/v1/activities", token, map[string]string{"content": "pushed post"})
	require.Equal(t, http.StatusCreated, w.Code)

	// The refresh that follows the write is pushed to connected clients.
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no feed_changed push received")
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg struct {
			Event   string `json:"event"`
			Entries int    `json:"entries"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		if msg.Event == "feed_changed" && msg.Entries == 1 {
			return
		}
	}
}

func TestFeedWebsocketRequiresSession(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/feed/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
