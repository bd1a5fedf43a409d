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
)

func readEventType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev["type"].(string)
}

func TestWebSocketSession(t *testing.T) {
	env := newTestEnv(t)
	srv := newWSServer(env)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "setup_required", readEventType(t, conn))
	assert.Equal(t, "status", readEventType(t, conn))
	assert.Equal(t, "config_reloaded", readEventType(t, conn))

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"submit_question","text":"What is photosynthesis?"}`)))

	seen := map[string]bool{}
	for !seen["question_added"] {
		seen[readEventType(t, conn)] = true
	}
	assert.Len(t, env.store.History(), 1)
}
