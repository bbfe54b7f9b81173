package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiridroid/kiridroid-go/internal/pipeline"
)

func dialHub(t *testing.T, hub *ProgressHub, buildID string) *websocket.Conn {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/builds/:id", hub.HandleWebSocket)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/builds/" + buildID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestProgressHub_FiltersByBuild(t *testing.T) {
	hub := NewProgressHub(testLogger())
	conn := dialHub(t, hub, "b1")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Emit(pipeline.StatusChanged{BuildID: "b2", Phase: pipeline.PhaseDecompile, Message: "Decompiling APK..."})
	hub.Emit(pipeline.ProgressAdvanced{BuildID: "b1", Phase: pipeline.PhaseDecompile, Delta: 10, Total: 15})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string         `json:"type"`
		BuildID string         `json:"build_id"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "progress", msg.Type)
	assert.Equal(t, "b1", msg.BuildID)
	assert.EqualValues(t, 15, msg.Data["total"])
}

func TestProgressHub_AllBuilds(t *testing.T) {
	hub := NewProgressHub(testLogger())
	conn := dialHub(t, hub, AllBuilds)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Emit(pipeline.Failed{BuildID: "b9", Phase: pipeline.PhaseSign, Message: "Signing failed"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"failed"`)
	assert.Contains(t, string(raw), `"build_id":"b9"`)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
