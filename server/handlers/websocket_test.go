package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/san-kum/physio-cv/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Gorilla panics on concurrent writes to one connection, so results from the
// read loop and keepalive pings must share a serialized writer. This hammers
// both write paths from several goroutines at once.
func TestSafeConnSerializesWrites(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	raw, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	conn := &safeConn{Conn: raw}
	defer conn.Close()

	var wg sync.WaitGroup
	for _i := 0; _i < 4; _i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				conn.writeJSON(ServerMessage{Type: "result", Data: i})
				conn.writePing(time.Now().Add(time.Second))
			}
		}()
	}
	wg.Wait()
}

func wsTestServer(t *testing.T) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.LoadConfig()
	cfg.Pose.SmoothingWindow = 1

	handler := NewWebSocketHandler(nil, nil, cfg, zap.NewNop())
	router := gin.New()
	router.GET("/ws", handler.HandleWebSocket)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWebSocketSquatFlow(t *testing.T) {
	conn := wsTestServer(t)

	read := func() (string, json.RawMessage) {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		return msg.Type, msg.Data
	}

	// Frames before an exercise is selected are rejected on the socket.
	require.NoError(t, conn.WriteJSON(gin.H{"type": "frame", "frame": squatFramePayload(1, false)}))
	typ, _ := read()
	assert.Equal(t, "error", typ)

	require.NoError(t, conn.WriteJSON(gin.H{"type": "select_exercise", "exercise": "squat"}))
	typ, _ = read()
	require.Equal(t, "session", typ)

	require.NoError(t, conn.WriteJSON(gin.H{"type": "start"}))
	typ, _ = read()
	require.Equal(t, "session", typ)

	var ts int64
	feed := func(deep bool) (repCount int, repCompleted bool) {
		ts++
		require.NoError(t, conn.WriteJSON(gin.H{"type": "frame", "frame": squatFramePayload(ts, deep)}))
		typ, data := read()
		require.Equal(t, "result", typ, string(data))

		var result struct {
			RepCount     int  `json:"rep_count"`
			RepCompleted bool `json:"rep_completed"`
		}
		require.NoError(t, json.Unmarshal(data, &result))
		return result.RepCount, result.RepCompleted
	}

	for _i := 0; _i < 3; _i++ {
		feed(false)
	}
	for _i := 0; _i < 3; _i++ {
		feed(true)
	}
	feed(false)
	feed(false)
	count, completed := feed(false)
	assert.True(t, completed)
	assert.Equal(t, 1, count)
}

func TestWebSocketUnknownMessageType(t *testing.T) {
	conn := wsTestServer(t)

	require.NoError(t, conn.WriteJSON(gin.H{"type": "teleport"}))

	var msg struct {
		Type string `json:"type"`
		Data struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Data.Message, "unknown message type")
}
