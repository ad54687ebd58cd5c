package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/physio-cv/server/config"
	"github.com/san-kum/physio-cv/server/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.LoadConfig()
	cfg.Pose.SmoothingWindow = 1

	registry := sessions.NewRegistry(10, time.Hour, zap.NewNop())
	t.Cleanup(registry.Close)

	handler := NewSessionHandler(registry, nil, nil, cfg, zap.NewNop())

	router := gin.New()
	api := router.Group("/api/v1")
	api.POST("/sessions", handler.CreateSession)
	api.GET("/sessions/:id", handler.GetSession)
	api.DELETE("/sessions/:id", handler.DeleteSession)
	api.POST("/sessions/:id/frames", handler.ProcessFrame)
	api.POST("/sessions/:id/:command", handler.Command)
	api.GET("/stats", handler.GetStats)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createSquatSession(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions", gin.H{"exercise": "squat"})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Data.ID)
	return resp.Data.ID
}

// squatFramePayload poses both legs straight (180 degree knees) or bent at
// 90 degrees.
func squatFramePayload(ts int64, deep bool) gin.H {
	kp := func(name string, x, y float64) gin.H {
		return gin.H{"name": name, "x": x, "y": y, "confidence": 0.9}
	}
	ankles := []gin.H{kp("left_ankle", 100, 300), kp("right_ankle", 200, 300)}
	if deep {
		ankles = []gin.H{kp("left_ankle", 200, 200), kp("right_ankle", 300, 200)}
	}
	return gin.H{
		"timestamp": ts,
		"keypoints": append([]gin.H{
			kp("left_shoulder", 80, 0), kp("right_shoulder", 220, 0),
			kp("left_hip", 100, 100), kp("right_hip", 200, 100),
			kp("left_knee", 100, 200), kp("right_knee", 200, 200),
		}, ankles...),
	}
}

func TestCreateSessionRejectsUnknownExercise(t *testing.T) {
	router := testRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions", gin.H{"exercise": "deadlift"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported exercise")
}

func TestSessionNotFound(t *testing.T) {
	router := testRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions/nope/frames", squatFramePayload(1, false))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFrameRequiresActiveSession(t *testing.T) {
	router := testRouter(t)
	id := createSquatSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions/"+id+"/frames", squatFramePayload(1, false))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSquatRepOverREST(t *testing.T) {
	router := testRouter(t)
	id := createSquatSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var ts int64
	feed := func(deep bool) (repCount int, repCompleted bool) {
		ts++
		w := doJSON(t, router, http.MethodPost,
			fmt.Sprintf("/api/v1/sessions/%s/frames", id), squatFramePayload(ts, deep))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Data struct {
				RepCount     int  `json:"rep_count"`
				RepCompleted bool `json:"rep_completed"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp.Data.RepCount, resp.Data.RepCompleted
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

	// Snapshot reflects the counted rep.
	w = doJSON(t, router, http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rep_count":1`)
}

func TestCalibrateOverREST(t *testing.T) {
	router := testRouter(t)
	id := createSquatSession(t, router)

	doJSON(t, router, http.MethodPost, "/api/v1/sessions/"+id+"/start", nil)

	// Nothing seen yet.
	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions/"+id+"/calibrate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	doJSON(t, router, http.MethodPost, "/api/v1/sessions/"+id+"/frames", squatFramePayload(1, false))

	w = doJSON(t, router, http.MethodPost, "/api/v1/sessions/"+id+"/calibrate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"scale":140`)
}

func TestUnknownCommand(t *testing.T) {
	router := testRouter(t)
	id := createSquatSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions/"+id+"/levitate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFrameRejectsUnknownKeypoint(t *testing.T) {
	router := testRouter(t)
	id := createSquatSession(t, router)
	doJSON(t, router, http.MethodPost, "/api/v1/sessions/"+id+"/start", nil)

	payload := gin.H{
		"timestamp": 1,
		"keypoints": []gin.H{{"name": "left_flipper", "x": 1, "y": 2, "confidence": 0.9}},
	}
	w := doJSON(t, router, http.MethodPost, "/api/v1/sessions/"+id+"/frames", payload)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown keypoint")
}

func TestStatsSurviveConcurrentFrames(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.LoadConfig()
	registry := sessions.NewRegistry(10, time.Hour, zap.NewNop())
	t.Cleanup(registry.Close)
	handler := NewSessionHandler(registry, nil, nil, cfg, zap.NewNop())

	// Counters must not lose updates when frames land on parallel requests.
	const workers = 8
	const perWorker = 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				handler.noteFrame()
				if i%2 == 0 {
					handler.noteSuccess(time.Millisecond)
				} else {
					handler.noteError()
				}
			}
		}()
	}
	wg.Wait()

	stats := handler.statsSnapshot()
	assert.Equal(t, int64(workers*perWorker), stats.TotalFrames)
	assert.Equal(t, int64(workers*perWorker/2), stats.ProcessedOK)
	assert.Equal(t, int64(workers*perWorker/2), stats.ProcessedError)
	assert.Greater(t, stats.AvgProcessTime, 0.0)
}

func TestDeleteSession(t *testing.T) {
	router := testRouter(t)
	id := createSquatSession(t, router)

	w := doJSON(t, router, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
