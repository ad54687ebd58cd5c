package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/san-kum/physio-cv/server/config"
	"github.com/san-kum/physio-cv/server/exercise"
	"github.com/san-kum/physio-cv/server/models"
	"github.com/san-kum/physio-cv/server/poseclient"
	"go.uber.org/zap"
)

// WebSocketHandler drives one exercise session per connection. The client
// selects an exercise, issues control commands and streams frames; results
// come back on the same socket. The session lives and dies with the
// connection, so there is no registry involvement here.
type WebSocketHandler struct {
	poseClient *poseclient.Client
	announcer  exercise.Announcer
	cfg        *config.Config
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

type ClientMessage struct {
	Type      string          `json:"type"`
	Exercise  string          `json:"exercise,omitempty"`
	Frame     json.RawMessage `json:"frame,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// safeConn serializes writes to the underlying connection. Gorilla allows at
// most one concurrent writer, and pings go out from their own goroutine while
// the read loop writes results.
type safeConn struct {
	*websocket.Conn
	writeMu sync.Mutex
}

func (c *safeConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}

func (c *safeConn) writePing(deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.Conn.SetWriteDeadline(deadline)
	return c.Conn.WriteMessage(websocket.PingMessage, nil)
}

func NewWebSocketHandler(poseClient *poseclient.Client, announcer exercise.Announcer, cfg *config.Config, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		poseClient: poseClient,
		announcer:  announcer,
		cfg:        cfg,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection", zap.Error(err))
		return
	}
	conn := &safeConn{Conn: raw}
	defer conn.Close()

	clientIP := c.ClientIP()
	h.logger.Info("websocket client connected", zap.String("client_ip", clientIP))

	conn.SetReadLimit(10 * 1024 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	done := make(chan struct{})
	go h.pingRoutine(conn, ticker, done)
	defer func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}()

	// One session per connection; all messages are handled on this loop, so
	// the session stays single-goroutine as required.
	var session *exercise.Session
	defer func() {
		if session != nil {
			session.Stop()
		}
	}()

	for {
		var message ClientMessage
		if err := conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		session = h.handleMessage(conn, session, &message)
	}
}

func (h *WebSocketHandler) handleMessage(conn *safeConn, session *exercise.Session, message *ClientMessage) *exercise.Session {
	switch message.Type {
	case "select_exercise":
		return h.selectExercise(conn, session, message.Exercise)
	case "start", "pause", "resume", "stop", "calibrate":
		h.runCommand(conn, session, message.Type)
	case "frame":
		h.processFrame(conn, session, message)
	case "ping":
		h.sendMessage(conn, "pong", map[string]any{"timestamp": time.Now().Unix()})
	default:
		h.sendError(conn, "unknown message type: "+message.Type)
	}
	return session
}

func (h *WebSocketHandler) selectExercise(conn *safeConn, old *exercise.Session, name string) *exercise.Session {
	kind, err := models.ParseExerciseKind(name)
	if err != nil {
		h.sendError(conn, err.Error())
		return old
	}

	cfg := exercise.Config{
		ConfirmFrames:        h.cfg.Exercise.ConfirmFrames,
		SmoothingWindow:      h.cfg.Pose.SmoothingWindow,
		MinConfidence:        h.cfg.Pose.MinConfidence,
		SquatLowAngle:        h.cfg.Exercise.SquatLowAngle,
		SquatHighAngle:       h.cfg.Exercise.SquatHighAngle,
		RotationThresholdDeg: h.cfg.Exercise.RotationThresholdDeg,
	}

	session, err := exercise.NewSession(uuid.NewString(), kind, cfg, h.announcer, h.logger)
	if err != nil {
		h.sendError(conn, err.Error())
		return old
	}

	if old != nil {
		old.Stop()
	}
	h.sendMessage(conn, "session", session.Snapshot())
	return session
}

func (h *WebSocketHandler) runCommand(conn *safeConn, session *exercise.Session, command string) {
	if session == nil {
		h.sendError(conn, "no exercise selected")
		return
	}

	var err error
	switch command {
	case "start":
		err = session.Start()
	case "pause":
		err = session.Pause()
	case "resume":
		err = session.Resume()
	case "stop":
		err = session.Stop()
	case "calibrate":
		_, err = session.Calibrate()
	}
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}
	h.sendMessage(conn, "session", session.Snapshot())
}

func (h *WebSocketHandler) processFrame(conn *safeConn, session *exercise.Session, message *ClientMessage) {
	if session == nil {
		h.sendError(conn, "no exercise selected")
		return
	}

	var payload FramePayload
	if err := json.Unmarshal(message.Frame, &payload); err != nil {
		h.sendError(conn, "invalid frame payload")
		return
	}
	if payload.Timestamp == 0 {
		payload.Timestamp = message.Timestamp
	}

	frame, err := h.frameFromPayload(&payload)
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}

	result, err := session.ProcessFrame(frame)
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}

	h.sendMessage(conn, "result", result)
}

func (h *WebSocketHandler) frameFromPayload(payload *FramePayload) (models.Frame, error) {
	if len(payload.Keypoints) > 0 {
		return frameFromKeypoints(payload.Keypoints, payload.Timestamp)
	}

	if payload.ImageData == "" {
		return models.Frame{}, fmt.Errorf("frame carries neither keypoints nor image data")
	}
	if h.poseClient == nil {
		return models.Frame{}, fmt.Errorf("pose service not configured, send keypoints directly")
	}

	imageData, err := extractImageData(payload.ImageData)
	if err != nil {
		return models.Frame{}, fmt.Errorf("invalid image data: %w", err)
	}
	return h.poseClient.EstimateFrame(imageData, payload.Timestamp)
}

func (h *WebSocketHandler) sendMessage(conn *safeConn, messageType string, data any) {
	message := ServerMessage{Type: messageType, Data: data}
	if err := conn.writeJSON(message); err != nil {
		h.logger.Warn("failed to send websocket message", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(conn *safeConn, errorMsg string) {
	h.sendMessage(conn, "error", map[string]any{
		"message":   errorMsg,
		"timestamp": time.Now().Unix(),
	})
}

func (h *WebSocketHandler) pingRoutine(conn *safeConn, ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-ticker.C:
			if err := conn.writePing(time.Now().Add(10 * time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
