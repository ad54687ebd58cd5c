package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/san-kum/physio-cv/server/config"
	"github.com/san-kum/physio-cv/server/exercise"
	"github.com/san-kum/physio-cv/server/models"
	"github.com/san-kum/physio-cv/server/poseclient"
	"github.com/san-kum/physio-cv/server/sessions"
	"go.uber.org/zap"
)

// SessionHandler exposes the session lifecycle and the per-frame analysis
// over REST. Frames arrive either as ready-made keypoints from an in-browser
// pose model, or as an encoded image forwarded to the pose service.
type SessionHandler struct {
	registry   *sessions.Registry
	poseClient *poseclient.Client
	announcer  exercise.Announcer
	cfg        *config.Config
	logger     *zap.Logger

	// statsMu guards stats; gin serves handlers concurrently.
	statsMu sync.Mutex
	stats   SystemStats
}

type SystemStats struct {
	TotalFrames    int64     `json:"total_frames"`
	ProcessedOK    int64     `json:"processed_ok"`
	ProcessedError int64     `json:"processed_error"`
	AvgProcessTime float64   `json:"avg_process_time_ms"`
	StartTime      time.Time `json:"start_time"`
}

type CreateSessionRequest struct {
	Exercise string `json:"exercise" binding:"required"`
}

type KeypointPayload struct {
	Name       string  `json:"name" binding:"required"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

type FramePayload struct {
	Keypoints []KeypointPayload `json:"keypoints"`
	ImageData string            `json:"image_data"`
	Timestamp int64             `json:"timestamp" binding:"required"`
}

func NewSessionHandler(registry *sessions.Registry, poseClient *poseclient.Client, announcer exercise.Announcer, cfg *config.Config, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		registry:   registry,
		poseClient: poseClient,
		announcer:  announcer,
		cfg:        cfg,
		logger:     logger,
		stats:      SystemStats{StartTime: time.Now()},
	}
}

// CreateSession builds a session for the requested exercise kind. Unknown
// kinds are rejected here; no partial state machine is ever registered.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var request CreateSessionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid request format")
		return
	}

	kind, err := models.ParseExerciseKind(request.Exercise)
	if err != nil {
		respondError(c, http.StatusBadRequest, "unknown_exercise", err.Error())
		return
	}

	session, err := exercise.NewSession(uuid.NewString(), kind, h.sessionConfig(), h.announcer, h.logger)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		respondError(c, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}

	h.registry.Put(session)
	h.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("exercise", string(kind)))

	c.JSON(http.StatusCreated, models.APIResponse{Success: true, Data: session.Snapshot()})
}

func (h *SessionHandler) sessionConfig() exercise.Config {
	return exercise.Config{
		ConfirmFrames:        h.cfg.Exercise.ConfirmFrames,
		SmoothingWindow:      h.cfg.Pose.SmoothingWindow,
		MinConfidence:        h.cfg.Pose.MinConfidence,
		SquatLowAngle:        h.cfg.Exercise.SquatLowAngle,
		SquatHighAngle:       h.cfg.Exercise.SquatHighAngle,
		RotationThresholdDeg: h.cfg.Exercise.RotationThresholdDeg,
	}
}

// Command dispatches the control verbs: start, pause, resume, stop and
// calibrate.
func (h *SessionHandler) Command(c *gin.Context) {
	id := c.Param("id")
	command := c.Param("command")

	var result any
	err := h.registry.With(id, func(s *exercise.Session) error {
		switch command {
		case "start":
			return s.Start()
		case "pause":
			return s.Pause()
		case "resume":
			return s.Resume()
		case "stop":
			return s.Stop()
		case "calibrate":
			record, err := s.Calibrate()
			result = record
			return err
		default:
			return fmt.Errorf("unknown command %q", command)
		}
	})

	if err != nil {
		h.respondSessionError(c, id, err)
		return
	}

	if result == nil {
		result = gin.H{"status": "ok"}
	}
	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: result})
}

// ProcessFrame runs one frame through the analysis pipeline and returns the
// per-frame result record.
func (h *SessionHandler) ProcessFrame(c *gin.Context) {
	startTime := time.Now()
	h.noteFrame()

	var payload FramePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.noteError()
		respondError(c, http.StatusBadRequest, "invalid_request", "Invalid frame format")
		return
	}

	frame, err := h.frameFromPayload(&payload)
	if err != nil {
		h.noteError()
		respondError(c, http.StatusBadRequest, "invalid_frame", err.Error())
		return
	}

	var result models.FrameResult
	err = h.registry.With(c.Param("id"), func(s *exercise.Session) error {
		var perr error
		result, perr = s.ProcessFrame(frame)
		return perr
	})
	if err != nil {
		h.noteError()
		h.respondSessionError(c, c.Param("id"), err)
		return
	}

	h.noteSuccess(time.Since(startTime))

	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: result})
}

// GetSession returns a read-only snapshot.
func (h *SessionHandler) GetSession(c *gin.Context) {
	id := c.Param("id")

	var snapshot exercise.Snapshot
	err := h.registry.With(id, func(s *exercise.Session) error {
		snapshot = s.Snapshot()
		return nil
	})
	if err != nil {
		h.respondSessionError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: snapshot})
}

func (h *SessionHandler) DeleteSession(c *gin.Context) {
	h.registry.Remove(c.Param("id"))
	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: gin.H{"status": "removed"}})
}

func (h *SessionHandler) GetStats(c *gin.Context) {
	stats := h.statsSnapshot()

	var successRate float64
	if stats.TotalFrames > 0 {
		successRate = float64(stats.ProcessedOK) / float64(stats.TotalFrames) * 100
	}

	c.JSON(http.StatusOK, gin.H{
		"system":   stats,
		"sessions": h.registry.Stats(),
		"metrics": gin.H{
			"success_rate":   successRate,
			"uptime_seconds": time.Since(stats.StartTime).Seconds(),
		},
	})
}

// frameFromPayload prefers inline keypoints and falls back to sending the
// encoded image through the pose service.
func (h *SessionHandler) frameFromPayload(payload *FramePayload) (models.Frame, error) {
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

func frameFromKeypoints(payload []KeypointPayload, timestamp int64) (models.Frame, error) {
	frame := models.Frame{Timestamp: timestamp}
	seen := 0
	for _, kp := range payload {
		joint, ok := models.ParseJoint(kp.Name)
		if !ok {
			return models.Frame{}, fmt.Errorf("unknown keypoint %q", kp.Name)
		}
		frame.Keypoints[joint] = models.Keypoint{
			Joint:      joint,
			X:          kp.X,
			Y:          kp.Y,
			Confidence: kp.Confidence,
		}
		seen++
	}
	if seen == 0 {
		return models.Frame{}, fmt.Errorf("empty keypoint list")
	}
	return frame, nil
}

func extractImageData(dataURL string) ([]byte, error) {
	if !strings.Contains(dataURL, ",") {
		return nil, fmt.Errorf("invalid data URL format")
	}

	parts := strings.SplitN(dataURL, ",", 2)
	imageData, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, err
	}
	return imageData, nil
}

func (h *SessionHandler) respondSessionError(c *gin.Context, id string, err error) {
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", "Session not found")
	case errors.Is(err, exercise.ErrSessionNotActive):
		respondError(c, http.StatusConflict, "not_active", err.Error())
	default:
		h.logger.Warn("session operation failed",
			zap.String("session_id", id),
			zap.Error(err))
		respondError(c, http.StatusBadRequest, "operation_failed", err.Error())
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.APIResponse{
		Success: false,
		Error:   &models.APIError{Code: code, Message: message},
	})
}

func (h *SessionHandler) noteFrame() {
	h.statsMu.Lock()
	h.stats.TotalFrames++
	h.statsMu.Unlock()
}

func (h *SessionHandler) noteError() {
	h.statsMu.Lock()
	h.stats.ProcessedError++
	h.statsMu.Unlock()
}

func (h *SessionHandler) noteSuccess(duration time.Duration) {
	currentTime := float64(duration.Microseconds()) / 1000.0

	h.statsMu.Lock()
	defer h.statsMu.Unlock()

	h.stats.ProcessedOK++
	if h.stats.AvgProcessTime == 0 {
		h.stats.AvgProcessTime = currentTime
	} else {
		alpha := 0.1
		h.stats.AvgProcessTime = alpha*currentTime + (1-alpha)*h.stats.AvgProcessTime
	}
}

func (h *SessionHandler) statsSnapshot() SystemStats {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return h.stats
}
