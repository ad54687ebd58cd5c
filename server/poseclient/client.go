package poseclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/san-kum/physio-cv/server/models"
	"go.uber.org/zap"
)

// Client talks to the external pose-estimation service over HTTP. The model
// itself is out of scope here: this is strictly the interface boundary that
// turns an encoded frame image into a keypoint list.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	config     *ClientConfig
}

type ClientConfig struct {
	Timeout             time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	HealthCheckInterval time.Duration
}

type estimateRequest struct {
	ImageData []byte `json:"image_data"`
	Timestamp int64  `json:"timestamp"`
}

type keypointPayload struct {
	Name       string  `json:"name"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

type estimateResponse struct {
	Keypoints      []keypointPayload `json:"keypoints"`
	ProcessingTime float64           `json:"processing_time"`
	ModelVersion   string            `json:"model_version"`
}

func NewClient(baseURL string, logger *zap.Logger) (*Client, error) {
	config := &ClientConfig{
		Timeout:             10 * time.Second,
		MaxRetries:          3,
		RetryDelay:          500 * time.Millisecond,
		HealthCheckInterval: 30 * time.Second,
	}

	client := &Client{
		baseURL: baseURL,
		logger:  logger,
		config:  config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: true,
			},
		},
	}

	if err := client.HealthCheck(); err != nil {
		logger.Warn("pose service not available at startup", zap.Error(err))
	}

	go client.startHealthChecker()

	return client, nil
}

// EstimateFrame sends one encoded image to the pose service and returns the
// keypoint frame, retrying transient failures with linear backoff.
func (c *Client) EstimateFrame(imageData []byte, timestamp int64) (models.Frame, error) {
	request := &estimateRequest{ImageData: imageData, Timestamp: timestamp}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying pose estimation request",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			time.Sleep(c.config.RetryDelay * time.Duration(attempt))
		}

		frame, err := c.executeEstimateRequest(request)
		if err == nil {
			return frame, nil
		}
		lastErr = err
	}

	return models.Frame{}, fmt.Errorf("pose estimation failed after %d attempts: %w",
		c.config.MaxRetries, lastErr)
}

func (c *Client) executeEstimateRequest(request *estimateRequest) (models.Frame, error) {
	requestData, err := json.Marshal(request)
	if err != nil {
		return models.Frame{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/estimate", c.baseURL)
	httpRequest, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(requestData))
	if err != nil {
		return models.Frame{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("User-Agent", "physio-cv/1.0")

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return models.Frame{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(response.Body)
		return models.Frame{}, fmt.Errorf("pose service error (status %d): %s",
			response.StatusCode, string(bodyBytes))
	}

	var poseResponse estimateResponse
	if err := json.NewDecoder(response.Body).Decode(&poseResponse); err != nil {
		return models.Frame{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return c.convertResponse(&poseResponse, request.Timestamp)
}

func (c *Client) convertResponse(resp *estimateResponse, timestamp int64) (models.Frame, error) {
	frame := models.Frame{Timestamp: timestamp}
	seen := 0

	for _, kp := range resp.Keypoints {
		joint, ok := models.ParseJoint(kp.Name)
		if !ok {
			c.logger.Debug("ignoring unknown keypoint", zap.String("name", kp.Name))
			continue
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
		return models.Frame{}, fmt.Errorf("pose service returned no usable keypoints")
	}
	return frame, nil
}

func (c *Client) HealthCheck() error {
	url := fmt.Sprintf("%s/health", c.baseURL)

	response, err := c.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("pose service unhealthy (status %d)", response.StatusCode)
	}

	return nil
}

func (c *Client) startHealthChecker() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := c.HealthCheck(); err != nil {
			c.logger.Error("pose service health check failed", zap.Error(err))
		} else {
			c.logger.Debug("pose service health check passed")
		}
	}
}
