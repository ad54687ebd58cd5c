package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Pose     PoseConfig     `json:"pose"`
	Exercise ExerciseConfig `json:"exercise"`
	Voice    VoiceConfig    `json:"voice"`
	Security SecurityConfig `json:"security"`
	Sessions SessionsConfig `json:"sessions"`
	Logging  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

type PoseConfig struct {
	// ServiceURL points at the external pose-estimation service. Empty
	// disables the image path; clients must then send keypoints directly.
	ServiceURL      string  `json:"service_url"`
	SmoothingWindow int     `json:"smoothing_window"`
	MinConfidence   float64 `json:"min_confidence"`
}

type ExerciseConfig struct {
	ConfirmFrames        int     `json:"confirm_frames"`
	SquatLowAngle        float64 `json:"squat_low_angle"`
	SquatHighAngle       float64 `json:"squat_high_angle"`
	RotationThresholdDeg float64 `json:"rotation_threshold_deg"`
}

type VoiceConfig struct {
	Enabled          bool          `json:"enabled"`
	TTSBinary        string        `json:"tts_binary"`
	Cooldown         time.Duration `json:"cooldown"`
	UtteranceTimeout time.Duration `json:"utterance_timeout"`
	ShutdownTimeout  time.Duration `json:"shutdown_timeout"`
}

type SecurityConfig struct {
	AllowedOrigins []string      `json:"allowed_origins"`
	RateLimitRPS   int           `json:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst"`
	MaxRequestSize int64         `json:"max_request_size"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

type SessionsConfig struct {
	MaxSessions int           `json:"max_sessions"`
	IdleTTL     time.Duration `json:"idle_ttl"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Pose: PoseConfig{
			ServiceURL:      getEnv("POSE_SERVICE_URL", "http://localhost:5000"),
			SmoothingWindow: getEnvAsInt("POSE_SMOOTHING_WINDOW", 4),
			MinConfidence:   getEnvAsFloat("POSE_MIN_CONFIDENCE", 0.2),
		},
		Exercise: ExerciseConfig{
			ConfirmFrames:        getEnvAsInt("EXERCISE_CONFIRM_FRAMES", 3),
			SquatLowAngle:        getEnvAsFloat("EXERCISE_SQUAT_LOW_ANGLE", 100),
			SquatHighAngle:       getEnvAsFloat("EXERCISE_SQUAT_HIGH_ANGLE", 160),
			RotationThresholdDeg: getEnvAsFloat("EXERCISE_ROTATION_THRESHOLD", 300),
		},
		Voice: VoiceConfig{
			Enabled:          getEnvAsBool("VOICE_ENABLED", true),
			TTSBinary:        getEnv("VOICE_TTS_BINARY", ""),
			Cooldown:         getEnvAsDuration("VOICE_COOLDOWN", 5*time.Second),
			UtteranceTimeout: getEnvAsDuration("VOICE_UTTERANCE_TIMEOUT", 10*time.Second),
			ShutdownTimeout:  getEnvAsDuration("VOICE_SHUTDOWN_TIMEOUT", 3*time.Second),
		},
		Security: SecurityConfig{
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 100),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 200),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 10*1024*1024), // 10MB
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Sessions: SessionsConfig{
			MaxSessions: getEnvAsInt("SESSIONS_MAX", 100),
			IdleTTL:     getEnvAsDuration("SESSIONS_IDLE_TTL", 10*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// ValidateConfig rejects misconfiguration before anything is wired; a bad
// threshold pair must never reach the frame loop.
func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.Pose.SmoothingWindow < 1 || c.Pose.SmoothingWindow > 30 {
		errors = append(errors, "smoothing window must be between 1 and 30 frames")
	}

	if c.Pose.MinConfidence < 0 || c.Pose.MinConfidence > 1 {
		errors = append(errors, "min confidence must be in [0,1]")
	}

	if c.Exercise.ConfirmFrames < 1 {
		errors = append(errors, "confirm frames must be at least 1")
	}

	if c.Exercise.SquatLowAngle >= c.Exercise.SquatHighAngle {
		errors = append(errors, "squat low angle must be below squat high angle")
	}

	if c.Exercise.RotationThresholdDeg <= 0 {
		errors = append(errors, "rotation threshold must be positive")
	}

	if c.Voice.Cooldown < 0 {
		errors = append(errors, "voice cooldown must not be negative")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if c.Sessions.MaxSessions < 1 {
		errors = append(errors, "max sessions must be at least 1")
	}

	if c.Pose.ServiceURL == "" {
		logger.Warn("pose service URL not set, image frames will be rejected")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
