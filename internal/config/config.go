// Package config provides environment configuration for the sync client.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Event-stream endpoint and credential; both must be present before the
	// connection is opened.
	SocketURL string
	AuthToken string

	// Transport selects the wire: "ws" or "nats".
	Transport string

	// WebSocket transport settings
	WSWriteWait      time.Duration
	WSPongWait       time.Duration
	WSPingPeriod     time.Duration
	WSReconnectWait  time.Duration
	WSMaxMessageSize int64

	// NATS transport settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Debug server
	DebugPort         string
	DebugReadTimeout  time.Duration
	DebugWriteTimeout time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Connection
		SocketURL: getEnv("SOCKET_URL", "ws://localhost:8000/socket"),
		AuthToken: getEnv("AUTH_TOKEN", ""),
		Transport: getEnv("TRANSPORT", "ws"),

		// WebSocket
		WSWriteWait:      getDurationEnv("WS_WRITE_WAIT", 10*time.Second),
		WSPongWait:       getDurationEnv("WS_PONG_WAIT", 60*time.Second),
		WSPingPeriod:     getDurationEnv("WS_PING_PERIOD", 54*time.Second),
		WSReconnectWait:  getDurationEnv("WS_RECONNECT_WAIT", 2*time.Second),
		WSMaxMessageSize: int64(getIntEnv("WS_MAX_MESSAGE_SIZE", 1<<20)),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Debug server
		DebugPort:         getEnv("DEBUG_PORT", "8081"),
		DebugReadTimeout:  getDurationEnv("DEBUG_READ_TIMEOUT", 10*time.Second),
		DebugWriteTimeout: getDurationEnv("DEBUG_WRITE_TIMEOUT", 30*time.Second),
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
