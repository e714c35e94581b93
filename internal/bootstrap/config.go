package bootstrap

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	// TransportURL is the shared streaming endpoint every session's
	// audio and control traffic flows through.
	TransportURL    string
	AckTimeout      time.Duration
	AudioBufferSize int
	ReconnectDelay  time.Duration

	// SchemaPath optionally overlays the builtin provider defaults,
	// mirroring config/defaults.json in the reference deployments.
	SchemaPath string

	// CapturePath is the byte stream standing in for the microphone: a
	// FIFO fed by an audio tool, or a recorded file.
	CapturePath     string
	CaptureInterval time.Duration
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		TransportURL:    getEnv("TRANSPORT_URL", "ws://localhost:8001/stream"),
		AckTimeout:      getEnvDuration("ACK_TIMEOUT_MS", 2000) * time.Millisecond,
		AudioBufferSize: getEnvInt("AUDIO_BUFFER_SIZE", 64),
		ReconnectDelay:  getEnvDuration("RECONNECT_DELAY_MS", 1000) * time.Millisecond,

		SchemaPath: getEnv("SCHEMA_PATH", "config/defaults.json"),

		CapturePath:     getEnv("CAPTURE_PATH", "/dev/stdin"),
		CaptureInterval: getEnvDuration("CAPTURE_INTERVAL_MS", 1000) * time.Millisecond,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs))
}
