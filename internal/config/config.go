package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Launcher backends for browser workers.
const (
	LauncherLocal  = "local"
	LauncherDocker = "docker"
)

// Admission policies for the worker pool.
const (
	AdmissionWait = "wait"
	AdmissionFail = "fail"
)

// Config is the environment-driven configuration surface. main loads .env
// first (godotenv), so every value can come from either source.
type Config struct {
	Addr string

	PoolSize          int
	AdmissionPolicy   string
	AdmissionDeadline time.Duration

	QueueDepth   int
	MailboxDepth int

	SessionIdleTimeout time.Duration
	CommandDeadline    time.Duration

	ArtifactTTL   time.Duration
	SweepInterval time.Duration

	Launcher    string
	BrowserPath string
	DockerImage string

	RateLimitPerHour int
	RateBurst        int
}

// Load reads WEBPILOT_* environment variables, applying defaults and
// validating ranges.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:               getString("WEBPILOT_ADDR", ":8080"),
		PoolSize:           getInt("WEBPILOT_POOL_SIZE", 4),
		AdmissionPolicy:    getString("WEBPILOT_ADMISSION_POLICY", AdmissionWait),
		AdmissionDeadline:  getDuration("WEBPILOT_ADMISSION_DEADLINE", 10*time.Second),
		QueueDepth:         getInt("WEBPILOT_QUEUE_DEPTH", 64),
		MailboxDepth:       getInt("WEBPILOT_MAILBOX_DEPTH", 16),
		SessionIdleTimeout: getDuration("WEBPILOT_SESSION_IDLE_TIMEOUT", 3*time.Minute),
		CommandDeadline:    getDuration("WEBPILOT_COMMAND_DEADLINE", 30*time.Second),
		ArtifactTTL:        getDuration("WEBPILOT_ARTIFACT_TTL", 5*time.Minute),
		SweepInterval:      getDuration("WEBPILOT_SWEEP_INTERVAL", 30*time.Second),
		Launcher:           getString("WEBPILOT_LAUNCHER", LauncherLocal),
		BrowserPath:        getString("WEBPILOT_BROWSER_PATH", ""),
		DockerImage:        getString("WEBPILOT_DOCKER_IMAGE", "browserless/chrome:latest"),
		RateLimitPerHour:   getInt("WEBPILOT_RATE_LIMIT_PER_HOUR", 100),
		RateBurst:          getInt("WEBPILOT_RATE_BURST", 10),
	}

	if cfg.PoolSize < 1 {
		return nil, fmt.Errorf("WEBPILOT_POOL_SIZE must be at least 1, got %d", cfg.PoolSize)
	}
	if cfg.QueueDepth < 1 {
		return nil, fmt.Errorf("WEBPILOT_QUEUE_DEPTH must be at least 1, got %d", cfg.QueueDepth)
	}
	if cfg.MailboxDepth < 1 {
		return nil, fmt.Errorf("WEBPILOT_MAILBOX_DEPTH must be at least 1, got %d", cfg.MailboxDepth)
	}
	if cfg.AdmissionPolicy != AdmissionWait && cfg.AdmissionPolicy != AdmissionFail {
		return nil, fmt.Errorf("WEBPILOT_ADMISSION_POLICY must be %q or %q, got %q",
			AdmissionWait, AdmissionFail, cfg.AdmissionPolicy)
	}
	if cfg.Launcher != LauncherLocal && cfg.Launcher != LauncherDocker {
		return nil, fmt.Errorf("WEBPILOT_LAUNCHER must be %q or %q, got %q",
			LauncherLocal, LauncherDocker, cfg.Launcher)
	}
	if cfg.SessionIdleTimeout <= 0 || cfg.CommandDeadline <= 0 || cfg.ArtifactTTL <= 0 {
		return nil, fmt.Errorf("timeouts must be positive")
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
