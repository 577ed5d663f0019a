package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.Equal(t, AdmissionWait, cfg.AdmissionPolicy)
	assert.Equal(t, 10*time.Second, cfg.AdmissionDeadline)
	assert.Equal(t, 64, cfg.QueueDepth)
	assert.Equal(t, 16, cfg.MailboxDepth)
	assert.Equal(t, 3*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.CommandDeadline)
	assert.Equal(t, 5*time.Minute, cfg.ArtifactTTL)
	assert.Equal(t, LauncherLocal, cfg.Launcher)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WEBPILOT_ADDR", ":9999")
	t.Setenv("WEBPILOT_POOL_SIZE", "2")
	t.Setenv("WEBPILOT_ADMISSION_POLICY", "fail")
	t.Setenv("WEBPILOT_SESSION_IDLE_TIMEOUT", "45s")
	t.Setenv("WEBPILOT_LAUNCHER", "docker")
	t.Setenv("WEBPILOT_DOCKER_IMAGE", "chromedp/headless-shell:latest")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, 2, cfg.PoolSize)
	assert.Equal(t, AdmissionFail, cfg.AdmissionPolicy)
	assert.Equal(t, 45*time.Second, cfg.SessionIdleTimeout)
	assert.Equal(t, LauncherDocker, cfg.Launcher)
	assert.Equal(t, "chromedp/headless-shell:latest", cfg.DockerImage)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"zero pool", "WEBPILOT_POOL_SIZE", "0"},
		{"negative queue", "WEBPILOT_QUEUE_DEPTH", "-1"},
		{"bad policy", "WEBPILOT_ADMISSION_POLICY", "maybe"},
		{"bad launcher", "WEBPILOT_LAUNCHER", "kubernetes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadIgnoresUnparseableNumbers(t *testing.T) {
	t.Setenv("WEBPILOT_POOL_SIZE", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.PoolSize)
}
