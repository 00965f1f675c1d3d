package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "submitd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
topic_id: 7
worker_addr: worker1
endpoints:
  - http://a
  - http://b
  - http://a
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cfg.TopicID)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Endpoints, "endpoints are deduplicated")
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval.Duration)
	assert.Equal(t, 180*time.Second, cfg.HeartbeatTimeout.Duration)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 120*time.Second, cfg.ConfirmTimeout.Duration)
	assert.Equal(t, 6, cfg.BlockTimeSeconds)
	assert.Equal(t, 3, cfg.EndpointDownAfter)
	assert.Equal(t, "audit/submissions.csv", cfg.AuditPath)
	assert.Equal(t, "submitd.lock", cfg.LockPath)
	assert.Equal(t, ":3010", cfg.ListenAddress)
	assert.Equal(t, "submitx:records", cfg.Redis.Stream)
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
topic_id: 7
worker_addr: worker1
endpoints: ["http://a"]
heartbeat_interval: 30s
confirm_timeout: 2m
query_timeout: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval.Duration)
	assert.Equal(t, 90*time.Second, cfg.HeartbeatTimeout.Duration, "timeout defaults to three intervals")
	assert.Equal(t, 2*time.Minute, cfg.ConfirmTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.QueryTimeout.Duration)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing topic", "worker_addr: worker1\nendpoints: [\"http://a\"]\n"},
		{"missing worker", "topic_id: 7\nendpoints: [\"http://a\"]\n"},
		{"no endpoints", "topic_id: 7\nworker_addr: worker1\n"},
		{"timeout below interval", "topic_id: 7\nworker_addr: worker1\nendpoints: [\"http://a\"]\nheartbeat_interval: 60s\nheartbeat_timeout: 30s\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "topic_id: [not a scalar\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TOPIC_ID", "9")
	t.Setenv("WORKER_ADDR", "worker2")
	t.Setenv("RPC_ENDPOINTS", "http://a, http://b")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), cfg.TopicID)
	assert.Equal(t, "worker2", cfg.WorkerAddr)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Endpoints)
}

func TestFileOverridesEnv(t *testing.T) {
	t.Setenv("TOPIC_ID", "9")
	t.Setenv("WORKER_ADDR", "env-worker")

	path := writeConfig(t, `
worker_addr: file-worker
endpoints: ["http://a"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), cfg.TopicID, "env survives when the file is silent")
	assert.Equal(t, "file-worker", cfg.WorkerAddr)
}
