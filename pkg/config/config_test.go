package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(name string) string { return vars[name] }
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	s, err := Load("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
	assert.Equal(t, "127.0.0.1:8000", s.Addr())
	assert.Equal(t, ".", s.EvalStorageDir())
	require.NoError(t, s.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: 0.0.0.0
port: 9000
agents_dir: /srv/agents
allow_origins:
  - http://localhost:3000
heartbeat_interval: 5s
max_spans: 1000
`), 0o644))

	s, err := Load(path, env(map[string]string{
		"SERVER_PORT":   "9100",
		"ALLOW_ORIGINS": "https://a.example, https://b.example,",
		"EVAL_DIR":      "/srv/evals",
	}))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", s.Host)
	assert.Equal(t, 9100, s.Port)
	assert.Equal(t, "/srv/agents", s.AgentsDir)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, s.AllowOrigins)
	assert.Equal(t, 5*time.Second, s.HeartbeatInterval)
	assert.Equal(t, 1000, s.MaxSpans)
	assert.Equal(t, "/srv/evals", s.EvalStorageDir())
	assert.Equal(t, DefaultShutdownTimeout, s.ShutdownTimeout)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	require.Error(t, err)

	_, err = Load("", env(map[string]string{"SERVER_PORT": "http", "RELOAD_AGENTS": "maybe"}))
	require.ErrorContains(t, err, "SERVER_PORT")
	require.ErrorContains(t, err, "RELOAD_AGENTS")
}

func TestSettings_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Settings)
		want   string
	}{
		{name: "port", modify: func(s *Settings) { s.Port = 70000 }, want: "port"},
		{name: "heartbeat", modify: func(s *Settings) { s.HeartbeatInterval = 0 }, want: "heartbeat"},
		{name: "spans", modify: func(s *Settings) { s.MaxSpans = -1 }, want: "max spans"},
		{name: "agents dir", modify: func(s *Settings) { s.AgentsDir = "" }, want: "agents directory"},
		{name: "log format", modify: func(s *Settings) { s.LogFormat = "xml" }, want: "log format"},
		{name: "log size", modify: func(s *Settings) { s.LogMaxSize = "lots" }, want: "log max size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := Default()
			tt.modify(s)
			require.ErrorContains(t, s.Validate(), tt.want)
		})
	}
}

func TestSettings_LogMaxBytes(t *testing.T) {
	t.Parallel()

	s := Default()
	n, err := s.LogMaxBytes()
	require.NoError(t, err)
	assert.Zero(t, n)

	s.LogMaxSize = "5MB"
	n, err = s.LogMaxBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(5*1024*1024), n)
}

func TestSettings_AddrPrefersListen(t *testing.T) {
	t.Parallel()

	s := Default()
	s.Listen = "unix:///tmp/gateway.sock"
	s.Port = -1
	assert.Equal(t, "unix:///tmp/gateway.sock", s.Addr())
	require.NoError(t, s.Validate())
}
