// Package config holds the settings of the gateway process. Values come from
// defaults, then an optional YAML file, then the environment. Command line
// flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/goccy/go-yaml"
)

const (
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 8000
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
)

// Settings configures the gateway.
type Settings struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
	// Listen overrides Host and Port with a full address such as
	// unix:///run/gateway.sock or fd://3.
	Listen string `yaml:"listen,omitempty"`

	AppTitle       string `yaml:"app_title,omitempty"`
	AppDescription string `yaml:"app_description,omitempty"`

	AgentsDir    string   `yaml:"agents_dir,omitempty"`
	ReloadAgents bool     `yaml:"reload_agents,omitempty"`
	AllowOrigins []string `yaml:"allow_origins,omitempty"`

	// SessionDB is the SQLite file for sessions. Empty keeps sessions in memory.
	SessionDB string `yaml:"session_db,omitempty"`
	// ArtifactDir stores artifacts on disk. Empty keeps them in memory.
	ArtifactDir string `yaml:"artifact_dir,omitempty"`
	// EvalDir stores eval sets and results. Empty means AgentsDir.
	EvalDir         string `yaml:"eval_dir,omitempty"`
	EvalConcurrency int    `yaml:"eval_concurrency,omitempty"`

	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	// MaxSpans bounds the trace store. Zero keeps every span.
	MaxSpans int `yaml:"max_spans,omitempty"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout,omitempty"`

	Debug     bool   `yaml:"debug,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"`
	LogFile   string `yaml:"log_file,omitempty"`
	// LogMaxSize is the size at which the log file rotates, such as "10MB".
	LogMaxSize string `yaml:"log_max_size,omitempty"`
}

// Default returns the settings used when nothing is configured.
func Default() *Settings {
	return &Settings{
		Host:              DefaultHost,
		Port:              DefaultPort,
		AgentsDir:         ".",
		HeartbeatInterval: DefaultHeartbeatInterval,
		ShutdownTimeout:   DefaultShutdownTimeout,
	}
}

// Load reads the settings file at path, if any, over the defaults and then
// applies the environment read through getenv.
func Load(path string, getenv func(string) string) (*Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading settings: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parsing settings %s: %w", path, err)
		}
	}

	if err := s.applyEnv(getenv); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"SERVER_HOST":                 &s.Host,
		"SERVER_LISTEN":               &s.Listen,
		"AGENTS_DIR":                  &s.AgentsDir,
		"SESSION_DB":                  &s.SessionDB,
		"ARTIFACT_DIR":                &s.ArtifactDir,
		"EVAL_DIR":                    &s.EvalDir,
		"OTEL_EXPORTER_OTLP_ENDPOINT": &s.OTLPEndpoint,
		"LOG_FORMAT":                  &s.LogFormat,
		"LOG_FILE":                    &s.LogFile,
		"LOG_MAX_SIZE":                &s.LogMaxSize,
	}
	for name, dst := range strs {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	var errs []error
	if v := getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SERVER_PORT: %w", err))
		}
		s.Port = port
	}
	if v := getenv("ALLOW_ORIGINS"); v != "" {
		s.AllowOrigins = SplitList(v)
	}
	if v := getenv("RELOAD_AGENTS"); v != "" {
		reload, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RELOAD_AGENTS: %w", err))
		}
		s.ReloadAgents = reload
	}
	if v := getenv("HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HEARTBEAT_INTERVAL: %w", err))
		}
		s.HeartbeatInterval = d
	}
	return errors.Join(errs...)
}

// Validate reports settings the gateway cannot start with.
func (s *Settings) Validate() error {
	var errs []error
	if s.Listen == "" && (s.Port < 0 || s.Port > 65535) {
		errs = append(errs, fmt.Errorf("port %d out of range", s.Port))
	}
	if s.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat interval must be positive, got %s", s.HeartbeatInterval))
	}
	if s.MaxSpans < 0 {
		errs = append(errs, fmt.Errorf("max spans must not be negative, got %d", s.MaxSpans))
	}
	if s.AgentsDir == "" {
		errs = append(errs, errors.New("agents directory is required"))
	}
	if _, err := s.LogMaxBytes(); err != nil {
		errs = append(errs, err)
	}
	switch s.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", s.LogFormat))
	}
	return errors.Join(errs...)
}

// Addr returns the address to listen on.
func (s *Settings) Addr() string {
	if s.Listen != "" {
		return s.Listen
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LogMaxBytes parses LogMaxSize. Zero means the default size.
func (s *Settings) LogMaxBytes() (int64, error) {
	if s.LogMaxSize == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s.LogMaxSize)
	if err != nil {
		return 0, fmt.Errorf("log max size: %w", err)
	}
	return n, nil
}

// EvalStorageDir returns where eval sets and results are kept.
func (s *Settings) EvalStorageDir() string {
	if s.EvalDir != "" {
		return s.EvalDir
	}
	return s.AgentsDir
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for item := range strings.SplitSeq(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
