package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emissions-network/submitx/pkg/utils"
)

// ErrInvalid wraps every validation failure so main can map it to an exit code.
var ErrInvalid = errors.New("invalid config")

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// RedisConfig configures the optional audit-record mirror stream.
// An empty Addr disables the mirror entirely.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
}

// Config captures the runtime configuration for submitd.
type Config struct {
	TopicID    uint64   `yaml:"topic_id"`
	WorkerAddr string   `yaml:"worker_addr"`
	Endpoints  []string `yaml:"endpoints"`

	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  Duration `yaml:"heartbeat_timeout"`
	MaxRetries        int      `yaml:"max_retries"`
	ConfirmTimeout    Duration `yaml:"confirm_timeout"`
	BlockTimeSeconds  int      `yaml:"block_time_seconds"`

	// EndpointDownAfter is the consecutive-failure count that marks an endpoint down.
	EndpointDownAfter int      `yaml:"endpoint_down_after"`
	QueryTimeout      Duration `yaml:"query_timeout"`

	AuditPath string `yaml:"audit_path"`
	LockPath  string `yaml:"lock_path"`

	ListenAddress string `yaml:"listen"`
	AdminToken    string `yaml:"admin_token"`
	JWTSecret     string `yaml:"jwt_secret"`
	PauseOnStart  bool   `yaml:"pause"`

	Redis RedisConfig `yaml:"redis"`
}

// Load reads configuration from the supplied path. An empty path builds the
// config purely from environment variables.
func Load(path string) (Config, error) {
	cfg := fromEnv()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w: %v", ErrInvalid, err)
		}
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	cfg.Endpoints = utils.Dedup(cfg.Endpoints)
	return cfg, nil
}

func fromEnv() Config {
	cfg := Config{
		TopicID:          utils.EnvUint64("TOPIC_ID", 0),
		WorkerAddr:       utils.Env("WORKER_ADDR", ""),
		MaxRetries:       utils.EnvInt("MAX_RETRIES", 0),
		BlockTimeSeconds: utils.EnvInt("BLOCK_TIME_SECONDS", 0),
		AuditPath:        utils.Env("AUDIT_PATH", ""),
		LockPath:         utils.Env("LOCK_PATH", ""),
		AdminToken:       utils.Env("ADMIN_TOKEN", ""),
		JWTSecret:        utils.Env("JWT_SECRET", ""),
		Redis: RedisConfig{
			Addr:   utils.Env("REDIS_ADDR", ""),
			Stream: utils.Env("REDIS_STREAM", ""),
		},
	}
	cfg.HeartbeatInterval.Duration = utils.EnvDuration("HEARTBEAT_INTERVAL", 0)
	cfg.ConfirmTimeout.Duration = utils.EnvDuration("CONFIRM_TIMEOUT", 0)
	cfg.QueryTimeout.Duration = utils.EnvDuration("QUERY_TIMEOUT", 0)
	if raw := utils.Env("RPC_ENDPOINTS", ""); raw != "" {
		for _, e := range strings.Split(raw, ",") {
			if e = strings.TrimSpace(e); e != "" {
				cfg.Endpoints = append(cfg.Endpoints, e)
			}
		}
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.HeartbeatInterval.Duration == 0 {
		cfg.HeartbeatInterval.Duration = 60 * time.Second
	}
	if cfg.HeartbeatTimeout.Duration == 0 {
		cfg.HeartbeatTimeout.Duration = 3 * cfg.HeartbeatInterval.Duration
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ConfirmTimeout.Duration == 0 {
		cfg.ConfirmTimeout.Duration = 120 * time.Second
	}
	if cfg.BlockTimeSeconds <= 0 {
		cfg.BlockTimeSeconds = 6
	}
	if cfg.EndpointDownAfter <= 0 {
		cfg.EndpointDownAfter = 3
	}
	if cfg.QueryTimeout.Duration == 0 {
		cfg.QueryTimeout.Duration = 15 * time.Second
	}
	if cfg.AuditPath == "" {
		cfg.AuditPath = "audit/submissions.csv"
	}
	if cfg.LockPath == "" {
		cfg.LockPath = "submitd.lock"
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = utils.Env("ADDR", ":3010")
	}
	if cfg.Redis.Stream == "" {
		cfg.Redis.Stream = "submitx:records"
	}
}

func validate(cfg Config) error {
	if cfg.TopicID == 0 {
		return fmt.Errorf("%w: topic_id must be configured", ErrInvalid)
	}
	if strings.TrimSpace(cfg.WorkerAddr) == "" {
		return fmt.Errorf("%w: worker_addr must be configured", ErrInvalid)
	}
	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("%w: at least one RPC endpoint must be configured", ErrInvalid)
	}
	if cfg.HeartbeatTimeout.Duration < cfg.HeartbeatInterval.Duration {
		return fmt.Errorf("%w: heartbeat_timeout must not be shorter than heartbeat_interval", ErrInvalid)
	}
	return nil
}
