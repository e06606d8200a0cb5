package server

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/seofernando25/catfish/internal/core/protocol"
	"github.com/seofernando25/catfish/internal/core/replication"
	"github.com/seofernando25/catfish/internal/game"
)

type Config struct {
	// ListenAddr serves /ws, /health and /metrics.
	ListenAddr string     `yaml:"listen_addr"`
	QUIC       QUICConfig `yaml:"quic"`

	MaxClients     int    `yaml:"max_clients"`
	MaxMessageSize int    `yaml:"max_message_size"`
	Token          string `yaml:"token"`
	// MoveRateLimit caps action_move, and separately action_catch, messages
	// per client per second.
	MoveRateLimit int `yaml:"move_rate_limit"`

	Tickrate         float64       `yaml:"tickrate"`
	TickSyncInterval time.Duration `yaml:"tick_sync_interval"`

	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	ClientTimeout       time.Duration `yaml:"client_timeout"`

	LogLevel    string            `yaml:"log_level"`
	Replication ReplicationConfig `yaml:"replication"`
	Game        game.Config       `yaml:"game"`
}

type QUICConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	// Without a certificate pair a self-signed one is generated at start.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type ReplicationConfig struct {
	BatchInterval    time.Duration `yaml:"batch_interval"`
	MaxBatch         int           `yaml:"max_batch"`
	MaxRetries       int           `yaml:"max_retries"`
	AckTimeout       time.Duration `yaml:"ack_timeout"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	RemoveRetryDelay time.Duration `yaml:"remove_retry_delay"`
}

func DefaultServerConfig() Config {
	return Config{
		ListenAddr: "127.0.0.1:8080",
		QUIC: QUICConfig{
			ListenAddr: "127.0.0.1:8443",
		},
		MaxClients:          1000,
		MaxMessageSize:      1 << 20,
		MoveRateLimit:       60,
		Tickrate:            20,
		TickSyncInterval:    5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		ClientTimeout:       5 * time.Minute,
		LogLevel:            "info",
		Replication: ReplicationConfig{
			BatchInterval:    replication.DefaultBatchInterval,
			MaxBatch:         replication.DefaultMaxBatch,
			MaxRetries:       replication.DefaultMaxRetries,
			AckTimeout:       replication.DefaultAckTimeout,
			RetryDelay:       replication.DefaultRetryDelay,
			RemoveRetryDelay: replication.DefaultRemoveDelay,
		},
		Game: game.DefaultConfig(),
	}
}

// LoadConfig reads a yaml file over the defaults.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()
	return ParseConfig(f)
}

// ParseConfig decodes yaml over the defaults, so a partial document only
// overrides what it names.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultServerConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return errors.Wrap(ErrInvalidConfig, "listen_addr is required")
	case c.QUIC.Enabled && c.QUIC.ListenAddr == "":
		return errors.Wrap(ErrInvalidConfig, "quic.listen_addr is required when quic is enabled")
	case (c.QUIC.CertFile == "") != (c.QUIC.KeyFile == ""):
		return errors.Wrap(ErrInvalidConfig, "quic cert_file and key_file go together")
	case c.Tickrate <= 0:
		return errors.Wrap(ErrInvalidConfig, "tickrate must be positive")
	case c.TickSyncInterval <= 0:
		return errors.Wrap(ErrInvalidConfig, "tick_sync_interval must be positive")
	case c.Game.WorldSize <= 0 || c.Game.ChunkSize <= 0:
		return errors.Wrap(ErrInvalidConfig, "game world_size and chunk_size must be positive")
	}
	return nil
}

// outboxRetry maps the replication section onto per-event retry options.
func (c ReplicationConfig) outboxRetry() map[string]replication.Options {
	base := replication.Options{
		MaxRetries: c.MaxRetries,
		AckTimeout: c.AckTimeout,
		RetryDelay: c.RetryDelay,
	}
	remove := base
	remove.RetryDelay = c.RemoveRetryDelay
	return map[string]replication.Options{
		protocol.EventAddEntity:    base,
		protocol.EventUpdateEntity: base,
		protocol.EventRemoveEntity: remove,
	}
}
