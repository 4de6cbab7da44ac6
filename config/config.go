package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Rotation RotationConfig
	Backends BackendsConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	SocketPath     string
	MaxConnections int
	BufferSize     int
}

type StorageConfig struct {
	OutputDirectory string
	MaxFileSize     int64 // rotation threshold in bytes
}

type RotationConfig struct {
	Enabled     bool
	Schedule    string // cron expression with seconds field
	MaxAgeHours int
	KeepFiles   int
}

type BackendsConfig struct {
	File     FileBackendConfig
	Syslog   SyslogBackendConfig
	Journald JournaldBackendConfig
	Kafka    KafkaBackendConfig
}

type FileBackendConfig struct {
	Enabled bool
	Format  string // "json" or "human"
}

type SyslogBackendConfig struct {
	Enabled  bool
	Facility string
	Server   string // empty means the local syslog daemon
}

type JournaldBackendConfig struct {
	Enabled          bool
	SyslogIdentifier string
}

type KafkaBackendConfig struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	BatchSize    int
	MaxBatchWait time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Port    string
	Path    string
}

func NewConfig() (*Config, error) {
	// Configure Viper to read .env file
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	// Enable automatic environment variable loading
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_SOCKET_PATH", "/tmp/logstream.sock")
	viper.SetDefault("SERVER_MAX_CONNECTIONS", 1000)
	viper.SetDefault("SERVER_BUFFER_SIZE", 8192)
	viper.SetDefault("STORAGE_OUTPUT_DIRECTORY", "/var/log/logstream")
	viper.SetDefault("STORAGE_MAX_FILE_SIZE", 100*1024*1024) // 100MB
	viper.SetDefault("ROTATION_ENABLED", true)
	viper.SetDefault("ROTATION_SCHEDULE", "0 0 * * * *") // hourly scan
	viper.SetDefault("ROTATION_MAX_AGE_HOURS", 24)
	viper.SetDefault("ROTATION_KEEP_FILES", 7)
	viper.SetDefault("FILE_BACKEND_ENABLED", true)
	viper.SetDefault("FILE_BACKEND_FORMAT", "json")
	viper.SetDefault("SYSLOG_ENABLED", false)
	viper.SetDefault("SYSLOG_FACILITY", "daemon")
	viper.SetDefault("SYSLOG_SERVER", "")
	viper.SetDefault("JOURNALD_ENABLED", false)
	viper.SetDefault("JOURNALD_SYSLOG_IDENTIFIER", "logstream")
	viper.SetDefault("KAFKA_ENABLED", false)
	viper.SetDefault("KAFKA_BROKERS", "localhost:9092")
	viper.SetDefault("KAFKA_TOPIC", "log_entries")
	viper.SetDefault("KAFKA_BATCH_SIZE", 100)
	viper.SetDefault("KAFKA_MAX_BATCH_WAIT", "5s")
	viper.SetDefault("METRICS_ENABLED", false)
	viper.SetDefault("METRICS_PORT", "9090")
	viper.SetDefault("METRICS_PATH", "/metrics")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		log.Warn().Err(err).Msg("Error reading config file")
	}

	var config Config

	// --- Server ---
	config.Server.SocketPath = viper.GetString("SERVER_SOCKET_PATH")
	config.Server.MaxConnections = viper.GetInt("SERVER_MAX_CONNECTIONS")
	config.Server.BufferSize = viper.GetInt("SERVER_BUFFER_SIZE")

	// --- Storage ---
	config.Storage.OutputDirectory = viper.GetString("STORAGE_OUTPUT_DIRECTORY")
	config.Storage.MaxFileSize = viper.GetInt64("STORAGE_MAX_FILE_SIZE")

	// --- Rotation ---
	config.Rotation.Enabled = viper.GetBool("ROTATION_ENABLED")
	config.Rotation.Schedule = viper.GetString("ROTATION_SCHEDULE")
	config.Rotation.MaxAgeHours = viper.GetInt("ROTATION_MAX_AGE_HOURS")
	config.Rotation.KeepFiles = viper.GetInt("ROTATION_KEEP_FILES")

	// --- Backends ---
	config.Backends.File.Enabled = viper.GetBool("FILE_BACKEND_ENABLED")
	config.Backends.File.Format = viper.GetString("FILE_BACKEND_FORMAT")
	config.Backends.Syslog.Enabled = viper.GetBool("SYSLOG_ENABLED")
	config.Backends.Syslog.Facility = viper.GetString("SYSLOG_FACILITY")
	config.Backends.Syslog.Server = viper.GetString("SYSLOG_SERVER")
	config.Backends.Journald.Enabled = viper.GetBool("JOURNALD_ENABLED")
	config.Backends.Journald.SyslogIdentifier = viper.GetString("JOURNALD_SYSLOG_IDENTIFIER")
	config.Backends.Kafka.Enabled = viper.GetBool("KAFKA_ENABLED")
	config.Backends.Kafka.Brokers = strings.Split(viper.GetString("KAFKA_BROKERS"), ",")
	config.Backends.Kafka.Topic = viper.GetString("KAFKA_TOPIC")
	config.Backends.Kafka.BatchSize = viper.GetInt("KAFKA_BATCH_SIZE")
	config.Backends.Kafka.MaxBatchWait = viper.GetDuration("KAFKA_MAX_BATCH_WAIT")

	// --- Metrics ---
	config.Metrics.Enabled = viper.GetBool("METRICS_ENABLED")
	config.Metrics.Port = viper.GetString("METRICS_PORT")
	config.Metrics.Path = viper.GetString("METRICS_PATH")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	log.Info().Interface("config", config).Msg("Config loaded")
	return &config, nil
}

// Validate checks the configuration once at startup. Validation failures are
// fatal: the server must not start against an invalid configuration.
func (c *Config) Validate() error {
	if c.Server.SocketPath == "" {
		return errors.New("config: socket path cannot be empty")
	}
	if c.Server.BufferSize <= 0 {
		return errors.New("config: buffer size must be positive")
	}
	if c.Backends.File.Enabled {
		if c.Storage.OutputDirectory == "" {
			return errors.New("config: output directory cannot be empty when the file backend is enabled")
		}
		switch c.Backends.File.Format {
		case "json", "human":
		default:
			return fmt.Errorf("config: unknown file backend format %q", c.Backends.File.Format)
		}
	}
	if c.Rotation.Enabled {
		if c.Rotation.Schedule == "" {
			return errors.New("config: rotation schedule cannot be empty when rotation is enabled")
		}
		if c.Rotation.KeepFiles < 0 {
			return errors.New("config: rotation keep_files cannot be negative")
		}
		if c.Storage.MaxFileSize <= 0 {
			return errors.New("config: max file size must be positive when rotation is enabled")
		}
	}
	if c.Backends.Kafka.Enabled {
		if len(c.Backends.Kafka.Brokers) == 0 || c.Backends.Kafka.Brokers[0] == "" {
			return errors.New("config: kafka brokers cannot be empty when the kafka backend is enabled")
		}
		if c.Backends.Kafka.Topic == "" {
			return errors.New("config: kafka topic cannot be empty when the kafka backend is enabled")
		}
	}
	return nil
}
