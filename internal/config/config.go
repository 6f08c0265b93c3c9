// Package config loads service configuration from an optional YAML file and
// the environment. Environment variables override file values; both override
// the built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces the service's environment variables. Double
// underscores separate levels so single underscores survive in key names:
// MEDTRACK_SERVER__PORT maps to server.port,
// MEDTRACK_SERVER__SHUTDOWN_TIMEOUT to server.shutdown_timeout.
const envPrefix = "MEDTRACK_"

// defaultYAML is the built-in configuration, loaded before any overrides.
const defaultYAML = `
server:
  port: 8081
  shutdown_timeout: 30s
database:
  url: ""
kafka:
  brokers:
    - localhost:9092
  publish_events: false
fda:
  endpoint: ""
  timeout: 5s
telemetry:
  enabled: false
  otlp_endpoint: localhost:4317
  service_name: medtrack
log_level: info
api_keys: {}
`

// Config holds the full service configuration.
type Config struct {
	Server    ServerConfig      `koanf:"server"`
	Database  DatabaseConfig    `koanf:"database"`
	Kafka     KafkaConfig       `koanf:"kafka"`
	FDA       FDAConfig         `koanf:"fda"`
	Telemetry TelemetryConfig   `koanf:"telemetry"`
	LogLevel  string            `koanf:"log_level"`
	APIKeys   map[string]string `koanf:"api_keys"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds the Postgres connection. An empty URL means the
// service runs fully in-memory.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// KafkaConfig holds the broker addresses for the audit-export and domain
// event topics. PublishEvents turns on the API's domain-event stream.
type KafkaConfig struct {
	Brokers       []string `koanf:"brokers"`
	PublishEvents bool     `koanf:"publish_events"`
}

// FDAConfig holds the verification-service settings. An empty endpoint
// selects the offline stub.
type FDAConfig struct {
	Endpoint string        `koanf:"endpoint"`
	Timeout  time.Duration `koanf:"timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	ServiceName  string `koanf:"service_name"`
}

// Load reads defaults, then the YAML file at path (skipped when empty or
// missing), then the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
