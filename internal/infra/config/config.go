package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/gocql/gocql"
	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverScylla   = "scylla"
	DriverPostgres = "postgres"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env         string `env:"APP_ENV" envDefault:"dev"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":9000"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`

	MongoURI string `env:"MONGO_URI"`
	MongoDB  string `env:"MONGO_DB" envDefault:"rentals"`

	ScyllaHosts           []string          `env:"SCYLLA_HOSTS" envDefault:"localhost" envSeparator:","`
	ScyllaKeyspace        string            `env:"SCYLLA_KEYSPACE" envDefault:"rentchat"`
	ScyllaUsername        string            `env:"SCYLLA_USERNAME"`
	ScyllaPassword        string            `env:"SCYLLA_PASSWORD"`
	ScyllaConsistencyName string            `env:"SCYLLA_CONSISTENCY" envDefault:"quorum"`
	ScyllaConsistency     gocql.Consistency `env:"-"`
	ScyllaTimeout         time.Duration     `env:"SCYLLA_TIMEOUT" envDefault:"5s"`
	ReplicationFactor     int               `env:"SCYLLA_REPLICATION_FACTOR" envDefault:"1"`

	PostgresURL string `env:"POSTGRES_URL"`

	KafkaBrokers       []string        `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopicPrefix   string          `env:"KAFKA_TOPIC_PREFIX"`
	OutboxPollInterval time.Duration   `env:"OUTBOX_POLL_INTERVAL" envDefault:"500ms"`
	RetryBackoff       []time.Duration `env:"RETRY_BACKOFF" envDefault:"1s,5s,30s" envSeparator:","`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`

	WSAllowedOrigins    []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	WSHeartbeatInterval time.Duration `env:"WS_HEARTBEAT_INTERVAL" envDefault:"20s"`
	WSHeartbeatTimeout  time.Duration `env:"WS_HEARTBEAT_TIMEOUT" envDefault:"10s"`
	WSHeartbeatFailures int           `env:"WS_HEARTBEAT_FAILURES" envDefault:"2"`
	WSReadIdleTimeout   time.Duration `env:"WS_READ_IDLE_TIMEOUT" envDefault:"60s"`
	WSWriteTimeout      time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"5s"`
	WSSendQueue         int           `env:"WS_SEND_QUEUE" envDefault:"64"`
	WSRateEvents        int           `env:"WS_RATE_EVENTS" envDefault:"30"`
	WSRateWindow        time.Duration `env:"WS_RATE_WINDOW" envDefault:"1s"`
	WSMaxMessageBytes   int64         `env:"WS_MAX_MESSAGE_BYTES" envDefault:"65536"`

	FixturesPath string        `env:"FIXTURES_PATH"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"24h"`
}

// Load reads an optional .env file and parses configuration from the
// current environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the process environment without touching .env.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.ScyllaHosts = splitAndTrim(cfg.ScyllaHosts)
	cfg.KafkaBrokers = splitAndTrim(cfg.KafkaBrokers)
	cfg.WSAllowedOrigins = splitAndTrim(cfg.WSAllowedOrigins)
	cfg.ScyllaKeyspace = strings.TrimSpace(cfg.ScyllaKeyspace)

	consistency, err := parseConsistency(cfg.ScyllaConsistencyName)
	if err != nil {
		return Config{}, err
	}
	cfg.ScyllaConsistency = consistency
	if cfg.ReplicationFactor < 1 {
		cfg.ReplicationFactor = 1
	}

	switch cfg.StoreDriver {
	case DriverMemory:
	case DriverMongo:
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("MONGO_URI is required for STORE_DRIVER=%s", cfg.StoreDriver)
		}
	case DriverScylla:
		if cfg.ScyllaKeyspace == "" {
			return Config{}, fmt.Errorf("SCYLLA_KEYSPACE is required")
		}
		if len(cfg.ScyllaHosts) == 0 {
			return Config{}, fmt.Errorf("SCYLLA_HOSTS is required")
		}
	case DriverPostgres:
		if cfg.PostgresURL == "" {
			return Config{}, fmt.Errorf("POSTGRES_URL is required for STORE_DRIVER=%s", cfg.StoreDriver)
		}
	default:
		return Config{}, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.RequestTimeout <= 0 {
		return Config{}, fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if cfg.WSSendQueue < 1 {
		return Config{}, fmt.Errorf("WS_SEND_QUEUE must be at least 1")
	}
	if cfg.WSHeartbeatFailures < 1 {
		cfg.WSHeartbeatFailures = 1
	}
	return cfg, nil
}

func splitAndTrim(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseConsistency(value string) (gocql.Consistency, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "any":
		return gocql.Any, nil
	case "one":
		return gocql.One, nil
	case "two":
		return gocql.Two, nil
	case "three":
		return gocql.Three, nil
	case "quorum", "":
		return gocql.Quorum, nil
	case "all":
		return gocql.All, nil
	case "localquorum", "local_quorum":
		return gocql.LocalQuorum, nil
	case "eachquorum", "each_quorum":
		return gocql.EachQuorum, nil
	case "localone", "local_one":
		return gocql.LocalOne, nil
	default:
		return gocql.Quorum, fmt.Errorf("unsupported consistency level: %s", value)
	}
}
