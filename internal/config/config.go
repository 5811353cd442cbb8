package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix of every environment variable read by Load
const EnvPrefix = "LEDGER"

// Config represents the complete worker configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Google    GoogleConfig    `yaml:"google" envconfig:"GOOGLE"`
	Queue     QueueConfig     `yaml:"queue" envconfig:"QUEUE"`
	Redis     RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Ranking   RankingConfig   `yaml:"ranking" envconfig:"RANKING"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// GoogleConfig holds the OAuth client used for delegated access and the
// service account used for ranking maintenance.
type GoogleConfig struct {
	ClientID            string   `yaml:"client_id" envconfig:"CLIENT_ID"`
	ClientSecret        string   `yaml:"client_secret" envconfig:"CLIENT_SECRET"`
	RedirectURL         string   `yaml:"redirect_url" envconfig:"REDIRECT_URL"`
	Scopes              []string `yaml:"scopes" envconfig:"SCOPES"`
	ServiceAccountFile  string   `yaml:"service_account_file" envconfig:"SERVICE_ACCOUNT_FILE"`
	ServiceAccountEmail string   `yaml:"service_account_email" envconfig:"SERVICE_ACCOUNT_EMAIL"`
	RequestsPerSecond   float64  `yaml:"requests_per_second" envconfig:"REQUESTS_PER_SECOND"`
	RequestBurst        int      `yaml:"request_burst" envconfig:"REQUEST_BURST"`
}

// QueueConfig selects the operation queue transport
type QueueConfig struct {
	Driver          string   `yaml:"driver" envconfig:"DRIVER"`
	Brokers         []string `yaml:"brokers" envconfig:"BROKERS"`
	GroupID         string   `yaml:"group_id" envconfig:"GROUP_ID"`
	OperationsTopic string   `yaml:"operations_topic" envconfig:"OPERATIONS_TOPIC"`
	RPCTopic        string   `yaml:"rpc_topic" envconfig:"RPC_TOPIC"`
	MemoryBuffer    int      `yaml:"memory_buffer" envconfig:"MEMORY_BUFFER"`
}

// RedisConfig configures the authorization state store. An empty URL keeps
// pending handshakes in process memory.
type RedisConfig struct {
	URL       string `yaml:"url" envconfig:"URL"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
}

// StoreConfig configures the relational store for credentials and the
// application directory.
type StoreConfig struct {
	Driver           string `yaml:"driver" envconfig:"DRIVER"`
	DSN              string `yaml:"dsn" envconfig:"DSN"`
	EncryptionSecret string `yaml:"encryption_secret" envconfig:"ENCRYPTION_SECRET"`
	MaxConns         int    `yaml:"max_conns" envconfig:"MAX_CONNS"`
}

// RankingConfig configures the periodic ranking refresh
type RankingConfig struct {
	Interval time.Duration `yaml:"interval" envconfig:"INTERVAL"`
	Enabled  bool          `yaml:"enabled" envconfig:"ENABLED"`
	TopN     int           `yaml:"top_n" envconfig:"TOP_N"`
}

// SecurityConfig contains web-tier authentication and rate limiting
type SecurityConfig struct {
	JWTSecret string          `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
	JWTIssuer string          `yaml:"jwt_issuer" envconfig:"JWT_ISSUER"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// TelemetryConfig selects OpenTelemetry exporters
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// Load builds the configuration from defaults, then the YAML file at path
// (if any), then LEDGER_* environment variables. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Fields without an env var are left untouched, so file values survive
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate rejects configurations the worker cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch strings.ToLower(c.Queue.Driver) {
	case "kafka":
		if len(c.Queue.Brokers) == 0 {
			return fmt.Errorf("queue driver kafka requires at least one broker")
		}
		if c.Queue.GroupID == "" {
			return fmt.Errorf("queue driver kafka requires a group id")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported queue driver: %q", c.Queue.Driver)
	}
	if c.Queue.OperationsTopic == "" {
		return fmt.Errorf("operations topic must be set")
	}

	switch strings.ToLower(c.Store.Driver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported store driver: %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store dsn must be set")
	}
	if len(c.Store.EncryptionSecret) < 16 {
		return fmt.Errorf("store encryption secret must be at least 16 characters")
	}

	if c.Ranking.Enabled && c.Ranking.Interval <= 0 {
		return fmt.Errorf("ranking interval must be positive")
	}

	if c.Google.RequestsPerSecond <= 0 {
		return fmt.Errorf("google requests per second must be positive")
	}

	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/ledgerworker.log",
		},
		Google: GoogleConfig{
			Scopes: []string{
				"https://www.googleapis.com/auth/spreadsheets",
				"https://www.googleapis.com/auth/drive.file",
				"https://www.googleapis.com/auth/forms.body",
				"https://www.googleapis.com/auth/userinfo.email",
			},
			RequestsPerSecond: 5,
			RequestBurst:      10,
		},
		Queue: QueueConfig{
			Driver:          "memory",
			GroupID:         "ledgerworker",
			OperationsTopic: "ledger.operations",
			RPCTopic:        "ledger.rpc",
			MemoryBuffer:    256,
		},
		Redis: RedisConfig{
			KeyPrefix: "ledger:",
		},
		Store: StoreConfig{
			Driver:   "sqlite",
			DSN:      "data/ledgerworker.sqlite",
			MaxConns: 10,
		},
		Ranking: RankingConfig{
			Interval: time.Minute,
			Enabled:  true,
		},
		Security: SecurityConfig{
			JWTIssuer: "marketplace",
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   40,
			},
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}
