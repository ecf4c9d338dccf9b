package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Checkout      CheckoutConfig      `mapstructure:"checkout"`
	Sandbox       SandboxConfig       `mapstructure:"sandbox"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

// GatewayConfig points the checkout at the payment backend.
type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	APIKey         string        `mapstructure:"api_key" validate:"required"`
	APISecret      string        `mapstructure:"api_secret" validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type CheckoutConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	PollCeiling      time.Duration `mapstructure:"poll_ceiling"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	MaxSessions      int           `mapstructure:"max_sessions"`
	OrderQueryParams []string      `mapstructure:"order_query_params"`
}

type SandboxConfig struct {
	Port              int            `mapstructure:"port"`
	Database          DatabaseConfig `mapstructure:"database"`
	MerchantName      string         `mapstructure:"merchant_name"`
	MerchantEmail     string         `mapstructure:"merchant_email"`
	MerchantAPIKey    string         `mapstructure:"merchant_api_key"`
	MerchantAPISecret string         `mapstructure:"merchant_api_secret"`
	BCryptCost        int            `mapstructure:"bcrypt_cost"`
	MaxWorkers        int            `mapstructure:"max_workers"`
	JobQueueSize      int            `mapstructure:"job_queue_size"`
	SettleMinDelay    time.Duration  `mapstructure:"settle_min_delay"`
	SettleMaxDelay    time.Duration  `mapstructure:"settle_max_delay"`
	UPISuccessRate    float64        `mapstructure:"upi_success_rate"`
	CardSuccessRate   float64        `mapstructure:"card_success_rate"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	Source          string        `mapstructure:"source"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
	Events  EventsConfig  `mapstructure:"events"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name" validate:"required_if=Enabled true"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"min=0,max=1"`
	Endpoint     string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// EventsConfig enables forwarding checkout events to Kafka when brokers are set.
type EventsConfig struct {
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

// Defaults returns the configuration used when a key is not set anywhere.
func Defaults() map[string]any {
	return map[string]any{
		"http_server.port":                8080,
		"http_server.allowed_origins":     "*",
		"http_server.read_header_timeout": 5 * time.Second,
		"http_server.read_timeout":        15 * time.Second,
		"http_server.write_timeout":       15 * time.Second,
		"http_server.idle_timeout":        60 * time.Second,

		"gateway.base_url":        "http://localhost:8000/api/v1",
		"gateway.api_key":         "key_test_abc123",
		"gateway.api_secret":      "secret_test_xyz789",
		"gateway.request_timeout": 10 * time.Second,

		"checkout.poll_interval":      2 * time.Second,
		"checkout.poll_ceiling":       30 * time.Second,
		"checkout.session_ttl":        30 * time.Minute,
		"checkout.sweep_interval":     time.Minute,
		"checkout.max_sessions":       1000,
		"checkout.order_query_params": []string{"order_id"},

		"sandbox.port":                       8000,
		"sandbox.database.driver":            "sqlite",
		"sandbox.database.source":            "file::memory:?cache=shared",
		"sandbox.database.auto_migrate":      true,
		"sandbox.database.max_open_conns":    10,
		"sandbox.database.max_idle_conns":    5,
		"sandbox.database.conn_max_lifetime": 30 * time.Minute,
		"sandbox.merchant_name":              "Test Merchant",
		"sandbox.merchant_email":             "test@example.com",
		"sandbox.merchant_api_key":           "key_test_abc123",
		"sandbox.merchant_api_secret":        "secret_test_xyz789",
		"sandbox.bcrypt_cost":                10,
		"sandbox.max_workers":                4,
		"sandbox.job_queue_size":             100,
		"sandbox.settle_min_delay":           5 * time.Second,
		"sandbox.settle_max_delay":           10 * time.Second,
		"sandbox.upi_success_rate":           0.9,
		"sandbox.card_success_rate":          0.95,

		"observability.metrics.enabled":       true,
		"observability.metrics.path":          "/metrics",
		"observability.tracing.enabled":       false,
		"observability.tracing.service_name":  "checkout",
		"observability.tracing.sampling_rate": 1.0,
		"observability.tracing.endpoint":      "localhost:4318",
		"observability.logging.level":         "info",
		"observability.logging.format":        "text",
		"observability.events.kafka_topic":    "checkout.events",
	}
}

// LoadConfigFromEnv builds the configuration from plain environment variables,
// used for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("PORT", 8080),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
		},
		Gateway: GatewayConfig{
			BaseURL:        getEnv("GATEWAY_BASE_URL", "http://localhost:8000/api/v1"),
			APIKey:         getEnv("GATEWAY_API_KEY", ""),
			APISecret:      getEnv("GATEWAY_API_SECRET", ""),
			RequestTimeout: getEnvAsDuration("GATEWAY_REQUEST_TIMEOUT", 10*time.Second),
		},
		Checkout: CheckoutConfig{
			PollInterval:     getEnvAsDuration("CHECKOUT_POLL_INTERVAL", 2*time.Second),
			PollCeiling:      getEnvAsDuration("CHECKOUT_POLL_CEILING", 30*time.Second),
			SessionTTL:       getEnvAsDuration("CHECKOUT_SESSION_TTL", 30*time.Minute),
			SweepInterval:    getEnvAsDuration("CHECKOUT_SWEEP_INTERVAL", time.Minute),
			MaxSessions:      getEnvAsInt("CHECKOUT_MAX_SESSIONS", 1000),
			OrderQueryParams: getEnvAsList("CHECKOUT_ORDER_QUERY_PARAMS", []string{"order_id"}),
		},
		Sandbox: SandboxConfig{
			Port: getEnvAsInt("SANDBOX_PORT", 8000),
			Database: DatabaseConfig{
				Driver:          getEnv("SANDBOX_DB_DRIVER", "postgres"),
				Source:          getEnv("SANDBOX_DB_SOURCE", ""),
				AutoMigrate:     getEnv("SANDBOX_DB_AUTO_MIGRATE", "false") == "true",
				MaxOpenConns:    getEnvAsInt("SANDBOX_DB_MAX_OPEN_CONNS", 10),
				MaxIdleConns:    getEnvAsInt("SANDBOX_DB_MAX_IDLE_CONNS", 5),
				ConnMaxLifetime: getEnvAsDuration("SANDBOX_DB_CONN_MAX_LIFETIME", 30*time.Minute),
			},
			MerchantName:      getEnv("SANDBOX_MERCHANT_NAME", "Test Merchant"),
			MerchantEmail:     getEnv("SANDBOX_MERCHANT_EMAIL", "test@example.com"),
			MerchantAPIKey:    getEnv("SANDBOX_MERCHANT_API_KEY", ""),
			MerchantAPISecret: getEnv("SANDBOX_MERCHANT_API_SECRET", ""),
			BCryptCost:        getEnvAsInt("SANDBOX_BCRYPT_COST", 10),
			MaxWorkers:        getEnvAsInt("SANDBOX_MAX_WORKERS", 4),
			JobQueueSize:      getEnvAsInt("SANDBOX_JOB_QUEUE_SIZE", 100),
			SettleMinDelay:    getEnvAsDuration("SANDBOX_SETTLE_MIN_DELAY", 5*time.Second),
			SettleMaxDelay:    getEnvAsDuration("SANDBOX_SETTLE_MAX_DELAY", 10*time.Second),
			UPISuccessRate:    getEnvAsFloat("SANDBOX_UPI_SUCCESS_RATE", 0.9),
			CardSuccessRate:   getEnvAsFloat("SANDBOX_CARD_SUCCESS_RATE", 0.95),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnv("METRICS_ENABLED", "true") == "true",
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Tracing: TracingConfig{
				Enabled:      getEnv("TRACING_ENABLED", "false") == "true",
				ServiceName:  getEnv("TRACING_SERVICE_NAME", "checkout"),
				SamplingRate: getEnvAsFloat("TRACING_SAMPLING_RATE", 1.0),
				Endpoint:     getEnv("TRACING_ENDPOINT", "localhost:4318"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Events: EventsConfig{
				KafkaBrokers: getEnvAsList("KAFKA_BROKERS", nil),
				KafkaTopic:   getEnv("KAFKA_TOPIC", "checkout.events"),
			},
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway config: %v", err))
	}

	if err := c.Checkout.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("checkout config: %v", err))
	}

	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("observability config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *GatewayConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	if c.APIKey == "" || c.APISecret == "" {
		return errors.New("api_key and api_secret are required")
	}
	return nil
}

func (c *CheckoutConfig) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if c.PollCeiling < c.PollInterval {
		return errors.New("poll_ceiling must be >= poll_interval")
	}
	if c.MaxSessions < 0 {
		return errors.New("max_sessions cannot be negative")
	}
	return nil
}

func (c *SandboxConfig) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.MerchantAPIKey == "" || c.MerchantAPISecret == "" {
		return errors.New("merchant_api_key and merchant_api_secret are required")
	}
	if c.SettleMaxDelay < c.SettleMinDelay {
		return errors.New("settle_max_delay must be >= settle_min_delay")
	}
	for name, rate := range map[string]float64{"upi_success_rate": c.UPISuccessRate, "card_success_rate": c.CardSuccessRate} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Driver != "sqlite" && c.Driver != "postgres" {
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *ObservabilityConfig) Validate() error {
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return errors.New("metrics path is required when metrics are enabled")
	}
	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" || c.Tracing.Endpoint == "" {
			return errors.New("tracing service_name and endpoint are required when tracing is enabled")
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			return errors.New("tracing sampling_rate must be between 0 and 1")
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format %q", c.Logging.Format)
	}
	return nil
}
