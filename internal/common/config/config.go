// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Realtime      RealtimeConfig          `mapstructure:"realtime"`
	Items         ItemsConfig             `mapstructure:"items"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Tracing       TracingConfig           `mapstructure:"tracing"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	InternalToken   string `mapstructure:"internal_token"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
	RegistryPath   string `mapstructure:"registry_path"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the settings applicable to every Zeebe trigger worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

// --- Notification Configuration ---

// NotificationConfig drives the recipient policy and the delivery gateway.
type NotificationConfig struct {
	// AdminEmails is the comma-separated admin address list.
	AdminEmails  string   `mapstructure:"admin_emails"`
	AdminAliases []string `mapstructure:"admin_aliases"`

	// Provider selects the delivery gateway: "ses", "smtp" or "" (unconfigured).
	Provider       string  `mapstructure:"provider"`
	FromEmail      string  `mapstructure:"from_email"`
	BoardURL       string  `mapstructure:"board_url"`
	Timezone       string  `mapstructure:"timezone"`
	MaxConcurrency int     `mapstructure:"max_concurrency"`
	SendTimeout    int     `mapstructure:"send_timeout_ms"`
	RatePerSec     float64 `mapstructure:"rate_per_sec"`

	SES struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"ses"`

	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		UseTLS   bool   `mapstructure:"use_tls"`
	} `mapstructure:"smtp"`

	SMS struct {
		Enabled bool   `mapstructure:"enabled"`
		Region  string `mapstructure:"region"`
	} `mapstructure:"sms"`
}

// --- Realtime Configuration ---
type RealtimeConfig struct {
	PushTimeout    int      `mapstructure:"push_timeout_ms"`
	SendBuffer     int      `mapstructure:"send_buffer"`
	PingInterval   int      `mapstructure:"ping_interval_ms"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	Relay          struct {
		Enabled bool   `mapstructure:"enabled"`
		Channel string `mapstructure:"channel"`
	} `mapstructure:"relay"`
}

type ItemsConfig struct {
	CacheTTL int `mapstructure:"cache_ttl_ms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type TracingConfig struct {
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Location resolves the configured notification timezone, falling back to UTC.
func (n NotificationConfig) Location() *time.Location {
	if n.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(n.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
