// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"memotag-notifier/internal/notification/recipients"
)

// DefaultAdminAliases are the author names treated as the administrator.
var DefaultAdminAliases = []string{"管理者", "admin", "Admin", "Administrator"}

// Load reads configs/config.yaml, merges configs/config.<env>.yaml and applies
// environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile reads a single config file, then applies the same overrides as Load.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys the
// yaml never mentions.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "memotag-notifier")
	v.SetDefault("app.environment", "development")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.internal_token", "")
	v.SetDefault("server.shutdown_timeout", 30000)
	v.SetDefault("camunda.enabled", false)
	v.SetDefault("camunda.broker_address", "")
	v.SetDefault("camunda.registry_path", "")
	v.SetDefault("database.postgres.enabled", false)
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.redis.enabled", false)
	v.SetDefault("database.redis.address", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("notifications.admin_emails", "")
	v.SetDefault("notifications.admin_aliases", DefaultAdminAliases)
	v.SetDefault("notifications.provider", "")
	v.SetDefault("notifications.from_email", "")
	v.SetDefault("notifications.board_url", "https://memotag.digital")
	v.SetDefault("notifications.timezone", "Asia/Tokyo")
	v.SetDefault("notifications.ses.region", "ap-northeast-1")
	v.SetDefault("notifications.sms.enabled", false)
	v.SetDefault("realtime.relay.enabled", false)
	v.SetDefault("realtime.relay.channel", "memotag:events")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("tracing.jaeger_endpoint", "")
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig honours the short environment names operators already use.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Notifications.AdminEmails == "" {
		if val := os.Getenv("ADMIN_EMAIL"); val != "" {
			cfg.Notifications.AdminEmails = val
		}
	}
	if cfg.Notifications.FromEmail == "" {
		if val := os.Getenv("FROM_EMAIL"); val != "" {
			cfg.Notifications.FromEmail = val
		}
	}
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30000
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if len(cfg.Notifications.AdminAliases) == 0 {
		cfg.Notifications.AdminAliases = append([]string(nil), DefaultAdminAliases...)
	}
	if cfg.Notifications.MaxConcurrency <= 0 {
		cfg.Notifications.MaxConcurrency = 4
	}
	if cfg.Notifications.SendTimeout <= 0 {
		cfg.Notifications.SendTimeout = 10000
	}
	if cfg.Notifications.Timezone == "" {
		cfg.Notifications.Timezone = "Asia/Tokyo"
	}

	if cfg.Realtime.PushTimeout <= 0 {
		cfg.Realtime.PushTimeout = 5000
	}
	if cfg.Realtime.SendBuffer <= 0 {
		cfg.Realtime.SendBuffer = 32
	}
	if cfg.Realtime.PingInterval <= 0 {
		cfg.Realtime.PingInterval = 30000
	}
	if cfg.Realtime.Relay.Channel == "" {
		cfg.Realtime.Relay.Channel = "memotag:events"
	}

	if cfg.Items.CacheTTL <= 0 {
		cfg.Items.CacheTTL = 300000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Notifications.Provider {
	case "", "ses", "smtp":
	default:
		return fmt.Errorf("notifications.provider must be one of ses, smtp or empty, got %q", cfg.Notifications.Provider)
	}

	if cfg.Notifications.Provider != "" && cfg.Notifications.FromEmail == "" {
		return fmt.Errorf("notifications.from_email is required when a provider is set")
	}
	if cfg.Notifications.Provider == "smtp" && cfg.Notifications.SMTP.Host == "" {
		return fmt.Errorf("notifications.smtp.host is required for the smtp provider")
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}

	if cfg.Database.Postgres.Enabled {
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	}

	if (cfg.Database.Redis.Enabled || cfg.Realtime.Relay.Enabled) && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	return nil
}

// NotificationPolicy builds the immutable recipient policy once at startup.
func (c *Config) NotificationPolicy() *recipients.Policy {
	return recipients.NewPolicy(
		recipients.ParseAddresses(c.Notifications.AdminEmails),
		c.Notifications.AdminAliases,
	)
}

func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
