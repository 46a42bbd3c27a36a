package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/trogers1052/stock-ingest-pipeline/internal/errors"
)

// DefaultSymbols is used when STOCK_SYMBOLS is unset
const DefaultSymbols = "AAPL,MSFT,GOOGL,AMZN,TSLA"

// DefaultConfigPath is the YAML file read when neither a flag nor CONFIG_PATH names one
const DefaultConfigPath = "configs/config.yaml"

// ResolvePath picks the YAML config file: flagValue if set, else CONFIG_PATH,
// else DefaultConfigPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultConfigPath
}

// Config holds all application configuration
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Symbols  []string       `yaml:"symbols" validate:"required,min=1,dive,required"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Server   ServerConfig   `yaml:"server"`
	Schedule ScheduleConfig `yaml:"schedule"`
	LogEnv   string         `yaml:"log_env"`
}

// ProviderConfig holds the market data provider settings
type ProviderConfig struct {
	APIKey   string `yaml:"api_key" validate:"required"`
	BaseURL  string `yaml:"base_url" validate:"required,url"`
	Function string `yaml:"function" validate:"required"`
}

// DatabaseConfig holds storage configuration
type DatabaseConfig struct {
	Driver     string `yaml:"driver" validate:"oneof=postgres sqlite"`
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	DBName     string `yaml:"dbname"`
	SSLMode    string `yaml:"sslmode"`
	SQLitePath string `yaml:"sqlite_path"`
}

// KafkaConfig holds Kafka configuration. No brokers disables publishing.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RedisConfig holds the run status store settings. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	Host string `yaml:"host"`
}

// ScheduleConfig holds the cron schedule for the schedule command
type ScheduleConfig struct {
	Cron       string        `yaml:"cron"`
	RunTimeout time.Duration `yaml:"run_timeout" validate:"gt=0"`
}

// Load reads configuration from an optional YAML file and a .env file, then
// applies environment variable overrides and defaults. A missing file is
// not an error. The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	// .env never overrides variables already present in the environment
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Provider.APIKey, "ALPHA_VANTAGE_API_KEY")
	setString(&c.Provider.BaseURL, "ALPHA_VANTAGE_BASE_URL")
	setString(&c.Provider.Function, "ALPHA_VANTAGE_FUNCTION")
	if v := os.Getenv("STOCK_SYMBOLS"); v != "" {
		c.Symbols = ParseSymbols(v)
	}

	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.Host, "POSTGRES_HOST")
	setString(&c.Database.Port, "POSTGRES_PORT")
	setString(&c.Database.DBName, "POSTGRES_DB")
	setString(&c.Database.User, "POSTGRES_USER")
	setString(&c.Database.Password, "POSTGRES_PASSWORD")
	setString(&c.Database.SSLMode, "POSTGRES_SSLMODE")
	setString(&c.Database.SQLitePath, "SQLITE_PATH")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	setString(&c.Kafka.Topic, "KAFKA_TOPIC")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")

	setString(&c.Server.Host, "SERVER_HOST")
	setString(&c.Server.Port, "SERVER_PORT")

	setString(&c.Schedule.Cron, "SCHEDULE_CRON")
	if v := os.Getenv("RUN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &apperrors.ConfigurationError{Field: "RUN_TIMEOUT", Message: fmt.Sprintf("invalid duration %q", v)}
		}
		c.Schedule.RunTimeout = d
	}

	setString(&c.LogEnv, "LOG_ENV")
	return nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Provider.BaseURL, "https://www.alphavantage.co/query")
	setDefault(&c.Provider.Function, "TIME_SERIES_DAILY")
	if len(c.Symbols) == 0 {
		c.Symbols = ParseSymbols(DefaultSymbols)
	} else {
		c.Symbols = ParseSymbols(strings.Join(c.Symbols, ","))
	}

	setDefault(&c.Database.Driver, "postgres")
	setDefault(&c.Database.Host, "postgres")
	setDefault(&c.Database.Port, "5432")
	setDefault(&c.Database.DBName, "stockmarket")
	setDefault(&c.Database.User, "airflow")
	setDefault(&c.Database.Password, "airflow")
	setDefault(&c.Database.SSLMode, "disable")
	setDefault(&c.Database.SQLitePath, "data/stockmarket.db")

	setDefault(&c.Kafka.Topic, "stock-ingest-events")

	setDefault(&c.Server.Host, "0.0.0.0")
	setDefault(&c.Server.Port, "8080")

	// weekdays at 18:00, after market close
	setDefault(&c.Schedule.Cron, "0 0 18 * * 1-5")
	if c.Schedule.RunTimeout == 0 {
		c.Schedule.RunTimeout = 2 * time.Hour
	}
}

var validate = validator.New()

// Validate checks required fields. The first violation is returned as a
// ConfigurationError naming the offending setting.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return &apperrors.ConfigurationError{Message: err.Error()}
	}
	fe := verrs[0]
	field := envNames[fe.StructNamespace()]
	if field == "" {
		field = fe.StructNamespace()
	}
	msg := "is required"
	if fe.Tag() != "required" {
		msg = fmt.Sprintf("failed %q validation (value %v)", fe.Tag(), fe.Value())
	}
	return &apperrors.ConfigurationError{Field: field, Message: msg}
}

var envNames = map[string]string{
	"Config.Provider.APIKey":     "ALPHA_VANTAGE_API_KEY",
	"Config.Provider.BaseURL":    "ALPHA_VANTAGE_BASE_URL",
	"Config.Provider.Function":   "ALPHA_VANTAGE_FUNCTION",
	"Config.Symbols":             "STOCK_SYMBOLS",
	"Config.Database.Driver":     "DB_DRIVER",
	"Config.Schedule.RunTimeout": "RUN_TIMEOUT",
}

// ConnectionString returns the DSN for the configured driver
func (d *DatabaseConfig) ConnectionString() string {
	if d.Driver == "sqlite" {
		return d.SQLitePath
	}
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// Address returns host:port for the HTTP server
func (s *ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// ParseSymbols splits a comma-separated symbol list, trimming, uppercasing
// and dropping empties and duplicates while keeping order.
func ParseSymbols(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, sym := range strings.Split(s, ",") {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDefault(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}
