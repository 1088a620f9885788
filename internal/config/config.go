package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Webhook   WebhookConfig
	AMQP      AMQPConfig
	Auth      AuthConfig
	Reports   ReportsConfig
	LogLevel  slog.Level
}

type ServerConfig struct {
	Address string
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DatabaseConfig struct {
	Driver      string
	PostgresURL string
	SQLitePath  string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

type WebhookConfig struct {
	URL          string
	Secret       string
	ChannelsFile string
	ContentMax   int
	SendTimeout  time.Duration
}

type AMQPConfig struct {
	Enabled bool
	URL     string
	Queue   string
}

type AuthConfig struct {
	JWTSecret string
}

type ReportsConfig struct {
	BaseURL string
}

// LoadAll reads the environment and reports every problem at once.
func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		collect(err)
		return v
	}
	strRequired := func(key string) string {
		v, err := requireEnv(key)
		collect(err)
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
			SQLitePath: getEnv("SQLITE_PATH", "notify.db"),
		},
		Webhook: WebhookConfig{
			URL:          strRequired("WEBHOOK_URL"),
			Secret:       os.Getenv("WEBHOOK_SECRET"),
			ChannelsFile: os.Getenv("CHANNELS_FILE"),
			ContentMax:   intVar("CONTENT_MAX", 1000),
			SendTimeout:  time.Duration(intVar("SEND_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:  time.Duration(intVar("SCHED_INTERVAL_SECONDS", 60)) * time.Second,
			BatchSize: intVar("SCHED_BATCH_SIZE", 10),
		},
		Auth: AuthConfig{
			JWTSecret: strRequired("JWT_SECRET"),
		},
		Reports: ReportsConfig{
			BaseURL: strRequired("REPORT_BASE_URL"),
		},
		AMQP: loadAMQPConfig(),
	}

	enabled, err := getEnvBool("SCHED_ENABLED", false)
	collect(err)
	cfg.Scheduler.Enabled = enabled

	switch cfg.Database.Driver {
	case DriverPostgres:
		cfg.Database.PostgresURL = strRequired("POSTGRES_URL")
	case DriverSQLite:
	default:
		collect(fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.Database.Driver))
	}

	redisCfg, err := loadRedisConfig()
	collect(err)
	cfg.Redis = redisCfg

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	collect(err)
	cfg.LogLevel = level

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, dbErr := getEnvInt("REDIS_DB", 0)
	ttl, ttlErr := getEnvInt("REDIS_TTL_SECONDS", 86400)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, joinErrors([]error{dbErr, ttlErr})
}

func loadAMQPConfig() AMQPConfig {
	url := os.Getenv("AMQP_URL")
	if url == "" {
		return AMQPConfig{Enabled: false}
	}
	return AMQPConfig{
		Enabled: true,
		URL:     url,
		Queue:   getEnv("AMQP_QUEUE", "reminders"),
	}
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHED_BATCH_SIZE must be > 0"))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Webhook.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}
	if cfg.Webhook.SendTimeout <= 0 {
		errs = append(errs, errors.New("SEND_TIMEOUT_SECONDS must be > 0"))
	}
	return errs
}

func parseLevel(v string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", v)
	}
	return l, nil
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

// joinErrors drops nil entries and returns nil when nothing is left.
func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
