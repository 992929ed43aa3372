package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full service configuration.
type Config struct {
	Service  Service  `toml:"service"`
	Server   Server   `toml:"server"`
	Database Database `toml:"database"`
	NATS     NATS     `toml:"nats"`
	Redis    Redis    `toml:"redis"`
	Locker   Locker   `toml:"locker"`
}

type Service struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Environment string `toml:"environment"`
	LogLevel    string `toml:"log_level"`
}

type Server struct {
	Port            int           `toml:"port"`
	GRPCPort        int           `toml:"grpc_port"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// Database selects and configures the requisition store.
// Driver is "postgres" or "sqlite".
type Database struct {
	Driver      string        `toml:"driver"`
	Host        string        `toml:"host"`
	Port        int           `toml:"port"`
	User        string        `toml:"user"`
	Password    string        `toml:"password"`
	Database    string        `toml:"database"`
	SSLMode     string        `toml:"ssl_mode"`
	MaxConns    int32         `toml:"max_conns"`
	MinConns    int32         `toml:"min_conns"`
	MaxConnTime time.Duration `toml:"max_conn_time"`
	MaxIdleTime time.Duration `toml:"max_idle_time"`
	HealthCheck time.Duration `toml:"health_check"`
	SQLitePath  string        `toml:"sqlite_path"`
}

// DSN returns the Postgres connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// NATS configures the notification publisher. An empty URL disables it.
type NATS struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Locker selects the per-requisition lock: "local" or "redis".
type Locker struct {
	Backend string        `toml:"backend"`
	Expiry  time.Duration `toml:"expiry"`
	Tries   int           `toml:"tries"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: Service{
			Name:        "be-proc-requisitions",
			Version:     "dev",
			Environment: "development",
			LogLevel:    "info",
		},
		Server: Server{
			Port:            8086,
			GRPCPort:        9086,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: Database{
			Driver:      "postgres",
			Host:        "localhost",
			Port:        5432,
			User:        "postgres",
			Database:    "requisitions",
			SSLMode:     "disable",
			MaxConns:    10,
			MinConns:    2,
			MaxConnTime: time.Hour,
			MaxIdleTime: 30 * time.Minute,
			HealthCheck: time.Minute,
			SQLitePath:  "data/requisitions.db",
		},
		NATS: NATS{
			SubjectPrefix: "procurement.requisitions",
		},
		Redis: Redis{
			Addr: "localhost:6379",
		},
		Locker: Locker{
			Backend: "local",
			Expiry:  10 * time.Second,
			Tries:   32,
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file named by
// CONFIG_FILE, and environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Service.Name, "SERVICE_NAME")
	setString(&c.Service.Version, "SERVICE_VERSION")
	setString(&c.Service.Environment, "ENVIRONMENT")
	setString(&c.Service.LogLevel, "LOG_LEVEL")

	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Database, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSLMODE")
	setString(&c.Database.SQLitePath, "SQLITE_PATH")

	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.NATS.SubjectPrefix, "NATS_SUBJECT_PREFIX")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Locker.Backend, "LOCKER_BACKEND")

	ints := []struct {
		dst *int
		key string
	}{
		{&c.Server.Port, "PORT"},
		{&c.Server.GRPCPort, "GRPC_PORT"},
		{&c.Database.Port, "DB_PORT"},
		{&c.Redis.DB, "REDIS_DB"},
		{&c.Locker.Tries, "LOCKER_TRIES"},
	}
	for _, v := range ints {
		if err := setInt(v.dst, v.key); err != nil {
			return err
		}
	}

	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&c.Server.RequestTimeout, "REQUEST_TIMEOUT"},
		{&c.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT"},
		{&c.Locker.Expiry, "LOCKER_EXPIRY"},
	}
	for _, v := range durations {
		if err := setDuration(v.dst, v.key); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	switch c.Locker.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("locker.backend must be local or redis, got %q", c.Locker.Backend)
	}
	if c.Server.Port <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("server ports must be positive")
	}
	if c.Locker.Tries < 1 {
		return fmt.Errorf("locker.tries must be at least 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
