package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type DBConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MaxRetries      int
}

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type KafkaConfig struct {
	Brokers string // empty disables the broker; events are only logged
}

type RedisConfig struct {
	Addr     string // empty falls back to in-process de-duplication
	Password string
	DB       int
}

type CoreConfig struct {
	OperationTimeout        time.Duration
	NotifyTimeout           time.Duration
	DefaultReservationHours int
	SweepInterval           time.Duration
	ExpiryWarning           time.Duration
}

type Config struct {
	StoreDriver string
	LogDir      string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Kafka       KafkaConfig
	Redis       RedisConfig
	Core        CoreConfig
}

// Load reads path (if it exists) into the environment and builds the config from it.
// Variables already set in the environment win over the file.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	e := &env{}
	cfg := &Config{
		StoreDriver: e.str("STORE_DRIVER", StoreDriverPostgres),
		LogDir:      e.str("LOG_DIR", "logs"),
		HTTP: HTTPConfig{
			Addr:            e.str("HTTP_ADDR", ":8080"),
			ShutdownTimeout: e.duration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		DB: DBConfig{
			Host:            e.str("DB_HOST", "localhost"),
			Port:            e.int("DB_PORT", 5432),
			User:            e.str("DB_USER", "postgres"),
			Password:        e.str("DB_PASSWORD", ""),
			Name:            e.str("DB_NAME", "bidfunds"),
			SSLMode:         e.str("DB_SSLMODE", "disable"),
			MaxOpenConns:    e.int("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    e.int("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: e.duration("DB_CONN_MAX_LIFETIME", 2*time.Hour),
			MaxRetries:      e.int("DB_MAX_RETRIES", 5),
		},
		Auth: AuthConfig{
			JWTSecret: e.str("JWT_SECRET", ""),
		},
		Kafka: KafkaConfig{
			Brokers: e.str("KAFKA_BROKERS", ""),
		},
		Redis: RedisConfig{
			Addr:     e.str("REDIS_ADDR", ""),
			Password: e.str("REDIS_PASSWORD", ""),
			DB:       e.int("REDIS_DB", 0),
		},
		Core: CoreConfig{
			OperationTimeout:        e.duration("OPERATION_TIMEOUT", 5*time.Second),
			NotifyTimeout:           e.duration("NOTIFY_TIMEOUT", 2*time.Second),
			DefaultReservationHours: e.int("DEFAULT_RESERVATION_HOURS", 24),
			SweepInterval:           e.duration("SWEEP_INTERVAL", time.Minute),
			ExpiryWarning:           e.duration("EXPIRY_WARNING", time.Hour),
		},
	}
	if e.err != nil {
		return nil, e.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.DB.MaxRetries < 0 {
		return fmt.Errorf("invalid DB_MAX_RETRIES: %d", c.DB.MaxRetries)
	}
	if c.Core.DefaultReservationHours <= 0 {
		return fmt.Errorf("invalid DEFAULT_RESERVATION_HOURS: %d", c.Core.DefaultReservationHours)
	}
	return nil
}

// env collects the first parse error so Load can report it once.
type env struct {
	err error
}

func (e *env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return d
}
