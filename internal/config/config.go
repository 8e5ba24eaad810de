package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
)

// Config stores dispatch service settings.
type Config struct {
	Port      int
	LogLevel  string
	Auth      Auth
	Dispatch  Dispatch
	DB        DB
	Journal   Journal
	Kafka     Kafka
	RateLimit RateLimit
	Pprof     PprofConfig
	CORS      CORS
}

// Auth stores identity token settings.
type Auth struct {
	Secret string
}

// Dispatch stores settings of the in-memory dispatch core.
type Dispatch struct {
	LivenessWindow time.Duration
	SessionTimeout time.Duration
	QueueSize      int
	HistorySize    int
	SweepSchedule  string
	ClosedOrderTTL time.Duration
	HelloTimeout   time.Duration
}

// DB stores Postgres connection settings.
type DB struct {
	Host string
	Port string
	User string
	Pass string
	Name string
}

// DSN builds a pgx connection string.
func (d DB) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", d.User, d.Pass, d.Host, d.Port, d.Name)
}

// Journal toggles the Postgres assignment journal.
type Journal struct {
	Enabled bool
}

// Kafka stores order event consumer settings. An empty broker list disables the consumer.
type Kafka struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Enabled reports whether the order events consumer should run.
func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// RateLimit stores token bucket settings for the API.
type RateLimit struct {
	Enabled    bool
	Rate       float64
	Burst      int
	TTL        time.Duration
	MaxBuckets int
}

// PprofConfig stores credentials for non-loopback pprof access.
type PprofConfig struct {
	User string
	Pass string
}

// CORS stores allowed origins for browser clients.
type CORS struct {
	AllowedOrigins []string
}

// Load reads configuration in order: .env (if present) → environment → flags.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}

	cfg := &Config{
		Port:      DefaultPort(),
		LogLevel:  "info",
		Auth:      Auth{Secret: defaultSecret},
		Dispatch:  DefaultDispatch(),
		DB:        DefaultDB(),
		Kafka:     DefaultKafka(),
		RateLimit: DefaultRateLimit(),
		CORS:      CORS{AllowedOrigins: []string{"*"}},
	}

	var errs []error
	cfg.Port = envInt("PORT", cfg.Port, &errs)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Auth.Secret = envString("AUTH_JWT_SECRET", cfg.Auth.Secret)

	d := &cfg.Dispatch
	d.LivenessWindow = envDuration("DISPATCH_LIVENESS_WINDOW", d.LivenessWindow, &errs)
	d.SessionTimeout = envDuration("DISPATCH_SESSION_TIMEOUT", d.SessionTimeout, &errs)
	d.QueueSize = envInt("DISPATCH_QUEUE_SIZE", d.QueueSize, &errs)
	d.HistorySize = envInt("DISPATCH_HISTORY_SIZE", d.HistorySize, &errs)
	d.SweepSchedule = envString("DISPATCH_SWEEP_SCHEDULE", d.SweepSchedule)
	d.ClosedOrderTTL = envDuration("DISPATCH_CLOSED_ORDER_TTL", d.ClosedOrderTTL, &errs)
	d.HelloTimeout = envDuration("DISPATCH_HELLO_TIMEOUT", d.HelloTimeout, &errs)

	cfg.DB.Host = envString("POSTGRES_HOST", cfg.DB.Host)
	cfg.DB.Port = envString("POSTGRES_PORT", cfg.DB.Port)
	cfg.DB.User = envString("POSTGRES_USER", cfg.DB.User)
	cfg.DB.Pass = envString("POSTGRES_PASSWORD", cfg.DB.Pass)
	cfg.DB.Name = envString("POSTGRES_DB", cfg.DB.Name)
	cfg.Journal.Enabled = envBool("ASSIGNMENT_JOURNAL_ENABLED", false, &errs)

	cfg.Kafka.Brokers = envList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Topic = envString("KAFKA_ORDERS_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.GroupID = envString("KAFKA_GROUP_ID", cfg.Kafka.GroupID)

	rl := &cfg.RateLimit
	rl.Enabled = envBool("RATE_LIMIT_ENABLED", rl.Enabled, &errs)
	rl.Rate = envFloat("RATE_LIMIT_RATE", rl.Rate, &errs)
	rl.Burst = envInt("RATE_LIMIT_BURST", rl.Burst, &errs)
	rl.TTL = envDuration("RATE_LIMIT_TTL", rl.TTL, &errs)
	rl.MaxBuckets = envInt("RATE_LIMIT_MAX_BUCKETS", rl.MaxBuckets, &errs)

	cfg.Pprof.User = envString("PPROF_USER", "")
	cfg.Pprof.Pass = envString("PPROF_PASS", "")
	cfg.CORS.AllowedOrigins = envList("CORS_ALLOWED_ORIGINS", cfg.CORS.AllowedOrigins)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	pflag.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to listen on")
	pflag.StringVar(&cfg.Auth.Secret, "jwt-secret", cfg.Auth.Secret, "HS256 secret for identity tokens")
	if err := pflag.CommandLine.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if p, err := strconv.Atoi(c.DB.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("invalid POSTGRES_PORT: %q", c.DB.Port)
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("empty AUTH_JWT_SECRET")
	}
	d := c.Dispatch
	switch {
	case d.LivenessWindow <= 0:
		return fmt.Errorf("invalid DISPATCH_LIVENESS_WINDOW: %s", d.LivenessWindow)
	case d.SessionTimeout <= 0:
		return fmt.Errorf("invalid DISPATCH_SESSION_TIMEOUT: %s", d.SessionTimeout)
	case d.QueueSize <= 0:
		return fmt.Errorf("invalid DISPATCH_QUEUE_SIZE: %d", d.QueueSize)
	case d.HistorySize < 0:
		return fmt.Errorf("invalid DISPATCH_HISTORY_SIZE: %d", d.HistorySize)
	case d.ClosedOrderTTL <= 0:
		return fmt.Errorf("invalid DISPATCH_CLOSED_ORDER_TTL: %s", d.ClosedOrderTTL)
	case d.HelloTimeout <= 0:
		return fmt.Errorf("invalid DISPATCH_HELLO_TIMEOUT: %s", d.HelloTimeout)
	}
	if _, err := cron.ParseStandard(d.SweepSchedule); err != nil {
		return fmt.Errorf("invalid DISPATCH_SWEEP_SCHEDULE %q: %w", d.SweepSchedule, err)
	}
	if c.Kafka.Enabled() && (c.Kafka.Topic == "" || c.Kafka.GroupID == "") {
		return errors.New("KAFKA_ORDERS_TOPIC and KAFKA_GROUP_ID are required with KAFKA_BROKERS")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: rate=%v burst=%d", c.RateLimit.Rate, c.RateLimit.Burst)
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func envFloat(key string, def float64, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return f
}

func envBool(key string, def bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}

func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func envList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
