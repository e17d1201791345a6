package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App     AppConfig
	Server  ServerConfig
	Rate    RateConfig
	Stats   StatsConfig
	Gateway GatewayConfig
}

type AppConfig struct {
	Env      string
	LogLevel string
}

// ServerConfig drives the TCP validation server.
type ServerConfig struct {
	Addr         string
	Workers      int
	QueueSize    int
	MaxLineBytes int
	// Zero disables the deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RateConfig limits accepted connections per client IP. RPS <= 0 disables it.
type RateConfig struct {
	RPS        float64
	Burst      int
	IdleTTL    time.Duration
	SweepEvery time.Duration
}

// StatsConfig selects the outcome counter backend. An empty RedisAddr keeps
// counters in memory.
type StatsConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
	TTL           time.Duration
}

type GatewayConfig struct {
	Addr           string
	BackendAddr    string
	BackendTimeout time.Duration
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var (
		cfg Config
		err error
	)
	cfg.App.Env = getenvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getenvDefault("LOG_LEVEL", "info")

	port := getenvDefault("VALIDATION_PORT", "5003")
	if _, err := strconv.Atoi(port); err != nil {
		return nil, fmt.Errorf("invalid VALIDATION_PORT value: %q", port)
	}
	cfg.Server.Addr = net.JoinHostPort(os.Getenv("VALIDATION_HOST"), port)
	if cfg.Server.Workers, err = getenvInt("VALIDATION_WORKERS", 10); err != nil {
		return nil, err
	}
	if cfg.Server.QueueSize, err = getenvInt("VALIDATION_QUEUE_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.Server.MaxLineBytes, err = getenvInt("VALIDATION_MAX_LINE_BYTES", 64*1024); err != nil {
		return nil, err
	}
	if cfg.Server.ReadTimeout, err = getenvDuration("VALIDATION_READ_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout, err = getenvDuration("VALIDATION_WRITE_TIMEOUT", 0); err != nil {
		return nil, err
	}

	if cfg.Rate.RPS, err = getenvFloat("RATE_RPS", 0); err != nil {
		return nil, err
	}
	if cfg.Rate.Burst, err = getenvInt("RATE_BURST", 20); err != nil {
		return nil, err
	}
	if cfg.Rate.IdleTTL, err = getenvDuration("RATE_IDLE_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Rate.SweepEvery, err = getenvDuration("RATE_SWEEP_EVERY", 2*time.Minute); err != nil {
		return nil, err
	}

	cfg.Stats.RedisAddr = strings.TrimSpace(os.Getenv("STATS_REDIS_ADDR"))
	cfg.Stats.RedisPassword = os.Getenv("STATS_REDIS_PASSWORD")
	if cfg.Stats.RedisDB, err = getenvInt("STATS_REDIS_DB", 0); err != nil {
		return nil, err
	}
	cfg.Stats.Prefix = getenvDefault("STATS_PREFIX", "convenio:stats")
	if cfg.Stats.TTL, err = getenvDuration("STATS_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	cfg.Gateway.Addr = getenvDefault("GATEWAY_ADDR", ":5000")
	cfg.Gateway.BackendAddr = getenvDefault("BACKEND_ADDR", "localhost:5003")
	if cfg.Gateway.BackendTimeout, err = getenvDuration("BACKEND_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Workers <= 0 {
		return errors.New("VALIDATION_WORKERS must be > 0")
	}
	if c.Server.QueueSize < 0 {
		return errors.New("VALIDATION_QUEUE_SIZE must be >= 0")
	}
	if c.Server.MaxLineBytes <= 0 {
		return errors.New("VALIDATION_MAX_LINE_BYTES must be > 0")
	}
	if c.Rate.RPS > 0 && c.Rate.Burst <= 0 {
		return errors.New("RATE_BURST must be > 0 when RATE_RPS is set")
	}
	return nil
}

func getenvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", k, err)
	}
	return i, nil
}

func getenvFloat(k string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", k, err)
	}
	return f, nil
}

func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", k, err)
	}
	return d, nil
}
