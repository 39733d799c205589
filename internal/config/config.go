package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

type Config struct {
	Port              int
	JWTSecret         string
	GinMode           string
	TLSCertFile       string
	TLSKeyFile        string
	TokenExpiry       time.Duration
	StreamTokenExpiry time.Duration
	WSBaseURL         string

	LogLevel  string
	LogFormat string

	StoreDriver string
	BadgerDir   string
	DatabaseURL string

	NATSURL           string
	NATSSubjectPrefix string

	KeepaliveInterval time.Duration
	IdleTimeout       time.Duration
	MaxProbeFailures  int
	StoreRetries      int
	StoreBackoff      time.Duration
	MinFrameBytes     int
	MaxFrameBytes     int64
	MaxFramePixels    int

	DetectorURLs      []string
	DetectorTimeout   time.Duration
	LowLightThreshold float64
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// LoadConfig reads the process environment, after loading a .env file from
// the working directory when one exists.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:              8000,
		GinMode:           "release",
		TokenExpiry:       24 * time.Hour,
		StreamTokenExpiry: 2 * time.Hour,
		LogLevel:          "info",
		LogFormat:         "json",
		StoreDriver:       DriverMemory,
		BadgerDir:         "data/badger",
		NATSSubjectPrefix: "proctor.logs",
		KeepaliveInterval: 30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxProbeFailures:  2,
		StoreRetries:      3,
		StoreBackoff:      500 * time.Millisecond,
		MinFrameBytes:     100,
		MaxFrameBytes:     10 << 20,
		MaxFramePixels:    4096 * 4096,
		DetectorTimeout:   2 * time.Second,
		LowLightThreshold: 40,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.JWTSecret = env.Getenv("JWT_SECRET_KEY")
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET_KEY is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return Config{}, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	cfg.WSBaseURL = strings.TrimRight(env.Getenv("WS_BASE_URL"), "/")

	var err error
	if cfg.TokenExpiry, err = seconds(env, "TOKEN_EXPIRY_SECONDS", cfg.TokenExpiry); err != nil {
		return Config{}, err
	}
	if cfg.StreamTokenExpiry, err = seconds(env, "STREAM_TOKEN_EXPIRY_SECONDS", cfg.StreamTokenExpiry); err != nil {
		return Config{}, err
	}

	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = strings.ToLower(raw)
	}
	if raw := env.Getenv("LOG_FORMAT"); raw != "" {
		switch raw {
		case "json", "console":
			cfg.LogFormat = raw
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT")
		}
	}

	if raw := env.Getenv("STORE_DRIVER"); raw != "" {
		cfg.StoreDriver = strings.ToLower(raw)
	}
	if raw := env.Getenv("BADGER_DIR"); raw != "" {
		cfg.BadgerDir = raw
	}
	cfg.DatabaseURL = env.Getenv("DATABASE_URL")
	switch cfg.StoreDriver {
	case DriverMemory, DriverBadger:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=postgres")
		}
	default:
		return Config{}, fmt.Errorf("invalid STORE_DRIVER")
	}

	cfg.NATSURL = env.Getenv("NATS_URL")
	if raw := env.Getenv("NATS_SUBJECT_PREFIX"); raw != "" {
		cfg.NATSSubjectPrefix = raw
	}

	if cfg.KeepaliveInterval, err = seconds(env, "KEEPALIVE_INTERVAL_SECONDS", cfg.KeepaliveInterval); err != nil {
		return Config{}, err
	}
	if cfg.IdleTimeout, err = seconds(env, "IDLE_TIMEOUT_SECONDS", cfg.IdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MaxProbeFailures, err = positiveInt(env, "MAX_PROBE_FAILURES", cfg.MaxProbeFailures); err != nil {
		return Config{}, err
	}
	if cfg.StoreRetries, err = positiveInt(env, "STORE_RETRY_ATTEMPTS", cfg.StoreRetries); err != nil {
		return Config{}, err
	}
	if raw := env.Getenv("STORE_RETRY_BACKOFF_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			return Config{}, fmt.Errorf("invalid STORE_RETRY_BACKOFF_MS")
		}
		cfg.StoreBackoff = time.Duration(ms) * time.Millisecond
	}
	if cfg.MinFrameBytes, err = positiveInt(env, "MIN_FRAME_BYTES", cfg.MinFrameBytes); err != nil {
		return Config{}, err
	}
	maxFrame, err := positiveInt(env, "MAX_FRAME_BYTES", int(cfg.MaxFrameBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxFrameBytes = int64(maxFrame)
	if cfg.MaxFramePixels, err = positiveInt(env, "MAX_FRAME_PIXELS", cfg.MaxFramePixels); err != nil {
		return Config{}, err
	}

	for _, u := range strings.Split(env.Getenv("DETECTOR_URLS"), ",") {
		if u = strings.TrimSpace(u); u != "" {
			cfg.DetectorURLs = append(cfg.DetectorURLs, u)
		}
	}
	if raw := env.Getenv("DETECTOR_TIMEOUT_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("invalid DETECTOR_TIMEOUT_MS")
		}
		cfg.DetectorTimeout = time.Duration(ms) * time.Millisecond
	}
	if raw := env.Getenv("LOW_LIGHT_THRESHOLD"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 255 {
			return Config{}, fmt.Errorf("invalid LOW_LIGHT_THRESHOLD")
		}
		cfg.LowLightThreshold = v
	}

	return cfg, nil
}

func seconds(env Env, key string, def time.Duration) (time.Duration, error) {
	raw := env.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return time.Duration(n) * time.Second, nil
}

func positiveInt(env Env, key string, def int) (int, error) {
	raw := env.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
