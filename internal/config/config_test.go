package config

import (
	"testing"
	"time"
)

type mapEnv map[string]string

func (m mapEnv) Getenv(key string) string { return m[key] }

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"JWT_SECRET_KEY": "x"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 8000 {
		t.Fatalf("expected default port 8000, got %d", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("expected default gin mode release, got %q", cfg.GinMode)
	}
	if cfg.StoreDriver != DriverMemory {
		t.Fatalf("expected memory store, got %q", cfg.StoreDriver)
	}
	if cfg.KeepaliveInterval != 30*time.Second || cfg.IdleTimeout != 60*time.Second {
		t.Fatalf("unexpected stream timings: %v / %v", cfg.KeepaliveInterval, cfg.IdleTimeout)
	}
	if cfg.MaxProbeFailures != 2 || cfg.StoreRetries != 3 || cfg.StoreBackoff != 500*time.Millisecond {
		t.Fatalf("unexpected retry defaults: %+v", cfg)
	}
	if cfg.MinFrameBytes != 100 || cfg.MaxFrameBytes != 10<<20 || cfg.MaxFramePixels != 4096*4096 {
		t.Fatalf("unexpected frame limits: %d / %d / %d", cfg.MinFrameBytes, cfg.MaxFrameBytes, cfg.MaxFramePixels)
	}
	if len(cfg.DetectorURLs) != 0 {
		t.Fatalf("expected no detector urls, got %v", cfg.DetectorURLs)
	}
}

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	_, err := LoadConfigFromEnv(mapEnv{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{
		"JWT_SECRET_KEY":             "x",
		"PORT":                       "1234",
		"STORE_DRIVER":               "Badger",
		"BADGER_DIR":                 "/tmp/b",
		"KEEPALIVE_INTERVAL_SECONDS": "5",
		"IDLE_TIMEOUT_SECONDS":       "10",
		"STORE_RETRY_BACKOFF_MS":     "0",
		"DETECTOR_URLS":              " http://a/detect , ,http://b/detect",
		"WS_BASE_URL":                "wss://proctor.example.com/",
		"LOG_FORMAT":                 "console",
		"MAX_FRAME_PIXELS":           "2073600",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 1234 {
		t.Fatalf("expected port 1234, got %d", cfg.Port)
	}
	if cfg.StoreDriver != DriverBadger || cfg.BadgerDir != "/tmp/b" {
		t.Fatalf("unexpected store config: %q %q", cfg.StoreDriver, cfg.BadgerDir)
	}
	if cfg.KeepaliveInterval != 5*time.Second || cfg.IdleTimeout != 10*time.Second {
		t.Fatalf("unexpected stream timings: %v / %v", cfg.KeepaliveInterval, cfg.IdleTimeout)
	}
	if cfg.StoreBackoff != 0 {
		t.Fatalf("expected zero backoff, got %v", cfg.StoreBackoff)
	}
	if len(cfg.DetectorURLs) != 2 || cfg.DetectorURLs[1] != "http://b/detect" {
		t.Fatalf("unexpected detector urls: %v", cfg.DetectorURLs)
	}
	if cfg.WSBaseURL != "wss://proctor.example.com" {
		t.Fatalf("unexpected ws base url: %q", cfg.WSBaseURL)
	}
	if cfg.MaxFramePixels != 1920*1080 {
		t.Fatalf("unexpected max frame pixels: %d", cfg.MaxFramePixels)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := []mapEnv{
		{"JWT_SECRET_KEY": "x", "PORT": "0"},
		{"JWT_SECRET_KEY": "x", "STORE_DRIVER": "mysql"},
		{"JWT_SECRET_KEY": "x", "STORE_DRIVER": "postgres"},
		{"JWT_SECRET_KEY": "x", "IDLE_TIMEOUT_SECONDS": "-1"},
		{"JWT_SECRET_KEY": "x", "MAX_PROBE_FAILURES": "zero"},
		{"JWT_SECRET_KEY": "x", "LOG_FORMAT": "xml"},
		{"JWT_SECRET_KEY": "x", "TLS_CERT_FILE": "cert.pem"},
		{"JWT_SECRET_KEY": "x", "LOW_LIGHT_THRESHOLD": "300"},
		{"JWT_SECRET_KEY": "x", "MAX_FRAME_PIXELS": "-5"},
	}
	for _, env := range cases {
		if _, err := LoadConfigFromEnv(env); err == nil {
			t.Fatalf("expected error for %v", env)
		}
	}
}
