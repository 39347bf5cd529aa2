package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the safety engine service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	JanitorInterval          time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	CrashCountdown        time.Duration
	ThreatCheckInterval   time.Duration
	ThreatCancelThreshold int

	CrashMinSpeedKmh   float64
	CrashStillSpeedKmh float64
	CrashSpeedDropKmh  float64
	CrashDropWindow    time.Duration
	CrashStillness     time.Duration

	DatabaseURL string
	RedisAddr   string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	WebhookTimeout time.Duration

	RecordingEnabled bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "aegis"),
		AllowAnyOrigin:           false,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		RedisAddr:                stringsTrimSpace("REDIS_ADDR"),
		TwilioAccountSID:         stringsTrimSpace("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:          stringsTrimSpace("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:         stringsTrimSpace("TWILIO_FROM_NUMBER"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		JanitorInterval:          time.Minute,
		CrashCountdown:           10 * time.Second,
		ThreatCheckInterval:      15 * time.Second,
		ThreatCancelThreshold:    3,
		CrashMinSpeedKmh:         35,
		CrashStillSpeedKmh:       5,
		CrashSpeedDropKmh:        25,
		CrashDropWindow:          2 * time.Second,
		CrashStillness:           10 * time.Second,
		WebhookTimeout:           5 * time.Second,
		RecordingEnabled:         true,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("APP_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.CrashCountdown, err = durationFromEnv("APP_CRASH_COUNTDOWN", cfg.CrashCountdown)
	if err != nil {
		return Config{}, err
	}
	cfg.ThreatCheckInterval, err = durationFromEnv("APP_THREAT_CHECK_INTERVAL", cfg.ThreatCheckInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.CrashDropWindow, err = durationFromEnv("APP_CRASH_DROP_WINDOW", cfg.CrashDropWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.CrashStillness, err = durationFromEnv("APP_CRASH_STILLNESS", cfg.CrashStillness)
	if err != nil {
		return Config{}, err
	}
	cfg.WebhookTimeout, err = durationFromEnv("APP_WEBHOOK_TIMEOUT", cfg.WebhookTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RecordingEnabled, err = boolFromEnv("APP_RECORDING_ENABLED", cfg.RecordingEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.ThreatCancelThreshold, err = intFromEnv("APP_THREAT_CANCEL_THRESHOLD", cfg.ThreatCancelThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.CrashMinSpeedKmh, err = floatFromEnv("APP_CRASH_MIN_SPEED_KMH", cfg.CrashMinSpeedKmh)
	if err != nil {
		return Config{}, err
	}
	cfg.CrashStillSpeedKmh, err = floatFromEnv("APP_CRASH_STILL_SPEED_KMH", cfg.CrashStillSpeedKmh)
	if err != nil {
		return Config{}, err
	}
	cfg.CrashSpeedDropKmh, err = floatFromEnv("APP_CRASH_SPEED_DROP_KMH", cfg.CrashSpeedDropKmh)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.CrashCountdown < time.Second {
		return Config{}, fmt.Errorf("APP_CRASH_COUNTDOWN must be at least 1s")
	}
	if cfg.CrashMinSpeedKmh <= cfg.CrashStillSpeedKmh {
		return Config{}, fmt.Errorf("APP_CRASH_MIN_SPEED_KMH must exceed APP_CRASH_STILL_SPEED_KMH")
	}
	if cfg.CrashSpeedDropKmh <= 0 {
		return Config{}, fmt.Errorf("APP_CRASH_SPEED_DROP_KMH must be positive")
	}
	if cfg.ThreatCancelThreshold <= 0 {
		return Config{}, fmt.Errorf("APP_THREAT_CANCEL_THRESHOLD must be positive")
	}
	if (cfg.TwilioAccountSID != "" || cfg.TwilioAuthToken != "") && cfg.TwilioFromNumber == "" {
		return Config{}, fmt.Errorf("TWILIO_FROM_NUMBER required when Twilio credentials are set")
	}

	return cfg, nil
}

// TwilioEnabled reports whether SMS delivery is fully configured.
func (c Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
