package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

type Config struct {
	WebSocketURL         string
	WebSocketSecret      string
	APIBaseURL           string
	RequestTimeout       time.Duration
	AskTimeout           time.Duration
	MaxReconnectAttempts int
	PendingAfter         time.Duration
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		RequestTimeout:       10 * time.Second,
		AskTimeout:           90 * time.Second,
		MaxReconnectAttempts: 5,
		PendingAfter:         15 * time.Minute,
	}

	cfg.WebSocketURL = env.Getenv("WEBSOCKET_URL")
	if cfg.WebSocketURL == "" {
		return Config{}, fmt.Errorf("WEBSOCKET_URL is required")
	}
	if u, err := url.Parse(cfg.WebSocketURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return Config{}, fmt.Errorf("invalid WEBSOCKET_URL")
	}

	cfg.WebSocketSecret = env.Getenv("WEBSOCKET_SECRET_KEY")
	if cfg.WebSocketSecret == "" {
		return Config{}, fmt.Errorf("WEBSOCKET_SECRET_KEY is required")
	}

	cfg.APIBaseURL = env.Getenv("API_BASE_URL")
	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("API_BASE_URL is required")
	}
	if u, err := url.Parse(cfg.APIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Config{}, fmt.Errorf("invalid API_BASE_URL")
	}

	if raw := env.Getenv("REQUEST_TIMEOUT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid REQUEST_TIMEOUT_SECONDS")
		}
		cfg.RequestTimeout = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("ASK_TIMEOUT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid ASK_TIMEOUT_SECONDS")
		}
		cfg.AskTimeout = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("MAX_RECONNECT_ATTEMPTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid MAX_RECONNECT_ATTEMPTS")
		}
		cfg.MaxReconnectAttempts = n
	}

	if raw := env.Getenv("PENDING_AFTER_MINUTES"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			return Config{}, fmt.Errorf("invalid PENDING_AFTER_MINUTES")
		}
		cfg.PendingAfter = time.Duration(minutes) * time.Minute
	}

	return cfg, nil
}
