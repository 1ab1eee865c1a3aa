package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	Addr string

	RoomCap       int
	MaxConnsPerIP int

	RateWindowMs    int
	RateMaxMessages int
	RateSweepSec    int

	DisconnectGraceSec int
	WaitingTTLSec      int

	DrainTimeoutSec int
	DrainPollMs     int
	ReconnectDelay  int

	TimeControl string

	RedisURL      string
	OpsWebhookURL string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Addr:               ":8090",
		RoomCap:            500,
		MaxConnsPerIP:      10,
		RateWindowMs:       1000,
		RateMaxMessages:    20,
		RateSweepSec:       60,
		DisconnectGraceSec: 30,
		WaitingTTLSec:      300,
		DrainTimeoutSec:    15,
		DrainPollMs:        500,
		ReconnectDelay:     5,
		TimeControl:        "10+0",
	}

	if v := strings.TrimSpace(os.Getenv("ADDR")); v != "" {
		cfg.Addr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.OpsWebhookURL = strings.TrimSpace(os.Getenv("OPS_WEBHOOK_URL"))

	if v := strings.TrimSpace(os.Getenv("TIME_CONTROL")); v != "" {
		cfg.TimeControl = v
	}

	loadPositiveInt("ROOM_CAP", &cfg.RoomCap)
	loadPositiveInt("MAX_CONNS_PER_IP", &cfg.MaxConnsPerIP)
	loadPositiveInt("RATE_WINDOW_MS", &cfg.RateWindowMs)
	loadPositiveInt("RATE_MAX_MESSAGES", &cfg.RateMaxMessages)
	loadPositiveInt("RATE_SWEEP_SEC", &cfg.RateSweepSec)
	loadPositiveInt("DISCONNECT_GRACE_SEC", &cfg.DisconnectGraceSec)
	loadPositiveInt("WAITING_TTL_SEC", &cfg.WaitingTTLSec)
	loadPositiveInt("DRAIN_TIMEOUT_SEC", &cfg.DrainTimeoutSec)
	loadPositiveInt("DRAIN_POLL_MS", &cfg.DrainPollMs)
	loadPositiveInt("RECONNECT_DELAY_SEC", &cfg.ReconnectDelay)

	if !strings.HasPrefix(cfg.Addr, ":") && !strings.Contains(cfg.Addr, ":") {
		return nil, errors.New("ADDR must be host:port or :port")
	}

	return cfg, nil
}

// loadPositiveInt overrides *dst when the variable parses to a positive
// integer; malformed or non-positive values keep the default.
func loadPositiveInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func (c *AppConfig) RateWindow() time.Duration     { return time.Duration(c.RateWindowMs) * time.Millisecond }
func (c *AppConfig) RateSweepEvery() time.Duration { return time.Duration(c.RateSweepSec) * time.Second }
func (c *AppConfig) DisconnectGrace() time.Duration {
	return time.Duration(c.DisconnectGraceSec) * time.Second
}
func (c *AppConfig) WaitingTTL() time.Duration { return time.Duration(c.WaitingTTLSec) * time.Second }
func (c *AppConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSec) * time.Second
}
func (c *AppConfig) DrainPoll() time.Duration { return time.Duration(c.DrainPollMs) * time.Millisecond }
