package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	RESTListenAddr string
	PushListenAddr string

	RedisURL    string
	DatabaseURL string

	InitialTimeMs int64
	IncrementMs   int64

	HandshakeTimeout time.Duration
	DrawOfferTTL     time.Duration
	ResumeCooldown   time.Duration
	AbandonGrace     time.Duration
	SweepInterval    time.Duration

	SessionTTLSec   int
	EventBufferSize int
	ArchiveGraceSec int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		RESTListenAddr:   ":8080",
		PushListenAddr:   ":8081",
		InitialTimeMs:    300000,
		IncrementMs:      0,
		HandshakeTimeout: 30 * time.Second,
		DrawOfferTTL:     60 * time.Second,
		ResumeCooldown:   2 * time.Second,
		AbandonGrace:     5 * time.Minute,
		SweepInterval:    250 * time.Millisecond,
		SessionTTLSec:    86400,
		EventBufferSize:  512,
		ArchiveGraceSec:  300,
	}

	if v := strings.TrimSpace(os.Getenv("REST_LISTEN_ADDR")); v != "" {
		cfg.RESTListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("PUSH_LISTEN_ADDR")); v != "" {
		cfg.PushListenAddr = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("INITIAL_TIME_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.InitialTimeMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("INCREMENT_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.IncrementMs = n
		}
	}
	if d := parseDuration(os.Getenv("HANDSHAKE_TIMEOUT")); d > 0 {
		cfg.HandshakeTimeout = d
	}
	if d := parseDuration(os.Getenv("DRAW_OFFER_TTL")); d > 0 {
		cfg.DrawOfferTTL = d
	}
	if d := parseDuration(os.Getenv("RESUME_COOLDOWN")); d > 0 {
		cfg.ResumeCooldown = d
	}
	if d := parseDuration(os.Getenv("ABANDON_GRACE")); d > 0 {
		cfg.AbandonGrace = d
	}
	if d := parseDuration(os.Getenv("CLOCK_SWEEP_INTERVAL")); d > 0 {
		cfg.SweepInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("SESSION_TTL")); v != "" { // seconds
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SessionTTLSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("EVENT_BUFFER_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EventBufferSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_GRACE")); v != "" { // seconds
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ArchiveGraceSec = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

func parseDuration(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// bare integers are seconds
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return 0
}
