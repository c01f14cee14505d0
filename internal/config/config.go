package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	SyncBaseURL string
	SyncWSURL   string

	BotPrefix string

	SyncAPIKey   string
	SyncClientID string

	RedisURL    string
	DatabaseURL string

	CommitTransport string
	DryRun          bool

	AllowedRooms []string

	RunTTLSec          int
	MaxItems           int
	HistoryLimit       int
	DefaultPool        string
	PoolsDir           string
	TemplateDir        string
	AutosaveDebounceMS int
	RedrainIntervalSec int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		CommitTransport:    "auto",
		RunTTLSec:          86400,
		MaxItems:           32,
		HistoryLimit:       10,
		AutosaveDebounceMS: 2000,
		RedrainIntervalSec: 300,
	}

	cfg.SyncBaseURL = strings.TrimSpace(os.Getenv("SYNC_BASE_URL"))
	cfg.SyncWSURL = strings.TrimSpace(os.Getenv("SYNC_WS_URL"))
	cfg.BotPrefix = strings.TrimSpace(os.Getenv("BOT_PREFIX"))

	cfg.SyncAPIKey = strings.TrimSpace(os.Getenv("SYNC_API_KEY"))
	cfg.SyncClientID = strings.TrimSpace(os.Getenv("SYNC_CLIENT_ID"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("COMMIT_TRANSPORT")); v != "" {
		cfg.CommitTransport = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("DRY_RUN")); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			cfg.DryRun = b
		}
	}

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ROOMS")); v != "" {
		parts := strings.Split(v, ",")
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				cfg.AllowedRooms = append(cfg.AllowedRooms, s)
			}
		}
	}

	if v := strings.TrimSpace(os.Getenv("RANK_RUN_TTL")); v != "" { // seconds
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RunTTLSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RANK_MAX_ITEMS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			cfg.MaxItems = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RANK_HISTORY_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HistoryLimit = n
		}
	}
	cfg.DefaultPool = strings.TrimSpace(os.Getenv("RANK_DEFAULT_POOL"))
	cfg.PoolsDir = strings.TrimSpace(os.Getenv("RANK_POOLS_DIR"))
	cfg.TemplateDir = strings.TrimSpace(os.Getenv("MSG_TEMPLATE_DIR"))

	if v := strings.TrimSpace(os.Getenv("AUTOSAVE_DEBOUNCE_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AutosaveDebounceMS = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SYNC_REDRAIN_INTERVAL")); v != "" { // seconds, 0 disables
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RedrainIntervalSec = n
		}
	}

	if cfg.SyncBaseURL == "" {
		return nil, errors.New("SYNC_BASE_URL is required")
	}
	if cfg.SyncWSURL == "" {
		return nil, errors.New("SYNC_WS_URL is required")
	}
	if cfg.BotPrefix == "" {
		return nil, errors.New("BOT_PREFIX is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
