package appbuilder

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jwp-labs/rankduel/internal/autosave"
	"github.com/jwp-labs/rankduel/internal/config"
	"github.com/jwp-labs/rankduel/internal/namepool"
	"github.com/jwp-labs/rankduel/internal/roster"
	"github.com/jwp-labs/rankduel/internal/service/ranking"
	"github.com/jwp-labs/rankduel/internal/syncfast"
	"github.com/jwp-labs/rankduel/internal/syncqueue"
)

const keyPrefix = "rank"

// Deps bundles everything the bot process needs. Close tears the pieces down
// in dependency order.
type Deps struct {
	Service *ranking.Service
	Repo    ranking.Repository
	Roster  *roster.Store
	Pools   *namepool.Catalog
	Queue   *syncqueue.Queue
	Saver   *autosave.Coordinator
	Net     *syncfast.NetState

	rdb *redis.Client
	db  *sql.DB
}

func New(cfg *config.AppConfig, client *syncfast.Client, ws *syncfast.WebSocket, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if client == nil || ws == nil {
		return nil, fmt.Errorf("sync client and websocket are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Redis: run state, roster and the durable write journal
	ropts, err := parseRedisURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	// Archive repository: Postgres when configured, in-memory otherwise
	var (
		repo ranking.Repository
		db   *sql.DB
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(30 * time.Minute)

		dbCtx, dbCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dbCancel()
		if err := db.PingContext(dbCtx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		repo = ranking.NewRepository(db)
	} else {
		logger.Warn("rank_repo_memory", zap.String("reason", "DATABASE_URL not set"))
		repo = ranking.NewMemoryRepository()
	}

	// Connectivity + durable queue. Drains go over HTTP so every commit has a
	// confirmed status; the autosave direct path may use the configured mode.
	net := syncfast.NewNetState(ws)
	queue, err := syncqueue.New(
		syncqueue.NewRedisJournal(rdb, keyPrefix),
		syncfast.NewCommitter("http", client, ws, logger),
		net,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init sync queue: %w", err)
	}

	saver, err := autosave.New(
		ranking.WriteKindRunState,
		syncfast.NewCommitter(cfg.CommitTransport, client, ws, logger),
		net,
		queue,
		time.Duration(cfg.AutosaveDebounceMS)*time.Millisecond,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init autosave: %w", err)
	}

	pools, err := namepool.New(cfg.PoolsDir)
	if err != nil {
		return nil, fmt.Errorf("load name pools: %w", err)
	}
	ros := roster.NewStore(rdb, keyPrefix)
	rosterCtx, rosterCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if owners, lErr := ros.ListActive(rosterCtx); lErr == nil && len(owners) > 0 {
		logger.Info("rank_runs_active", zap.Int("count", len(owners)))
	}
	rosterCancel()

	svcCfg := ranking.Config{
		RunTTL:       time.Duration(cfg.RunTTLSec) * time.Second,
		MaxItems:     cfg.MaxItems,
		HistoryLimit: cfg.HistoryLimit,
		AllowedRooms: append([]string(nil), cfg.AllowedRooms...),
		DefaultPool:  cfg.DefaultPool,
	}
	service, err := ranking.New(rdb, repo, ros, pools, saver, queue, svcCfg, logger)
	if err != nil {
		return nil, err
	}

	return &Deps{
		Service: service,
		Repo:    repo,
		Roster:  ros,
		Pools:   pools,
		Queue:   queue,
		Saver:   saver,
		Net:     net,
		rdb:     rdb,
		db:      db,
	}, nil
}

// Close flushes pending autosaves, stops the queue and releases connections.
func (d *Deps) Close(ctx context.Context) {
	if d == nil {
		return
	}
	if d.Saver != nil {
		d.Saver.FlushAll(ctx)
		d.Saver.Close()
	}
	if d.Queue != nil {
		d.Queue.Close()
	}
	if d.Net != nil {
		d.Net.Close()
	}
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "6379"
	}
	db := 0
	if u.Path != "" {
		p := strings.TrimPrefix(u.Path, "/")
		if p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				db = n
			}
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: host + ":" + port, Password: pass, DB: db}, nil
}
