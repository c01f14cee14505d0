package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jwp-labs/rankduel/internal/adapter/matchpresenter"
	"github.com/jwp-labs/rankduel/internal/appbuilder"
	appcfg "github.com/jwp-labs/rankduel/internal/config"
	"github.com/jwp-labs/rankduel/internal/msgcat"
	"github.com/jwp-labs/rankduel/internal/namepool"
	"github.com/jwp-labs/rankduel/internal/obslog"
	"github.com/jwp-labs/rankduel/internal/rating"
	"github.com/jwp-labs/rankduel/internal/service/ranking"
	"github.com/jwp-labs/rankduel/internal/syncfast"
	"github.com/jwp-labs/rankduel/internal/syncqueue"
)

const commandTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	headers := func() map[string]string {
		h := map[string]string{}
		if cfg.SyncAPIKey != "" {
			h["X-Api-Key"] = cfg.SyncAPIKey
		}
		if cfg.SyncClientID != "" {
			h["X-Client-Id"] = cfg.SyncClientID
		}
		return h
	}

	client := syncfast.NewClient(cfg.SyncBaseURL, syncfast.WithHeaderProvider(headers))

	ws := syncfast.NewWebSocket(cfg.SyncWSURL, 10, 2*time.Second)
	// Inject WS handshake headers if required by the relay
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state syncfast.WebSocketState) {
		logger.Info("ws_state", zap.String("state", string(state)))
	})

	deps, err := appbuilder.New(cfg, client, ws, logger)
	if err != nil {
		log.Fatalf("init error: %v", err)
	}

	egress := syncfast.NewEgress(cfg.CommitTransport, cfg.DryRun, client, ws, logger)
	presenter := matchpresenter.NewPresenter(func(room, message string) error {
		return egress.SendText(context.Background(), room, message)
	})
	cat, err := msgcat.New(cfg.TemplateDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}
	formatter := matchpresenter.NewFormatter(prefixProvider{prefix: cfg.BotPrefix}, cat, cfg.MaxItems)

	// When a backlog drains after an offline stretch, tell whichever room was
	// last talking to us. Single writes ride the live path and stay silent.
	var lastRoom atomic.Value
	lastRoom.Store("")
	deps.Queue.SetDrainNotifier(func(count int) {
		if count < 2 {
			return
		}
		if room, _ := lastRoom.Load().(string); room != "" {
			_ = presenter.Text(room, formatter.Drained(count))
		}
	})
	deps.Queue.Start()
	if cfg.RedrainIntervalSec > 0 {
		deps.Queue.StartPeriodicDrain(time.Duration(cfg.RedrainIntervalSec) * time.Second)
	}

	// Command handler
	ws.OnMessage(func(msg *syncfast.Message) {
		if msg == nil || msg.Msg == "" {
			return
		}
		// room filter: if AllowedRooms configured and msg.Room not in list → ignore
		if len(cfg.AllowedRooms) > 0 && !roomAllowed(cfg.AllowedRooms, msg.Room) {
			logger.Debug("room_ignored", zap.String("room", msg.Room))
			return
		}
		// prefix check
		if !strings.HasPrefix(strings.TrimSpace(msg.Msg), cfg.BotPrefix) {
			return
		}
		lastRoom.Store(msg.Room)
		// Avoid blocking the WS loop
		go handleCommand(cfg, deps.Service, deps.Queue, deps.Pools, presenter, formatter, logger, msg)
	})

	// Connect WS
	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ws.Connect(cctx); err != nil {
		cancel()
		log.Fatalf("ws connect error: %v", err)
	}
	cancel()
	logger.Info("bot_started",
		zap.String("prefix", cfg.BotPrefix),
		zap.String("transport", cfg.CommitTransport),
		zap.Bool("dry_run", cfg.DryRun))

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = ws.Close(shCtx)
	deps.Close(shCtx)
	shCancel()
	logger.Info("bot_stopped")
}

func handleCommand(cfg *appcfg.AppConfig, svc *ranking.Service, queue *syncqueue.Queue, pools *namepool.Catalog, presenter *matchpresenter.Presenter, formatter *matchpresenter.Formatter, logger *zap.Logger, msg *syncfast.Message) {
	// strip prefix
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(msg.Msg), cfg.BotPrefix))
	if raw == "" {
		_ = presenter.Text(msg.Room, formatter.Help())
		return
	}
	parts := strings.Fields(raw)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help":
		_ = presenter.Text(msg.Room, formatter.Help())
	case "rank":
		handleRankCommand(cfg, svc, queue, pools, presenter, formatter, logger, msg, args)
	case "1", "2", "l", "r", "t", "left", "right", "tie", "draw":
		handleChoice(svc, presenter, formatter, logger, msg, cmd)
	default:
		_ = presenter.Text(msg.Room, "Unknown command. Try '"+cfg.BotPrefix+"rank help'.")
	}
}

// Ranking command handler
func handleRankCommand(cfg *appcfg.AppConfig, svc *ranking.Service, queue *syncqueue.Queue, pools *namepool.Catalog, presenter *matchpresenter.Presenter, formatter *matchpresenter.Formatter, logger *zap.Logger, msg *syncfast.Message, args []string) {
	meta := runMeta(msg)
	if len(args) == 0 { // help
		_ = presenter.Text(msg.Room, formatter.Help())
		return
	}
	sub := strings.ToLower(strings.TrimSpace(args[0]))
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch sub {
	case "start":
		state, resumed, err := svc.StartRun(ctx, meta, strings.Join(args[1:], " "))
		if err != nil {
			replyError(presenter, formatter, logger, msg.Room, err, strings.Join(args[1:], " "))
			return
		}
		_ = presenter.Text(msg.Room, formatter.Start(state, resumed))
	case "now", "current", "status":
		state, err := svc.Current(ctx, meta)
		if err != nil {
			replyError(presenter, formatter, logger, msg.Room, err, "")
			return
		}
		_ = presenter.Text(msg.Room, formatter.Current(state))
	case "standings", "board":
		rows, state, err := svc.RunStandings(ctx, meta)
		if err == nil {
			_ = presenter.Text(msg.Room, formatter.RunStandings(state, rows))
			return
		}
		if !errors.Is(err, ranking.ErrRunNotFound) {
			replyError(presenter, formatter, logger, msg.Room, err, "")
			return
		}
		// no active run: fall back to the room leaderboard
		board, lErr := svc.Leaderboard(ctx, meta, 0)
		if lErr != nil {
			replyError(presenter, formatter, logger, msg.Room, lErr, "")
			return
		}
		_ = presenter.Text(msg.Room, formatter.Leaderboard(board))
	case "top", "leaderboard":
		limit := 0
		if len(args) >= 2 {
			if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
				limit = n
			}
		}
		board, err := svc.Leaderboard(ctx, meta, limit)
		if err != nil {
			replyError(presenter, formatter, logger, msg.Room, err, "")
			return
		}
		_ = presenter.Text(msg.Room, formatter.Leaderboard(board))
	case "undo":
		state, err := svc.Undo(ctx, meta)
		if err != nil {
			replyError(presenter, formatter, logger, msg.Room, err, "")
			return
		}
		_ = presenter.Text(msg.Room, formatter.Undo(state))
	case "quit", "stop", "abandon":
		state, err := svc.Abandon(ctx, meta)
		if err != nil {
			replyError(presenter, formatter, logger, msg.Room, err, "")
			return
		}
		_ = presenter.Text(msg.Room, formatter.Abandoned(state))
	case "history":
		limit := 0
		if len(args) >= 2 {
			if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
				limit = n
			}
		}
		runs, err := svc.RecentRuns(ctx, meta, limit)
		if err != nil {
			replyError(presenter, formatter, logger, msg.Room, err, "")
			return
		}
		_ = presenter.Text(msg.Room, formatter.History(runs))
	case "run":
		if len(args) < 2 {
			_ = presenter.Text(msg.Room, "Usage: "+cfg.BotPrefix+"rank run <id>")
			return
		}
		summary, err := svc.Run(ctx, meta, args[1])
		if err != nil {
			replyError(presenter, formatter, logger, msg.Room, err, "")
			return
		}
		_ = presenter.Text(msg.Room, formatter.RunDetail(summary))
	case "pools":
		_ = presenter.Text(msg.Room, formatter.Pools(pools.List()))
	case "sync":
		status, err := queue.Status(ctx)
		if err != nil {
			logger.Error("sync_status_error", zap.Error(err))
			_ = presenter.Text(msg.Room, formatter.InternalError())
			return
		}
		_ = presenter.Text(msg.Room, formatter.SyncStatus(status))
		if status.Pending > 0 {
			queue.Kick()
		}
	case "help":
		_ = presenter.Text(msg.Room, formatter.Help())
	default:
		// Treat as a choice token, e.g. "!rank 1"
		handleChoice(svc, presenter, formatter, logger, msg, sub)
	}
}

func handleChoice(svc *ranking.Service, presenter *matchpresenter.Presenter, formatter *matchpresenter.Formatter, logger *zap.Logger, msg *syncfast.Message, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	summary, err := svc.RecordChoice(ctx, runMeta(msg), token)
	if err != nil {
		replyError(presenter, formatter, logger, msg.Room, err, token)
		return
	}
	_ = presenter.Text(msg.Room, formatter.Choice(summary))
}

func replyError(presenter *matchpresenter.Presenter, formatter *matchpresenter.Formatter, logger *zap.Logger, room string, err error, token string) {
	switch {
	case errors.Is(err, ranking.ErrRoomNotAllowed):
		// rooms outside the allowlist get no reply at all
	case errors.Is(err, ranking.ErrRunNotFound), errors.Is(err, ranking.ErrRunFinished):
		_ = presenter.Text(room, formatter.NoRun())
	case errors.Is(err, ranking.ErrRunInProgress):
		_ = presenter.Text(room, formatter.Busy())
	case errors.Is(err, ranking.ErrUndoNotAvailable):
		_ = presenter.Text(room, formatter.NothingToUndo())
	case errors.Is(err, ranking.ErrUnknownPool):
		_ = presenter.Text(room, formatter.UnknownPool(token))
	case errors.Is(err, ranking.ErrTooFewItems):
		_ = presenter.Text(room, formatter.TooFewItems())
	case errors.Is(err, ranking.ErrTooManyItems):
		_ = presenter.Text(room, formatter.TooManyItems())
	case errors.Is(err, rating.ErrInvalidOutcome):
		_ = presenter.Text(room, formatter.BadChoice())
	default:
		logger.Error("rank_command_error", zap.String("room", room), zap.Error(err))
		_ = presenter.Text(room, formatter.InternalError())
	}
}

func runMeta(msg *syncfast.Message) ranking.Meta {
	return ranking.Meta{Room: msg.Room, Sender: senderName(msg)}
}

func senderName(msg *syncfast.Message) string {
	if msg.JSON != nil && strings.TrimSpace(msg.JSON.UserID) != "" {
		return strings.TrimSpace(msg.JSON.UserID)
	}
	if msg.Sender != nil {
		return strings.TrimSpace(*msg.Sender)
	}
	return "player"
}

func roomAllowed(allowed []string, room string) bool {
	for _, r := range allowed {
		if strings.EqualFold(strings.TrimSpace(r), strings.TrimSpace(room)) {
			return true
		}
	}
	return false
}

type prefixProvider struct{ prefix string }

func (p prefixProvider) Prefix() string { return p.prefix }
