package ranking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jwp-labs/rankduel/internal/autosave"
	"github.com/jwp-labs/rankduel/internal/domain"
	"github.com/jwp-labs/rankduel/internal/namepool"
	"github.com/jwp-labs/rankduel/internal/rating"
	"github.com/jwp-labs/rankduel/internal/roster"
	"github.com/jwp-labs/rankduel/internal/schedule"
	"github.com/jwp-labs/rankduel/internal/syncqueue"
	"github.com/jwp-labs/rankduel/internal/util"
	"github.com/jwp-labs/rankduel/pkg/rankdto"
)

var (
	ErrRunNotFound      = errors.New("ranking run not found")
	ErrRunInProgress    = errors.New("ranking run already in progress")
	ErrRunFinished      = errors.New("ranking run already finished")
	ErrRunConflict      = errors.New("ranking run modified concurrently")
	ErrUndoNotAvailable = errors.New("no outcome available to undo")
	ErrTooFewItems      = errors.New("need at least 2 items to rank")
	ErrTooManyItems     = errors.New("too many items to rank")
	ErrUnknownPool      = errors.New("unknown name pool")
	ErrRoomNotAllowed   = errors.New("ranking room not allowed")
)

const (
	defaultRunTTL       = 24 * time.Hour
	defaultMaxItems     = 32
	defaultHistoryLimit = 10
	maxListLimit        = 50

	runStatusFinished  = "finished"
	runStatusAbandoned = "abandoned"
)

// Durable write kinds understood by the relay backend.
const (
	WriteKindRunState  = "run_state"
	WriteKindRunResult = "run_result"
)

type Config struct {
	RunTTL       time.Duration
	MaxItems     int
	HistoryLimit int
	AllowedRooms []string
	DefaultPool  string
}

type Meta struct {
	Room   string
	Sender string
}

type runIdentity struct {
	OwnerHash string
	RoomHash  string
}

// runPayload is the persisted form of an active run. Ratings are never stored;
// they are derived by replaying History through the rating rules, which is
// what makes undo a pure trim-and-replay.
type runPayload struct {
	RunUUID   string                 `json:"run_uuid"`
	OwnerHash string                 `json:"owner_hash"`
	RoomHash  string                 `json:"room_hash"`
	OwnerName string                 `json:"owner_name,omitempty"`
	PoolKey   string                 `json:"pool_key,omitempty"`
	PoolTitle string                 `json:"pool_title,omitempty"`
	Items     []payloadItem          `json:"items"`
	History   []schedule.MatchRecord `json:"history"`
	Cursor    int                    `json:"cursor"`
	StartedAt time.Time              `json:"started_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type payloadItem struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
}

// resultPayload is the final durable write of a completed run.
type resultPayload struct {
	RunUUID     string    `json:"run_uuid"`
	RoomHash    string    `json:"room_hash"`
	PoolKey     string    `json:"pool_key,omitempty"`
	Winner      string    `json:"winner"`
	FinalOrder  []string  `json:"final_order"`
	Comparisons int       `json:"comparisons"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// Service drives the full run lifecycle: candidate resolution, matchup
// scheduling, rating updates, undo, and archival of finished runs.
type Service struct {
	rdb     *redis.Client
	repo    Repository
	roster  *roster.Store
	pools   *namepool.Catalog
	saver   *autosave.Coordinator
	queue   *syncqueue.Queue
	cfg     Config
	allowed map[string]struct{}
	logger  *zap.Logger
}

func New(rdb *redis.Client, repo Repository, ros *roster.Store, pools *namepool.Catalog, saver *autosave.Coordinator, queue *syncqueue.Queue, cfg Config, logger *zap.Logger) (*Service, error) {
	if rdb == nil {
		return nil, errors.New("ranking service requires a redis client")
	}
	if repo == nil {
		return nil, errors.New("ranking service requires a repository")
	}
	if ros == nil {
		return nil, errors.New("ranking service requires a roster store")
	}
	if pools == nil {
		return nil, errors.New("ranking service requires a name pool catalog")
	}
	if saver == nil {
		return nil, errors.New("ranking service requires an autosave coordinator")
	}
	if queue == nil {
		return nil, errors.New("ranking service requires a sync queue")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = defaultRunTTL
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedRooms))
	for _, room := range cfg.AllowedRooms {
		r := strings.ToLower(strings.TrimSpace(room))
		if r != "" {
			allowed[r] = struct{}{}
		}
	}
	return &Service{
		rdb:     rdb,
		repo:    repo,
		roster:  ros,
		pools:   pools,
		saver:   saver,
		queue:   queue,
		cfg:     cfg,
		allowed: allowed,
		logger:  logger,
	}, nil
}

// StartRun begins a new run for the owner, or resumes the active one. The
// second return value reports whether an existing run was resumed; args is
// either a pool token or a comma-separated candidate list.
func (s *Service) StartRun(ctx context.Context, meta Meta, args string) (*rankdto.RunState, bool, error) {
	if err := s.ensureRoomAllowed(meta); err != nil {
		return nil, false, err
	}
	identity := deriveIdentity(meta)

	existing, err := s.activeRun(ctx, identity)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return stateFromPayload(existing), true, nil
	}

	items, poolKey, poolTitle, err := s.resolveItems(args)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	p := &runPayload{
		RunUUID:   uuid.NewString(),
		OwnerHash: identity.OwnerHash,
		RoomHash:  identity.RoomHash,
		OwnerName: strings.TrimSpace(meta.Sender),
		PoolKey:   poolKey,
		PoolTitle: poolTitle,
		Items:     items,
		StartedAt: now,
		UpdatedAt: now,
	}

	if err := s.roster.Register(ctx, identity.OwnerHash, p.RunUUID); err != nil {
		if errors.Is(err, roster.ErrOwnerBusy) {
			// lost a registration race; surface whatever run won
			if racing, lerr := s.activeRun(ctx, identity); lerr == nil && racing != nil {
				return stateFromPayload(racing), true, nil
			}
			return nil, false, ErrRunInProgress
		}
		return nil, false, err
	}

	if err := s.saveRun(ctx, p); err != nil {
		// the run was never persisted, release the claim
		_ = s.roster.Release(ctx, identity.OwnerHash, p.RunUUID)
		return nil, false, err
	}

	s.logger.Info("rank_run_start",
		zap.String("run_uuid", p.RunUUID),
		zap.String("room_hash", p.RoomHash),
		zap.String("pool", p.PoolKey),
		zap.Int("items", len(p.Items)))

	s.scheduleSnapshot(p)
	return stateFromPayload(p), false, nil
}

// Current returns the owner's active run state.
func (s *Service) Current(ctx context.Context, meta Meta) (*rankdto.RunState, error) {
	if err := s.ensureRoomAllowed(meta); err != nil {
		return nil, err
	}
	identity := deriveIdentity(meta)
	p, err := s.activeRun(ctx, identity)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrRunNotFound
	}
	return stateFromPayload(p), nil
}

// RecordChoice resolves the currently offered matchup with the given outcome
// token ("1"/"2"/"tie" and friends). When the last pair is resolved the run is
// finalized: archived, reflected into room standings and reported to the
// relay backend.
func (s *Service) RecordChoice(ctx context.Context, meta Meta, token string) (*rankdto.ChoiceSummary, error) {
	if err := s.ensureRoomAllowed(meta); err != nil {
		return nil, err
	}
	outcome, err := rating.ParseOutcome(token)
	if err != nil {
		return nil, err
	}

	identity := deriveIdentity(meta)
	runUUID, err := s.roster.Lookup(ctx, identity.OwnerHash)
	if err != nil {
		return nil, err
	}
	if runUUID == "" {
		return nil, ErrRunNotFound
	}

	var (
		summary  *rankdto.ChoiceSummary
		snapshot []byte
		final    *finalizedRun
	)
	key := runKey(runUUID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrRunNotFound
		}
		if err != nil {
			return err
		}
		var p runPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode run payload: %w", err)
		}

		sched := restoreScheduler(&p)
		next := sched.NextMatch()
		if next == nil {
			return ErrRunFinished
		}

		sides := replaySides(p.Items, sched.History())
		leftBefore := sides[next.Left]
		rightBefore := sides[next.Right]
		leftAfter, rightAfter := rating.CalculateNewRatings(leftBefore, rightBefore, outcome)

		sched.RecordOutcome(next.Left, next.Right, outcome)
		p.History = sched.History()
		p.Cursor = sched.Cursor()
		p.UpdatedAt = time.Now()

		encoded, err := json.Marshal(&p)
		if err != nil {
			return fmt.Errorf("encode run payload: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.cfg.RunTTL)
			return nil
		}); err != nil {
			return err
		}

		sides[next.Left] = leftAfter
		sides[next.Right] = rightAfter

		upcoming := sched.NextMatch()
		summary = &rankdto.ChoiceSummary{
			RunUUID: p.RunUUID,
			Outcome: string(outcome),
			Left: rankdto.RatingChange{
				Item:      itemFor(&p, next.Left),
				OldRating: leftBefore.Rating,
				NewRating: leftAfter.Rating,
				Delta:     leftAfter.Rating - leftBefore.Rating,
			},
			Right: rankdto.RatingChange{
				Item:      itemFor(&p, next.Right),
				OldRating: rightBefore.Rating,
				NewRating: rightAfter.Rating,
				Delta:     rightAfter.Rating - rightBefore.Rating,
			},
			Played:    sched.Played(),
			Total:     sched.TotalPairs(),
			Finished:  upcoming == nil,
			Next:      matchupFor(&p, sched, upcoming),
			Standings: standingsFromSides(&p, sides),
		}
		snapshot = encoded

		if upcoming == nil {
			f, err := s.buildFinal(&p, sides)
			if err != nil {
				return err
			}
			final = f
		}
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrRunConflict
	}
	if err != nil {
		return nil, err
	}

	s.saver.ScheduleSave(runUUID, snapshot)
	_ = s.roster.Refresh(ctx, identity.OwnerHash)

	if final != nil {
		s.finalize(ctx, identity, final)
	}

	s.logger.Debug("rank_choice",
		zap.String("run_uuid", runUUID),
		zap.String("outcome", string(outcome)),
		zap.Int("played", summary.Played),
		zap.Int("total", summary.Total))
	return summary, nil
}

// Undo removes the most recent outcome of the active run and re-offers that
// matchup.
func (s *Service) Undo(ctx context.Context, meta Meta) (*rankdto.RunState, error) {
	if err := s.ensureRoomAllowed(meta); err != nil {
		return nil, err
	}
	identity := deriveIdentity(meta)
	runUUID, err := s.roster.Lookup(ctx, identity.OwnerHash)
	if err != nil {
		return nil, err
	}
	if runUUID == "" {
		return nil, ErrRunNotFound
	}

	var (
		state    *rankdto.RunState
		snapshot []byte
	)
	key := runKey(runUUID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrRunNotFound
		}
		if err != nil {
			return err
		}
		var p runPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode run payload: %w", err)
		}

		sched := restoreScheduler(&p)
		if sched.UndoLastOutcome() == nil {
			return ErrUndoNotAvailable
		}
		p.History = sched.History()
		p.Cursor = sched.Cursor()
		p.UpdatedAt = time.Now()

		encoded, err := json.Marshal(&p)
		if err != nil {
			return fmt.Errorf("encode run payload: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.cfg.RunTTL)
			return nil
		}); err != nil {
			return err
		}

		state = stateFromPayload(&p)
		snapshot = encoded
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrRunConflict
	}
	if err != nil {
		return nil, err
	}

	s.saver.ScheduleSave(runUUID, snapshot)
	s.logger.Debug("rank_undo", zap.String("run_uuid", runUUID))
	return state, nil
}

// RunStandings returns the live standings of the active run, derived by
// replaying its history.
func (s *Service) RunStandings(ctx context.Context, meta Meta) ([]rankdto.Standing, *rankdto.RunState, error) {
	if err := s.ensureRoomAllowed(meta); err != nil {
		return nil, nil, err
	}
	identity := deriveIdentity(meta)
	p, err := s.activeRun(ctx, identity)
	if err != nil {
		return nil, nil, err
	}
	if p == nil {
		return nil, nil, ErrRunNotFound
	}
	sides := replaySides(p.Items, p.History)
	return standingsFromSides(p, sides), stateFromPayload(p), nil
}

// Leaderboard returns the room's persistent standings accumulated across
// finished runs.
func (s *Service) Leaderboard(ctx context.Context, meta Meta, limit int) ([]rankdto.Standing, error) {
	if err := s.ensureRoomAllowed(meta); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxListLimit {
		limit = s.cfg.HistoryLimit
	}
	identity := deriveIdentity(meta)
	rows, err := s.repo.GetStandings(ctx, identity.RoomHash, limit)
	if err != nil {
		return nil, err
	}
	out := make([]rankdto.Standing, 0, len(rows))
	for i, st := range rows {
		out = append(out, rankdto.Standing{
			Rank:        i + 1,
			Item:        rankdto.Item{Key: st.ItemKey, DisplayName: st.DisplayName},
			Rating:      st.Rating,
			GamesPlayed: st.GamesPlayed,
			Wins:        st.Wins,
			Losses:      st.Losses,
			Ties:        st.Ties,
		})
	}
	return out, nil
}

// Abandon archives the active run with an abandoned status and frees the
// owner slot. Room standings are not touched; only finished runs move them.
func (s *Service) Abandon(ctx context.Context, meta Meta) (*rankdto.RunState, error) {
	if err := s.ensureRoomAllowed(meta); err != nil {
		return nil, err
	}
	identity := deriveIdentity(meta)
	p, err := s.activeRun(ctx, identity)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrRunNotFound
	}

	now := time.Now()
	state := stateFromPayload(p)
	order := standingsFromSides(p, replaySides(p.Items, p.History))
	run := runRecord(p, order, runStatusAbandoned, now)

	if _, err := s.repo.SaveRun(ctx, run); err != nil && !errors.Is(err, ErrDuplicateRun) {
		s.logger.Error("rank_run_archive_error",
			zap.String("run_uuid", p.RunUUID),
			zap.Error(err))
	}
	if err := s.roster.Release(ctx, identity.OwnerHash, p.RunUUID); err != nil {
		s.logger.Warn("rank_roster_release_error",
			zap.String("run_uuid", p.RunUUID),
			zap.Error(err))
	}
	if err := s.rdb.Del(ctx, runKey(p.RunUUID)).Err(); err != nil {
		s.logger.Warn("rank_run_delete_error",
			zap.String("run_uuid", p.RunUUID),
			zap.Error(err))
	}

	s.logger.Info("rank_run_abandon",
		zap.String("run_uuid", p.RunUUID),
		zap.String("room_hash", p.RoomHash),
		zap.Int("played", len(p.History)))
	return state, nil
}

// RecentRuns lists finished and abandoned runs archived for this room.
func (s *Service) RecentRuns(ctx context.Context, meta Meta, limit int) ([]rankdto.RunSummary, error) {
	if err := s.ensureRoomAllowed(meta); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxListLimit {
		limit = s.cfg.HistoryLimit
	}
	identity := deriveIdentity(meta)
	runs, err := s.repo.GetRecentRuns(ctx, identity.RoomHash, limit)
	if err != nil {
		return nil, err
	}
	out := make([]rankdto.RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, summaryFromRun(run))
	}
	return out, nil
}

// Run returns one archived run by UUID, scoped to the caller's room. Short
// ids are accepted as a prefix of the full UUID, matching what the history
// listing prints.
func (s *Service) Run(ctx context.Context, meta Meta, runUUID string) (*rankdto.RunSummary, error) {
	if err := s.ensureRoomAllowed(meta); err != nil {
		return nil, err
	}
	id := strings.ToLower(strings.TrimSpace(runUUID))
	if id == "" {
		return nil, ErrRunNotFound
	}
	identity := deriveIdentity(meta)
	run, err := s.repo.GetRun(ctx, identity.RoomHash, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		run, err = s.findRunByPrefix(ctx, identity.RoomHash, id)
		if err != nil {
			return nil, err
		}
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	summary := summaryFromRun(run)
	return &summary, nil
}

func (s *Service) findRunByPrefix(ctx context.Context, roomHash, prefix string) (*domain.RankRun, error) {
	if len(prefix) >= 36 {
		return nil, nil
	}
	runs, err := s.repo.GetRecentRuns(ctx, roomHash, maxListLimit)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if strings.HasPrefix(run.RunUUID, prefix) {
			return run, nil
		}
	}
	return nil, nil
}

func (s *Service) ensureRoomAllowed(meta Meta) error {
	if len(s.allowed) == 0 {
		return nil
	}
	room := strings.ToLower(strings.TrimSpace(meta.Room))
	if _, ok := s.allowed[room]; ok {
		return nil
	}
	s.logger.Warn("rank_room_blocked", zap.String("room", meta.Room))
	return ErrRoomNotAllowed
}

// activeRun resolves the owner's roster entry to a loaded payload. A roster
// entry whose run key has expired is released on sight.
func (s *Service) activeRun(ctx context.Context, identity runIdentity) (*runPayload, error) {
	runUUID, err := s.roster.Lookup(ctx, identity.OwnerHash)
	if err != nil {
		return nil, err
	}
	if runUUID == "" {
		return nil, nil
	}
	p, err := s.loadRun(ctx, runUUID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		_ = s.roster.Release(ctx, identity.OwnerHash, runUUID)
		return nil, nil
	}
	return p, nil
}

func (s *Service) resolveItems(args string) ([]payloadItem, string, string, error) {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		trimmed = s.cfg.DefaultPool
	}
	if trimmed == "" {
		return nil, "", "", ErrTooFewItems
	}

	if strings.Contains(trimmed, ",") {
		items, err := s.parseNames(trimmed)
		return items, "", "", err
	}

	pool, ok := s.pools.Find(trimmed)
	if !ok {
		return nil, "", "", fmt.Errorf("%w: %q", ErrUnknownPool, trimmed)
	}
	if len(pool.Names) > s.cfg.MaxItems {
		return nil, "", "", fmt.Errorf("%w: pool %q has %d names", ErrTooManyItems, pool.Key, len(pool.Names))
	}
	items := make([]payloadItem, 0, len(pool.Names))
	for _, name := range pool.Names {
		items = append(items, payloadItem{Key: util.ItemKey(name), DisplayName: name})
	}
	return items, pool.Key, pool.Title, nil
}

func (s *Service) parseNames(list string) ([]payloadItem, error) {
	parts := strings.Split(list, ",")
	items := make([]payloadItem, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		display := util.NormalizeDisplayName(part)
		if display == "" {
			continue
		}
		key := util.ItemKey(display)
		if _, ok := seen[key]; ok {
			continue // keep the first spelling of a repeated name
		}
		seen[key] = struct{}{}
		items = append(items, payloadItem{Key: key, DisplayName: display})
	}
	if len(items) < 2 {
		return nil, ErrTooFewItems
	}
	if len(items) > s.cfg.MaxItems {
		return nil, fmt.Errorf("%w: got %d, limit is %d", ErrTooManyItems, len(items), s.cfg.MaxItems)
	}
	return items, nil
}

func (s *Service) loadRun(ctx context.Context, runUUID string) (*runPayload, error) {
	raw, err := s.rdb.Get(ctx, runKey(runUUID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p runPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode run payload: %w", err)
	}
	return &p, nil
}

func (s *Service) saveRun(ctx context.Context, p *runPayload) error {
	p.UpdatedAt = time.Now()
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode run payload: %w", err)
	}
	return s.rdb.Set(ctx, runKey(p.RunUUID), raw, s.cfg.RunTTL).Err()
}

func (s *Service) scheduleSnapshot(p *runPayload) {
	raw, err := json.Marshal(p)
	if err != nil {
		s.logger.Error("rank_snapshot_encode_error",
			zap.String("run_uuid", p.RunUUID),
			zap.Error(err))
		return
	}
	s.saver.ScheduleSave(p.RunUUID, raw)
}

// finalizedRun carries everything finalize needs outside the redis
// transaction that produced it.
type finalizedRun struct {
	run       *domain.RankRun
	standings []*domain.Standing
	result    []byte
}

func (s *Service) buildFinal(p *runPayload, sides map[string]rating.Side) (*finalizedRun, error) {
	now := time.Now()
	order := standingsFromSides(p, sides)
	run := runRecord(p, order, runStatusFinished, now)

	standings := make([]*domain.Standing, 0, len(order))
	for _, st := range order {
		standings = append(standings, &domain.Standing{
			RoomHash:    p.RoomHash,
			ItemKey:     st.Item.Key,
			DisplayName: st.Item.DisplayName,
			Rating:      st.Rating,
			GamesPlayed: st.GamesPlayed,
			Wins:        st.Wins,
			Losses:      st.Losses,
			Ties:        st.Ties,
			LastRunUUID: p.RunUUID,
			UpdatedAt:   now,
		})
	}

	result, err := json.Marshal(resultPayload{
		RunUUID:     p.RunUUID,
		RoomHash:    p.RoomHash,
		PoolKey:     p.PoolKey,
		Winner:      run.Winner,
		FinalOrder:  run.FinalOrder,
		Comparisons: run.Comparisons,
		StartedAt:   p.StartedAt,
		EndedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("encode run result: %w", err)
	}
	return &finalizedRun{run: run, standings: standings, result: result}, nil
}

// finalize archives the run, folds its final ratings into room standings,
// frees the owner slot and hands the result write to the durable queue.
// Archive failures are logged, not surfaced; the user-visible outcome is
// already decided.
func (s *Service) finalize(ctx context.Context, identity runIdentity, f *finalizedRun) {
	if _, err := s.repo.SaveRun(ctx, f.run); err != nil && !errors.Is(err, ErrDuplicateRun) {
		s.logger.Error("rank_run_archive_error",
			zap.String("run_uuid", f.run.RunUUID),
			zap.Error(err))
	}
	for _, st := range f.standings {
		if err := s.repo.UpsertStanding(ctx, st); err != nil {
			s.logger.Warn("rank_standing_upsert_error",
				zap.String("item", st.ItemKey),
				zap.Error(err))
		}
	}
	if err := s.roster.Release(ctx, identity.OwnerHash, f.run.RunUUID); err != nil {
		s.logger.Warn("rank_roster_release_error",
			zap.String("run_uuid", f.run.RunUUID),
			zap.Error(err))
	}
	if err := s.rdb.Del(ctx, runKey(f.run.RunUUID)).Err(); err != nil {
		s.logger.Warn("rank_run_delete_error",
			zap.String("run_uuid", f.run.RunUUID),
			zap.Error(err))
	}
	if _, err := s.queue.Enqueue(ctx, WriteKindRunResult, f.result); err != nil {
		s.logger.Error("rank_result_enqueue_error",
			zap.String("run_uuid", f.run.RunUUID),
			zap.Error(err))
	} else {
		s.queue.Kick()
	}

	s.logger.Info("rank_run_finish",
		zap.String("run_uuid", f.run.RunUUID),
		zap.String("room_hash", f.run.RoomHash),
		zap.String("winner", f.run.Winner),
		zap.Int("comparisons", f.run.Comparisons))
}

func runKey(runUUID string) string {
	return "rank:run:" + strings.TrimSpace(runUUID)
}

func restoreScheduler(p *runPayload) *schedule.Scheduler {
	keys := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		keys = append(keys, it.Key)
	}
	return schedule.Restore(keys, p.History, p.Cursor)
}

// replaySides derives every candidate's rating and counters by replaying the
// recorded history from the default rating.
func replaySides(items []payloadItem, history []schedule.MatchRecord) map[string]rating.Side {
	sides := make(map[string]rating.Side, len(items))
	for _, it := range items {
		sides[it.Key] = rating.Side{Rating: rating.DefaultRating}
	}
	for _, rec := range history {
		left, lok := sides[rec.Left]
		right, rok := sides[rec.Right]
		if !lok || !rok {
			continue
		}
		sides[rec.Left], sides[rec.Right] = rating.CalculateNewRatings(left, right, rec.Outcome)
	}
	return sides
}

func standingsFromSides(p *runPayload, sides map[string]rating.Side) []rankdto.Standing {
	out := make([]rankdto.Standing, 0, len(p.Items))
	for _, it := range p.Items {
		side := sides[it.Key]
		out = append(out, rankdto.Standing{
			Item:        rankdto.Item{Key: it.Key, DisplayName: it.DisplayName},
			Rating:      side.Rating,
			GamesPlayed: side.GamesPlayed,
			Wins:        side.Wins,
			Losses:      side.Losses,
			Ties:        side.Ties,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		return out[i].Item.DisplayName < out[j].Item.DisplayName
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func stateFromPayload(p *runPayload) *rankdto.RunState {
	sched := restoreScheduler(p)
	next := sched.NextMatch()
	items := make([]rankdto.Item, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, rankdto.Item{Key: it.Key, DisplayName: it.DisplayName})
	}
	return &rankdto.RunState{
		RunUUID:    p.RunUUID,
		RoomHash:   p.RoomHash,
		OwnerName:  p.OwnerName,
		PoolKey:    p.PoolKey,
		PoolTitle:  p.PoolTitle,
		Items:      items,
		Played:     sched.Played(),
		TotalPairs: sched.TotalPairs(),
		Finished:   next == nil,
		Next:       matchupFor(p, sched, next),
		StartedAt:  p.StartedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func matchupFor(p *runPayload, sched *schedule.Scheduler, pair *schedule.Pair) *rankdto.Matchup {
	if pair == nil {
		return nil
	}
	return &rankdto.Matchup{
		Left:     itemFor(p, pair.Left),
		Right:    itemFor(p, pair.Right),
		Sequence: sched.Played() + 1,
		Total:    sched.TotalPairs(),
	}
}

func itemFor(p *runPayload, key string) rankdto.Item {
	for _, it := range p.Items {
		if it.Key == key {
			return rankdto.Item{Key: it.Key, DisplayName: it.DisplayName}
		}
	}
	return rankdto.Item{Key: key, DisplayName: key}
}

func runRecord(p *runPayload, order []rankdto.Standing, status string, endedAt time.Time) *domain.RankRun {
	items := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, it.DisplayName)
	}
	finalOrder := make([]string, 0, len(order))
	for _, st := range order {
		finalOrder = append(finalOrder, st.Item.DisplayName)
	}
	winner := ""
	if status == runStatusFinished && len(finalOrder) > 0 {
		winner = finalOrder[0]
	}
	return &domain.RankRun{
		RunUUID:     p.RunUUID,
		OwnerHash:   p.OwnerHash,
		RoomHash:    p.RoomHash,
		PoolKey:     p.PoolKey,
		Items:       items,
		FinalOrder:  finalOrder,
		Winner:      winner,
		Comparisons: len(p.History),
		Status:      status,
		StartedAt:   p.StartedAt,
		EndedAt:     endedAt,
		Duration:    endedAt.Sub(p.StartedAt),
	}
}

func summaryFromRun(run *domain.RankRun) rankdto.RunSummary {
	return rankdto.RunSummary{
		ID:          run.ID,
		RunUUID:     run.RunUUID,
		RoomHash:    run.RoomHash,
		PoolKey:     run.PoolKey,
		ItemCount:   len(run.Items),
		Comparisons: run.Comparisons,
		Winner:      run.Winner,
		FinalOrder:  append([]string(nil), run.FinalOrder...),
		Status:      run.Status,
		StartedAt:   run.StartedAt,
		EndedAt:     run.EndedAt,
		Duration:    run.Duration,
	}
}

func deriveIdentity(meta Meta) runIdentity {
	room := strings.ToLower(strings.TrimSpace(meta.Room))
	sender := strings.ToLower(strings.TrimSpace(meta.Sender))
	return runIdentity{
		OwnerHash: hashString(room + ":" + sender),
		RoomHash:  hashString(room),
	}
}

func hashString(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
