package ranking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jwp-labs/rankduel/internal/domain"
)

var ErrDuplicateRun = errors.New("ranking run already archived")

type Repository interface {
	SaveRun(ctx context.Context, run *domain.RankRun) (int64, error)
	GetRecentRuns(ctx context.Context, roomHash string, limit int) ([]*domain.RankRun, error)
	GetRun(ctx context.Context, roomHash string, runUUID string) (*domain.RankRun, error)
	UpsertStanding(ctx context.Context, st *domain.Standing) error
	GetStandings(ctx context.Context, roomHash string, limit int) ([]*domain.Standing, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) SaveRun(ctx context.Context, run *domain.RankRun) (int64, error) {
	if run == nil {
		return 0, fmt.Errorf("nil rank run payload")
	}

	items, err := json.Marshal(run.Items)
	if err != nil {
		return 0, fmt.Errorf("marshal items: %w", err)
	}
	finalOrder, err := json.Marshal(run.FinalOrder)
	if err != nil {
		return 0, fmt.Errorf("marshal final_order: %w", err)
	}

	const query = `
		INSERT INTO rank_runs (
			run_uuid,
			owner_hash,
			room_hash,
			pool_key,
			items,
			final_order,
			winner,
			comparisons,
			status,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_uuid) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(
		ctx,
		query,
		run.RunUUID,
		run.OwnerHash,
		run.RoomHash,
		run.PoolKey,
		items,
		finalOrder,
		run.Winner,
		run.Comparisons,
		run.Status,
		run.StartedAt,
		run.EndedAt,
		run.Duration.Milliseconds(),
	).Scan(&id)
	if err == sql.ErrNoRows || (err == nil && !id.Valid) {
		return 0, ErrDuplicateRun
	}
	if err != nil {
		return 0, fmt.Errorf("insert rank run: %w", err)
	}
	return id.Int64, nil
}

func (r *repository) GetRecentRuns(ctx context.Context, roomHash string, limit int) ([]*domain.RankRun, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT
			id,
			run_uuid,
			owner_hash,
			room_hash,
			pool_key,
			items,
			final_order,
			winner,
			comparisons,
			status,
			started_at,
			ended_at,
			duration_ms
		FROM rank_runs
		WHERE room_hash = $1
		ORDER BY ended_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, roomHash, limit)
	if err != nil {
		return nil, fmt.Errorf("select rank runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.RankRun, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (r *repository) GetRun(ctx context.Context, roomHash string, runUUID string) (*domain.RankRun, error) {
	const query = `
		SELECT
			id,
			run_uuid,
			owner_hash,
			room_hash,
			pool_key,
			items,
			final_order,
			winner,
			comparisons,
			status,
			started_at,
			ended_at,
			duration_ms
		FROM rank_runs
		WHERE room_hash = $1 AND run_uuid = $2
		LIMIT 1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, roomHash, runUUID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func scanRun(scan func(dest ...any) error) (*domain.RankRun, error) {
	var (
		run            domain.RankRun
		itemsJSON      []byte
		finalOrderJSON []byte
		durationMS     sql.NullInt64
	)
	err := scan(
		&run.ID,
		&run.RunUUID,
		&run.OwnerHash,
		&run.RoomHash,
		&run.PoolKey,
		&itemsJSON,
		&finalOrderJSON,
		&run.Winner,
		&run.Comparisons,
		&run.Status,
		&run.StartedAt,
		&run.EndedAt,
		&durationMS,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("scan rank run: %w", err)
	}
	if durationMS.Valid {
		run.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	if err := json.Unmarshal(itemsJSON, &run.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	if err := json.Unmarshal(finalOrderJSON, &run.FinalOrder); err != nil {
		return nil, fmt.Errorf("unmarshal final_order: %w", err)
	}
	return &run, nil
}

func (r *repository) UpsertStanding(ctx context.Context, st *domain.Standing) error {
	if st == nil {
		return fmt.Errorf("nil standing payload")
	}
	const query = `
		INSERT INTO rank_standings (
			room_hash,
			item_key,
			display_name,
			rating,
			games_played,
			wins,
			losses,
			ties,
			last_run_uuid,
			updated_at,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (room_hash, item_key)
		DO UPDATE SET
			display_name = EXCLUDED.display_name,
			rating = EXCLUDED.rating,
			games_played = rank_standings.games_played + EXCLUDED.games_played,
			wins = rank_standings.wins + EXCLUDED.wins,
			losses = rank_standings.losses + EXCLUDED.losses,
			ties = rank_standings.ties + EXCLUDED.ties,
			last_run_uuid = EXCLUDED.last_run_uuid,
			updated_at = NOW()`

	_, err := r.db.ExecContext(
		ctx,
		query,
		st.RoomHash,
		st.ItemKey,
		st.DisplayName,
		st.Rating,
		st.GamesPlayed,
		st.Wins,
		st.Losses,
		st.Ties,
		st.LastRunUUID,
	)
	if err != nil {
		return fmt.Errorf("upsert rank standing: %w", err)
	}
	return nil
}

func (r *repository) GetStandings(ctx context.Context, roomHash string, limit int) ([]*domain.Standing, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT
			room_hash,
			item_key,
			display_name,
			rating,
			games_played,
			wins,
			losses,
			ties,
			last_run_uuid,
			updated_at,
			created_at
		FROM rank_standings
		WHERE room_hash = $1
		ORDER BY rating DESC, wins DESC, display_name ASC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, roomHash, limit)
	if err != nil {
		return nil, fmt.Errorf("select rank standings: %w", err)
	}
	defer rows.Close()

	standings := make([]*domain.Standing, 0, limit)
	for rows.Next() {
		var st domain.Standing
		if err := rows.Scan(
			&st.RoomHash,
			&st.ItemKey,
			&st.DisplayName,
			&st.Rating,
			&st.GamesPlayed,
			&st.Wins,
			&st.Losses,
			&st.Ties,
			&st.LastRunUUID,
			&st.UpdatedAt,
			&st.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rank standing: %w", err)
		}
		standings = append(standings, &st)
	}
	return standings, nil
}
