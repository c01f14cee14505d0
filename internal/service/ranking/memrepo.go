package ranking

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jwp-labs/rankduel/internal/domain"
)

// memrepo is a development-only in-memory repository implementation used when no DB is configured.
type memrepo struct {
	mu sync.RWMutex

	nextID int64

	runsByUUID map[string]*domain.RankRun
	runsByRoom map[string][]*domain.RankRun // roomHash -> slice (append, latest last)

	standings map[string]*domain.Standing // roomHash|itemKey -> standing
}

func NewMemoryRepository() Repository {
	return &memrepo{
		runsByUUID: make(map[string]*domain.RankRun),
		runsByRoom: make(map[string][]*domain.RankRun),
		standings:  make(map[string]*domain.Standing),
	}
}

func (m *memrepo) SaveRun(ctx context.Context, run *domain.RankRun) (int64, error) {
	if run == nil {
		return 0, ErrDuplicateRun
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runsByUUID[run.RunUUID]; exists {
		return 0, ErrDuplicateRun
	}

	m.nextID++
	id := m.nextID
	copy := *run
	copy.ID = id
	copy.Items = append([]string(nil), run.Items...)
	copy.FinalOrder = append([]string(nil), run.FinalOrder...)

	m.runsByUUID[run.RunUUID] = &copy
	m.runsByRoom[run.RoomHash] = append(m.runsByRoom[run.RoomHash], &copy)

	return id, nil
}

func (m *memrepo) GetRecentRuns(ctx context.Context, roomHash string, limit int) ([]*domain.RankRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.runsByRoom[roomHash]
	if len(list) == 0 {
		return []*domain.RankRun{}, nil
	}
	// Sort by EndedAt desc (fallback to ID desc)
	items := append([]*domain.RankRun(nil), list...)
	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]*domain.RankRun, 0, len(items))
	for _, run := range items {
		copy := *run
		out = append(out, &copy)
	}
	return out, nil
}

func (m *memrepo) GetRun(ctx context.Context, roomHash string, runUUID string) (*domain.RankRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runsByUUID[strings.TrimSpace(runUUID)]
	if !ok || run == nil || run.RoomHash != roomHash {
		return nil, nil
	}
	copy := *run
	return &copy, nil
}

func (m *memrepo) UpsertStanding(ctx context.Context, st *domain.Standing) error {
	if st == nil {
		return nil
	}
	key := m.standingKey(st.RoomHash, st.ItemKey)
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if cur, ok := m.standings[key]; ok && cur != nil {
		cur.DisplayName = st.DisplayName
		cur.Rating = st.Rating
		cur.GamesPlayed += st.GamesPlayed
		cur.Wins += st.Wins
		cur.Losses += st.Losses
		cur.Ties += st.Ties
		cur.LastRunUUID = st.LastRunUUID
		cur.UpdatedAt = now
		return nil
	}
	copy := *st
	copy.CreatedAt = now
	copy.UpdatedAt = now
	m.standings[key] = &copy
	return nil
}

func (m *memrepo) GetStandings(ctx context.Context, roomHash string, limit int) ([]*domain.Standing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Standing, 0, len(m.standings))
	for _, st := range m.standings {
		if st.RoomHash != roomHash {
			continue
		}
		copy := *st
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memrepo) standingKey(roomHash, itemKey string) string {
	return strings.TrimSpace(roomHash) + "|" + strings.TrimSpace(itemKey)
}
