package repository

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/park285/Cheese-Endgame-Trainer/internal/domain"
)

// Memory is the repository used when no database is configured.
type Memory struct {
	mu     sync.RWMutex
	nextID int64

	byID      map[int64]*domain.TrainingResult
	byPlayer  map[string][]*domain.TrainingResult // latest last
	bySession map[string]*domain.TrainingResult
	profiles  map[string]*domain.TrainingProfile
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		byID:      make(map[int64]*domain.TrainingResult),
		byPlayer:  make(map[string][]*domain.TrainingResult),
		bySession: make(map[string]*domain.TrainingResult),
		profiles:  make(map[string]*domain.TrainingProfile),
		now:       time.Now,
	}
}

func (m *Memory) InsertResult(_ context.Context, res *domain.TrainingResult) (int64, error) {
	if res == nil {
		return 0, ErrDuplicateResult
	}
	key := strings.TrimSpace(res.SessionID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bySession[key]; exists {
		return 0, ErrDuplicateResult
	}
	m.nextID++
	stored := cloneResult(res)
	stored.ID = m.nextID

	m.byID[stored.ID] = stored
	m.bySession[key] = stored
	m.byPlayer[res.PlayerID] = append(m.byPlayer[res.PlayerID], stored)
	return stored.ID, nil
}

func (m *Memory) RecentResults(_ context.Context, playerID string, limit int) ([]*domain.TrainingResult, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	m.mu.RLock()
	items := slices.Clone(m.byPlayer[playerID])
	m.mu.RUnlock()

	slices.SortFunc(items, func(a, b *domain.TrainingResult) int {
		if c := b.EndedAt.Compare(a.EndedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]*domain.TrainingResult, 0, len(items))
	for _, r := range items {
		out = append(out, cloneResult(r))
	}
	return out, nil
}

func (m *Memory) GetResult(_ context.Context, id int64, playerID string) (*domain.TrainingResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok || r.PlayerID != playerID {
		return nil, nil
	}
	return cloneResult(r), nil
}

func (m *Memory) GetResultBySession(_ context.Context, sessionID string, playerID string) (*domain.TrainingResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.bySession[strings.TrimSpace(sessionID)]
	if !ok || r.PlayerID != playerID {
		return nil, nil
	}
	return cloneResult(r), nil
}

func (m *Memory) GetProfile(_ context.Context, playerID string) (*domain.TrainingProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[strings.TrimSpace(playerID)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) AddToProfile(_ context.Context, res domain.TrainingResult) error {
	key := strings.TrimSpace(res.PlayerID)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[key]
	if !ok {
		p = &domain.TrainingProfile{PlayerID: key, CreatedAt: now}
		m.profiles[key] = p
	}
	ApplyResult(p, res)
	p.UpdatedAt = now
	return nil
}

func cloneResult(r *domain.TrainingResult) *domain.TrainingResult {
	cp := *r
	cp.MovesUCI = slices.Clone(r.MovesUCI)
	cp.Mistakes = slices.Clone(r.Mistakes)
	return &cp
}
