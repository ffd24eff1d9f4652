package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mpreston/matchpoint/internal/engine"
)

// Memory is an in-process store with the same semantics as the postgres
// implementation. Used by tests; the compare-and-append guard behaves
// identically.
type Memory struct {
	mu     sync.Mutex
	users  map[string]User
	series map[string]engine.Series
	tokens map[string]tokenModel
}

func NewMemory() *Memory {
	return &Memory{
		users:  make(map[string]User),
		series: make(map[string]engine.Series),
		tokens: make(map[string]tokenModel),
	}
}

func (m *Memory) CreateUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return User{}, ErrDuplicateEmail
		}
		if existing.Username == u.Username {
			return User{}, ErrDuplicateUsername
		}
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) UserByID(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) UserByIdentifier(_ context.Context, identifier string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == identifier || u.Username == identifier {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *Memory) UserByUsername(_ context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *Memory) CreateToken(_ context.Context, token, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = tokenModel{Token: token, UserID: userID, ExpiresAt: expiresAt}
	return nil
}

func (m *Memory) UserForToken(ctx context.Context, token string) (User, error) {
	m.mu.Lock()
	t, ok := m.tokens[token]
	if ok && time.Now().After(t.ExpiresAt) {
		delete(m.tokens, token)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return User{}, ErrNotFound
	}
	return m.UserByID(ctx, t.UserID)
}

func (m *Memory) DeleteToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *Memory) CreateSeries(_ context.Context, s engine.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[s.ID] = s
	return nil
}

func (m *Memory) GetSeries(_ context.Context, id string) (engine.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[id]
	if !ok {
		return engine.Series{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) SaveSeries(_ context.Context, s engine.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[s.ID] = s
	return nil
}

func (m *Memory) CompareAndAppendRound(_ context.Context, id string, expectedRounds int, r engine.Round) (engine.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[id]
	if !ok {
		return engine.Series{}, ErrNotFound
	}
	if len(s.Rounds) != expectedRounds {
		return engine.Series{}, ErrConflict
	}
	s.Rounds = append(append([]engine.Round{}, s.Rounds...), r)
	s.CurrentRoundIndex = r.Index
	s.UpdatedAt = time.Now().UTC()
	m.series[id] = s
	return s, nil
}

func (m *Memory) SaveResolved(_ context.Context, s engine.Series, deltas []engine.StatDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[s.ID] = s
	for _, d := range deltas {
		u, ok := m.users[d.UserID]
		if !ok {
			continue
		}
		u.Stats.GamesPlayed += d.Played
		u.Stats.GamesWon += d.Won
		u.Stats.GamesLost += d.Lost
		m.users[d.UserID] = u
	}
	return nil
}

func (m *Memory) DeleteSeries(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.series, id)
	return nil
}

func (m *Memory) ListActiveFor(_ context.Context, userID string) ([]engine.Series, error) {
	return m.list(userID, engine.StatusPending, engine.StatusActive)
}

func (m *Memory) ListCompletedFor(_ context.Context, userID string) ([]engine.Series, error) {
	return m.list(userID, engine.StatusCompleted)
}

func (m *Memory) list(userID string, statuses ...engine.Status) ([]engine.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []engine.Series
	for _, s := range m.series {
		if !engine.IsParticipant(s, userID) {
			continue
		}
		for _, st := range statuses {
			if s.Status == st {
				out = append(out, s)
				break
			}
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// sortNewestFirst matches the postgres ordering (created_at DESC) so the two
// implementations return lists in the same order.
func sortNewestFirst(out []engine.Series) {
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
}

func (m *Memory) PendingInvitationsFor(_ context.Context, userID string) ([]engine.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []engine.Series
	for _, s := range m.series {
		if s.InvitedUserID == userID && s.Status == engine.StatusPending {
			out = append(out, s)
		}
	}
	sortNewestFirst(out)
	return out, nil
}
