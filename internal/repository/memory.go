package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"gamepulse/internal/model"
)

// MemoryStore keeps users, approvals and players in process memory. It backs
// STORE_DRIVER=memory and the service tests.
type MemoryStore struct {
	Users     *MemoryUserRepository
	Approvals *MemoryApprovalRepository
	Players   *MemoryPlayerRepository
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Users:     &MemoryUserRepository{users: make(map[string]model.User)},
		Approvals: &MemoryApprovalRepository{},
		Players:   &MemoryPlayerRepository{},
	}
}

type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]model.User
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUserRepository) FindByUsername(_ context.Context, username string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (r *MemoryUserRepository) FindByNormalizedUsername(_ context.Context, username string) ([]model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := NormalizeUsername(username)
	matches := make([]model.User, 0, 1)
	for _, u := range r.users {
		if NormalizeUsername(u.Username) == want {
			matches = append(matches, u)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches, nil
}

func (r *MemoryUserRepository) CountByNormalizedUsername(ctx context.Context, username string) (int, error) {
	matches, err := r.FindByNormalizedUsername(ctx, username)
	return len(matches), err
}

func (r *MemoryUserRepository) Create(_ context.Context, u model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[u.ID]; exists {
		return model.ErrUserAlreadyExists
	}
	r.users[u.ID] = u
	return nil
}

func (r *MemoryUserRepository) StoreLoginRefresh(_ context.Context, userID string, hash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.RefreshHash = hash
	u.LastLoginAt = &at
	r.users[userID] = u
	return nil
}

func (r *MemoryUserRepository) SwapRefreshHash(_ context.Context, userID string, expected string, next string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok || u.RefreshHash != expected {
		return false, nil
	}
	u.RefreshHash = next
	r.users[userID] = u
	return true, nil
}

func (r *MemoryUserRepository) ClearRefreshHash(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[userID]; ok {
		u.RefreshHash = ""
		r.users[userID] = u
	}
	return nil
}

type MemoryApprovalRepository struct {
	mu      sync.RWMutex
	nextID  int64
	records []model.Approval
}

func (r *MemoryApprovalRepository) Insert(_ context.Context, userID string, consent bool) (model.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	a := model.Approval{
		ID:           r.nextID,
		UserID:       userID,
		ConsentGiven: consent,
		ConsentTime:  time.Now().UTC(),
	}
	r.records = append(r.records, a)
	return a, nil
}

func (r *MemoryApprovalRepository) Latest(_ context.Context, userID string) (model.Approval, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].UserID == userID {
			return r.records[i], true, nil
		}
	}
	return model.Approval{}, false, nil
}

type MemoryPlayerRepository struct {
	mu      sync.RWMutex
	players []model.Player
}

func (r *MemoryPlayerRepository) ListByCoach(_ context.Context, coachID string) ([]model.Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Player, 0)
	for _, p := range r.players {
		if p.CoachID == coachID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JerseyNumber < out[j].JerseyNumber })
	return out, nil
}

func (r *MemoryPlayerRepository) Create(_ context.Context, p model.Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.players = append(r.players, p)
	return nil
}
