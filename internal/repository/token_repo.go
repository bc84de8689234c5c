package repository

import (
	"context"
	"fmt"
	"time"

	"gamepulse/internal/model"
)

// StoreLoginRefresh records a fresh login: the refresh hash is overwritten,
// which ends any session the user had before.
func (r *UserRepository) StoreLoginRefresh(ctx context.Context, userID string, hash string, at time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE users SET refresh_token_hash = $2, last_login_at = $3 WHERE id = $1`,
		userID, hash, at)
	if err != nil {
		return fmt.Errorf("store login refresh hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// SwapRefreshHash replaces the stored hash only while it still equals
// expected. It reports false when another writer got there first.
func (r *UserRepository) SwapRefreshHash(ctx context.Context, userID string, expected string, next string) (bool, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE users SET refresh_token_hash = $3
		 WHERE id = $1 AND refresh_token_hash = $2`,
		userID, expected, next)
	if err != nil {
		return false, fmt.Errorf("swap refresh hash: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *UserRepository) ClearRefreshHash(ctx context.Context, userID string) error {
	_, err := r.q.Exec(ctx,
		`UPDATE users SET refresh_token_hash = '' WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("clear refresh hash: %w", err)
	}
	return nil
}
