package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"gamepulse/internal/database"
	"gamepulse/internal/model"
)

const userColumns = `id, username, password_hash, refresh_token_hash, last_login_at, created_at`

type UserRepository struct {
	q database.Querier
}

// NewUserRepository accepts a pool or a transaction.
func NewUserRepository(q database.Querier) *UserRepository {
	return &UserRepository{q: q}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (model.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("find user by id: %w", err)
	}
	return u, nil
}

// FindByUsername matches the stored username exactly. It only serves
// refresh tokens that carry a username and no subject.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (model.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 LIMIT 1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("find user by username: %w", err)
	}
	return u, nil
}

// FindByNormalizedUsername returns every row whose trimmed, lower-cased
// username equals the normalized input. Callers treat more than one row as
// an ambiguous identity.
func (r *UserRepository) FindByNormalizedUsername(ctx context.Context, username string) ([]model.User, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(btrim(username)) = $1 LIMIT 2`,
		NormalizeUsername(username))
	if err != nil {
		return nil, fmt.Errorf("find user by normalized username: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, 1)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepository) Create(ctx context.Context, u model.User) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, created_at)
		 VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) CountByNormalizedUsername(ctx context.Context, username string) (int, error) {
	var count int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE lower(btrim(username)) = $1`,
		NormalizeUsername(username)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count users by username: %w", err)
	}
	return count, nil
}

// NormalizeUsername is the lookup form of a username: trimmed and lower-cased.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.RefreshHash, &u.LastLoginAt, &u.CreatedAt)
	return u, err
}
