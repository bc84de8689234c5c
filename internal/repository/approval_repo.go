package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"gamepulse/internal/database"
	"gamepulse/internal/model"
)

type ApprovalRepository struct {
	q database.Querier
}

func NewApprovalRepository(q database.Querier) *ApprovalRepository {
	return &ApprovalRepository{q: q}
}

// Insert appends a consent record. History is never rewritten.
func (r *ApprovalRepository) Insert(ctx context.Context, userID string, consent bool) (model.Approval, error) {
	var a model.Approval
	err := r.q.QueryRow(ctx,
		`INSERT INTO approvals (user_id, consent_given, consent_time)
		 VALUES ($1, $2, clock_timestamp())
		 RETURNING id, user_id, consent_given, consent_time`,
		userID, consent).
		Scan(&a.ID, &a.UserID, &a.ConsentGiven, &a.ConsentTime)
	if err != nil {
		return model.Approval{}, fmt.Errorf("insert approval: %w", err)
	}
	return a, nil
}

// Latest returns the most recent record for the user; ok is false when the
// user never answered.
func (r *ApprovalRepository) Latest(ctx context.Context, userID string) (model.Approval, bool, error) {
	var a model.Approval
	err := r.q.QueryRow(ctx,
		`SELECT id, user_id, consent_given, consent_time
		 FROM approvals WHERE user_id = $1
		 ORDER BY consent_time DESC, id DESC LIMIT 1`, userID).
		Scan(&a.ID, &a.UserID, &a.ConsentGiven, &a.ConsentTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Approval{}, false, nil
	}
	if err != nil {
		return model.Approval{}, false, fmt.Errorf("latest approval: %w", err)
	}
	return a, true, nil
}
