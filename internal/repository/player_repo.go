package repository

import (
	"context"
	"fmt"

	"gamepulse/internal/database"
	"gamepulse/internal/model"
)

type PlayerRepository struct {
	q database.Querier
}

func NewPlayerRepository(q database.Querier) *PlayerRepository {
	return &PlayerRepository{q: q}
}

func (r *PlayerRepository) ListByCoach(ctx context.Context, coachID string) ([]model.Player, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, coach_id, jersey_number, position, hr_rest_est, hr_max_est,
		        cardio_level, baseline_recovery_score, created_at
		 FROM players WHERE coach_id = $1
		 ORDER BY jersey_number ASC`, coachID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	players := make([]model.Player, 0)
	for rows.Next() {
		var p model.Player
		if err := rows.Scan(&p.ID, &p.CoachID, &p.JerseyNumber, &p.Position, &p.HRRestEst,
			&p.HRMaxEst, &p.CardioLevel, &p.RecoveryScore, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (r *PlayerRepository) Create(ctx context.Context, p model.Player) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO players (id, coach_id, jersey_number, position, hr_rest_est, hr_max_est,
		                      cardio_level, baseline_recovery_score, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.CoachID, p.JerseyNumber, p.Position, p.HRRestEst, p.HRMaxEst,
		p.CardioLevel, p.RecoveryScore, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create player: %w", err)
	}
	return nil
}
