package service

import (
	"context"
	"fmt"

	"gamepulse/internal/model"
)

type PlayerStore interface {
	ListByCoach(ctx context.Context, coachID string) ([]model.Player, error)
}

type PlayerService struct {
	players PlayerStore
}

func NewPlayerService(players PlayerStore) *PlayerService {
	return &PlayerService{players: players}
}

func (s *PlayerService) Roster(ctx context.Context, coachID string) ([]model.Player, error) {
	players, err := s.players.ListByCoach(ctx, coachID)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	return players, nil
}
