package service

import (
	"context"
	"fmt"
	"log/slog"

	"gamepulse/internal/model"
)

type ApprovalService struct {
	approvals ApprovalStore
}

func NewApprovalService(approvals ApprovalStore) *ApprovalService {
	return &ApprovalService{approvals: approvals}
}

// Record appends the user's consent answer.
func (s *ApprovalService) Record(ctx context.Context, userID string, consent bool) (model.Approval, error) {
	approval, err := s.approvals.Insert(ctx, userID, consent)
	if err != nil {
		return model.Approval{}, fmt.Errorf("record approval: %w", err)
	}

	slog.Info("consent recorded", "user_id", userID, "consent", consent)
	return approval, nil
}

// HasApproved reports the latest answer; a user who never answered has not
// approved.
func (s *ApprovalService) HasApproved(ctx context.Context, userID string) (bool, error) {
	approval, ok, err := s.approvals.Latest(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("latest approval: %w", err)
	}
	return ok && approval.ConsentGiven, nil
}
