package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gamepulse/internal/event"
	"gamepulse/internal/ingest"
	"gamepulse/internal/metrics"
)

type Publisher interface {
	Publish(typ event.Type, payload any) (event.Event, error)
}

type SnapshotWriter interface {
	Put(ctx context.Context, ev ingest.Event) error
}

// IngestService takes producer payloads through validation, broadcast and
// the live snapshot. Rejected payloads never reach the hub.
type IngestService struct {
	validator *ingest.Validator
	hub       Publisher
	snapshots SnapshotWriter
	metrics   *metrics.Metrics
	putWait   time.Duration
}

func NewIngestService(validator *ingest.Validator, hub Publisher, snapshots SnapshotWriter, m *metrics.Metrics) *IngestService {
	return &IngestService{
		validator: validator,
		hub:       hub,
		snapshots: snapshots,
		metrics:   m,
		putWait:   2 * time.Second,
	}
}

// Accept validates and broadcasts one player update. A failed snapshot
// write is logged; the broadcast has already happened by then.
func (s *IngestService) Accept(ctx context.Context, kind ingest.Kind, payload map[string]any) (ingest.Event, error) {
	ev, err := s.validator.Validate(kind, payload)
	if err != nil {
		s.rejected(err)
		return ingest.Event{}, err
	}

	if _, err := s.hub.Publish(event.TypePlayerUpdate, ev); err != nil {
		return ingest.Event{}, fmt.Errorf("publish player update: %w", err)
	}

	if s.snapshots != nil {
		putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.putWait)
		defer cancel()
		if err := s.snapshots.Put(putCtx, ev); err != nil {
			s.metrics.SnapshotWriteFailed()
			slog.Error("snapshot write failed", "pid", ev.PID, "error", err)
		}
	}

	return ev, nil
}

// Alert validates and broadcasts an operational alert.
func (s *IngestService) Alert(_ context.Context, payload map[string]any) (ingest.Alert, error) {
	alert, err := s.validator.ValidateAlert(payload)
	if err != nil {
		s.rejected(err)
		return ingest.Alert{}, err
	}

	if _, err := s.hub.Publish(event.TypeAlert, alert); err != nil {
		return ingest.Alert{}, fmt.Errorf("publish alert: %w", err)
	}

	slog.Info("alert broadcast", "type", alert.Type, "source", alert.Source)
	return alert, nil
}

func (s *IngestService) rejected(err error) {
	reason := "invalid"
	var validationErr *ingest.ValidationError
	if errors.As(err, &validationErr) {
		reason = validationErr.Field
	}
	s.metrics.IngestRejected(reason)
	slog.Debug("ingest rejected", "reason", err.Error())
}
