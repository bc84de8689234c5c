package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"gamepulse/internal/event"
	"gamepulse/internal/ingest"
	"gamepulse/internal/model"
	"gamepulse/internal/snapshot"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) Publish(typ event.Type, payload any) (event.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev := event.Event{ID: event.NewID(), Type: typ, Payload: payload}
	p.events = append(p.events, ev)
	return ev, nil
}

type failingSnapshots struct{}

func (failingSnapshots) Put(context.Context, ingest.Event) error {
	return errors.New("redis down")
}

func TestIngestAcceptDropsOutOfRangeLevel(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	snaps := snapshot.NewMemoryStore(10)
	svc := NewIngestService(ingest.NewValidator(), pub, snaps, nil)

	ev, err := svc.Accept(context.Background(), ingest.KindFatigue, map[string]any{
		"player_id":     "P5",
		"fatigue_level": json.Number("7"),
		"hr":            json.Number("150"),
	})
	require.NoError(t, err)
	require.Equal(t, "P5", ev.PID)
	require.Nil(t, ev.Level)

	require.Len(t, pub.events, 1)
	require.Equal(t, event.TypePlayerUpdate, pub.events[0].Type)

	frame, err := pub.events[0].Frame()
	require.NoError(t, err)
	require.Contains(t, string(frame), `"pid":"P5"`)
	require.NotContains(t, string(frame), `"level"`)

	latest, err := snaps.Latest(context.Background())
	require.NoError(t, err)
	require.Len(t, latest, 1)
}

func TestIngestAcceptRejectsBeforeBroadcast(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	svc := NewIngestService(ingest.NewValidator(), pub, nil, nil)

	_, err := svc.Accept(context.Background(), ingest.KindPosition, map[string]any{"player_id": "P41"})
	require.ErrorIs(t, err, model.ErrInvalidInput)
	require.Empty(t, pub.events)
}

func TestIngestAcceptSurvivesSnapshotFailure(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	svc := NewIngestService(ingest.NewValidator(), pub, failingSnapshots{}, nil)

	_, err := svc.Accept(context.Background(), ingest.KindPosition, map[string]any{"player_id": 3, "pos_x": 1.5})
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
}

func TestIngestAlert(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	svc := NewIngestService(ingest.NewValidator(), pub, nil, nil)

	alert, err := svc.Alert(context.Background(), map[string]any{
		"type": "missing_data", "source": "polar", "player_id": "P2",
	})
	require.NoError(t, err)
	require.Equal(t, "polar", alert.Source)
	require.Len(t, pub.events, 1)
	require.Equal(t, event.TypeAlert, pub.events[0].Type)

	_, err = svc.Alert(context.Background(), map[string]any{"type": "missing_data", "source": "garmin", "player_id": "P2"})
	require.ErrorIs(t, err, model.ErrInvalidInput)
	require.Len(t, pub.events, 1)
}
