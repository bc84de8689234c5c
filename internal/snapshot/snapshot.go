// Package snapshot keeps the latest accepted update per player, plus a short
// history, so a dashboard can render state before the first live event.
package snapshot

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gamepulse/internal/ingest"
)

const DefaultHistoryLen = 200

type Store interface {
	Put(ctx context.Context, ev ingest.Event) error
	Latest(ctx context.Context) ([]ingest.Event, error)
	History(ctx context.Context, pid string, limit int) ([]ingest.Event, error)
	Close() error
}

type MemoryStore struct {
	mu         sync.RWMutex
	latest     map[string]ingest.Event
	history    map[string][]ingest.Event
	historyLen int
}

func NewMemoryStore(historyLen int) *MemoryStore {
	if historyLen <= 0 {
		historyLen = DefaultHistoryLen
	}
	return &MemoryStore{
		latest:     make(map[string]ingest.Event),
		history:    make(map[string][]ingest.Event),
		historyLen: historyLen,
	}
}

func (s *MemoryStore) Put(_ context.Context, ev ingest.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest[ev.PID] = ev
	h := append(s.history[ev.PID], ev)
	if len(h) > s.historyLen {
		h = h[len(h)-s.historyLen:]
	}
	s.history[ev.PID] = h
	return nil
}

func (s *MemoryStore) Latest(_ context.Context) ([]ingest.Event, error) {
	s.mu.RLock()
	out := make([]ingest.Event, 0, len(s.latest))
	for _, ev := range s.latest {
		out = append(out, ev)
	}
	s.mu.RUnlock()

	sortByPlayer(out)
	return out, nil
}

// History returns up to limit events for pid, newest first.
func (s *MemoryStore) History(_ context.Context, pid string, limit int) ([]ingest.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[pid]
	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}
	out := make([]ingest.Event, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func sortByPlayer(events []ingest.Event) {
	sort.Slice(events, func(i, j int) bool {
		return playerNumber(events[i].PID) < playerNumber(events[j].PID)
	})
}

func playerNumber(pid string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(pid, "P"))
	if err != nil {
		return 0
	}
	return n
}
