package event

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gamepulse/internal/metrics"
)

const (
	DefaultKeepAlive  = 25 * time.Second
	DefaultMaxPending = 64
)

var (
	ErrSubscriberClosed = errors.New("subscriber closed")
	ErrSubscriberSlow   = errors.New("subscriber too slow")
)

// Conn is one live output channel. Send must return once the frame is
// written or the transport gives up; it is never called concurrently for
// the same Conn.
type Conn interface {
	Send(frame []byte) error
}

type Config struct {
	KeepAlive  time.Duration
	MaxPending int
}

// Hub fans events out to every registered subscriber. Delivery is
// best-effort: a failed write removes that subscriber and nothing is
// retried or replayed.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	// publishMu orders enqueueing across producers so every subscriber
	// sees events in the same order. It is never held during writes.
	publishMu sync.Mutex

	keepAlive  time.Duration
	maxPending int64
	closed     bool
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewHub(cfg Config, m *metrics.Metrics) *Hub {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}

	return &Hub{
		subs:       make(map[*Subscription]struct{}),
		keepAlive:  cfg.KeepAlive,
		maxPending: int64(cfg.MaxPending),
		logger:     slog.Default().With("component", "hub"),
		metrics:    m,
	}
}

// Subscription is the handle for one registered Conn.
type Subscription struct {
	hub         *Hub
	conn        Conn
	connectedAt time.Time

	writeMu sync.Mutex
	closed  atomic.Bool
	pending atomic.Int64

	// tail is closed when the most recently queued write has finished.
	tailMu sync.Mutex
	tail   chan struct{}

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// Done is closed when the subscription leaves the hub, whether through
// Unsubscribe, a failed write or hub shutdown.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the hub removed the subscription; nil after a plain
// Unsubscribe.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Subscribe registers conn and starts its keep-alive ticker.
func (h *Hub) Subscribe(conn Conn) *Subscription {
	tail := make(chan struct{})
	close(tail)

	sub := &Subscription{
		hub:         h,
		conn:        conn,
		connectedAt: time.Now(),
		tail:        tail,
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.finish(ErrSubscriberClosed)
		return sub
	}
	h.subs[sub] = struct{}{}
	total := len(h.subs)
	h.mu.Unlock()

	h.metrics.SubscriberAdded()
	h.logger.Info("subscriber added", "total", total)

	go sub.keepAliveLoop(h.keepAlive)
	return sub
}

// Unsubscribe removes sub and stops its keep-alive. When it returns no
// write to the Conn is in progress and none will start, so the transport
// may release it. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.remove(sub, nil)

	sub.writeMu.Lock()
	//nolint:staticcheck // empty critical section waits out an in-flight Send
	sub.writeMu.Unlock()
}

// Publish stamps the payload with an id and hands it to every current
// subscriber. It never waits on a subscriber write.
func (h *Hub) Publish(typ Type, payload any) (Event, error) {
	ev := Event{
		ID:        NewID(),
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	frame, err := ev.Frame()
	if err != nil {
		return Event{}, err
	}

	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		sub.enqueue(frame)
	}

	h.metrics.EventPublished(string(typ))
	h.logger.Debug("event published", "type", typ, "id", ev.ID, "subscribers", len(targets))
	return ev, nil
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.remove(sub, ErrSubscriberClosed)
	}
	h.logger.Info("hub closed", "disconnected", len(subs))
}

func (h *Hub) remove(sub *Subscription, cause error) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	total := len(h.subs)
	h.mu.Unlock()

	sub.finish(cause)
	if !ok {
		return
	}

	h.metrics.SubscriberRemoved()
	switch {
	case errors.Is(cause, ErrSubscriberSlow):
		h.metrics.SlowSubscriberDropped()
		h.logger.Warn("slow subscriber dropped", "total", total)
	case cause != nil && !errors.Is(cause, ErrSubscriberClosed):
		h.metrics.DeliveryFailed()
		h.logger.Warn("subscriber write failed, removing", "error", cause, "total", total)
	default:
		h.logger.Info("subscriber removed",
			"connection_duration", time.Since(sub.connectedAt).Round(time.Millisecond),
			"total", total)
	}
}

func (s *Subscription) finish(cause error) {
	s.doneOnce.Do(func() {
		s.err = cause
		s.closed.Store(true)
		close(s.done)
	})
}

// enqueue chains a write behind the previous one so frames leave in the
// order they were queued. Each write runs on its own goroutine; a
// subscriber with more than maxPending writes outstanding is dropped.
func (s *Subscription) enqueue(frame []byte) {
	if s.closed.Load() {
		return
	}

	if s.pending.Add(1) > s.hub.maxPending {
		s.pending.Add(-1)
		s.hub.remove(s, ErrSubscriberSlow)
		return
	}

	next := make(chan struct{})
	s.tailMu.Lock()
	prev := s.tail
	s.tail = next
	s.tailMu.Unlock()

	go func() {
		defer close(next)
		defer s.pending.Add(-1)

		select {
		case <-prev:
		case <-s.done:
			return
		}

		if err := s.write(frame); err != nil && !errors.Is(err, ErrSubscriberClosed) {
			s.hub.remove(s, err)
		}
	}()
}

func (s *Subscription) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return ErrSubscriberClosed
	}
	return s.conn.Send(frame)
}

func (s *Subscription) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.enqueue(KeepAliveFrame)
		case <-s.done:
			return
		}
	}
}
