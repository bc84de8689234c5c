package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gamepulse/internal/ingest"
)

const keyPrefix = "gamepulse"

func liveKey() string {
	return keyPrefix + ":live"
}

func historyKey(pid string) string {
	return fmt.Sprintf("%s:player:%s:events", keyPrefix, pid)
}

type RedisConfig struct {
	URL        string
	TTL        time.Duration
	HistoryLen int64
}

// RedisStore keeps the latest event per player in one hash and a capped
// stream per player for history.
type RedisStore struct {
	client *redis.Client
	cfg    RedisConfig
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg), nil
}

// NewRedisStoreWithClient wraps an existing client (tests use miniredis).
func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.HistoryLen <= 0 {
		cfg.HistoryLen = DefaultHistoryLen
	}
	return &RedisStore{client: client, cfg: cfg}
}

func (s *RedisStore) Put(ctx context.Context, ev ingest.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, liveKey(), ev.PID, data)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: historyKey(ev.PID),
		MaxLen: s.cfg.HistoryLen,
		Approx: true,
		Values: map[string]any{"event": data},
	})
	if s.cfg.TTL > 0 {
		pipe.Expire(ctx, liveKey(), s.cfg.TTL)
		pipe.Expire(ctx, historyKey(ev.PID), s.cfg.TTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Latest(ctx context.Context) ([]ingest.Event, error) {
	raw, err := s.client.HGetAll(ctx, liveKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	out := make([]ingest.Event, 0, len(raw))
	for pid, data := range raw {
		var ev ingest.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", pid, err)
		}
		out = append(out, ev)
	}

	sortByPlayer(out)
	return out, nil
}

func (s *RedisStore) History(ctx context.Context, pid string, limit int) ([]ingest.Event, error) {
	if limit <= 0 {
		limit = int(s.cfg.HistoryLen)
	}

	msgs, err := s.client.XRevRangeN(ctx, historyKey(pid), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	out := make([]ingest.Event, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		var ev ingest.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", msg.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
