package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/eleven-am/interview-realtime/internal/shared"
	"github.com/redis/go-redis/v9"
)

const (
	sessionTTL = 24 * time.Hour
	metricsTTL = 7 * 24 * time.Hour
)

const (
	MetricInterviews = "interviews"
	MetricQuestions  = "questions"
	MetricAnswers    = "answers"
	MetricReconnects = "reconnects"
	MetricErrors     = "error_count"
)

type Store struct {
	redis *redis.Client
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("%w: snapshot without id", shared.ErrInvalidState)
	}
	now := time.Now()
	if snap.StartedAt.IsZero() {
		snap.StartedAt = now
	}
	snap.LastActiveAt = now

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, snap.RedisKey(), data, sessionTTL).Err()
}

func (s *Store) Get(ctx context.Context, id string) (*Snapshot, error) {
	data, err := s.redis.Get(ctx, snapshotKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.redis.Del(ctx, snapshotKeyPrefix+id).Err()
}

// List returns every stored snapshot, most recently active first.
func (s *Store) List(ctx context.Context) ([]*Snapshot, error) {
	var snaps []*Snapshot
	iter := s.redis.Scan(ctx, 0, snapshotKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.redis.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		snaps = append(snaps, &snap)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].LastActiveAt.After(snaps[j].LastActiveAt)
	})
	return snaps, nil
}

func (s *Store) Publish(ctx context.Context, evt Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.redis.Publish(ctx, EventChannel(evt.SessionID), data).Err()
}

// Subscription delivers the events published for one session.
type Subscription struct {
	pubsub *redis.PubSub
}

// Subscribe returns once the subscription is confirmed by the server, so
// events published after it returns are not missed.
func (s *Store) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	pubsub := s.redis.Subscribe(ctx, EventChannel(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}
	return &Subscription{pubsub: pubsub}, nil
}

// Next blocks until the next event arrives. Undecodable payloads are skipped.
func (sub *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		msg, err := sub.pubsub.ReceiveMessage(ctx)
		if err != nil {
			return Event{}, err
		}
		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			continue
		}
		return evt, nil
	}
}

func (sub *Subscription) Close() error {
	return sub.pubsub.Close()
}

func (s *Store) IncrementMetric(ctx context.Context, field string, value int64) error {
	now := time.Now().UTC()
	key := MetricsRedisKey(now.Format("2006-01-02"), now.Hour())

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, field, value)
	pipe.Expire(ctx, key, metricsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetMetrics(ctx context.Context, hours int) ([]*Metrics, error) {
	now := time.Now().UTC()
	var metrics []*Metrics

	for i := 0; i < hours; i++ {
		t := now.Add(-time.Duration(i) * time.Hour)
		key := MetricsRedisKey(t.Format("2006-01-02"), t.Hour())

		data, err := s.redis.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		m := &Metrics{
			Date: t.Format("2006-01-02"),
			Hour: t.Hour(),
		}
		m.Interviews, _ = strconv.ParseInt(data[MetricInterviews], 10, 64)
		m.Questions, _ = strconv.ParseInt(data[MetricQuestions], 10, 64)
		m.Answers, _ = strconv.ParseInt(data[MetricAnswers], 10, 64)
		m.Reconnects, _ = strconv.ParseInt(data[MetricReconnects], 10, 64)
		m.ErrorCount, _ = strconv.ParseInt(data[MetricErrors], 10, 64)

		metrics = append(metrics, m)
	}

	return metrics, nil
}
