package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eleven-am/interview-realtime/internal/shared"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client), mr
}

func TestStore_SaveAndGet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	snap := &Snapshot{
		ID:                "iv_1",
		InterviewID:       "42",
		State:             "active",
		ConnectionStatus:  "connected",
		CurrentQuestionID: "7",
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if snap.StartedAt.IsZero() || snap.LastActiveAt.IsZero() {
		t.Error("timestamps should be set on save")
	}
	if !mr.Exists("interview_session:iv_1") {
		t.Fatal("snapshot key should exist")
	}
	if ttl := mr.TTL("interview_session:iv_1"); ttl != sessionTTL {
		t.Errorf("expected ttl %v, got %v", sessionTTL, ttl)
	}

	got, err := store.Get(ctx, "iv_1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.InterviewID != "42" || got.CurrentQuestionID != "7" || got.State != "active" {
		t.Errorf("unexpected snapshot: %+v", got)
	}
}

func TestStore_SaveKeepsStartedAt(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	snap := &Snapshot{ID: "iv_1", StartedAt: started}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if !snap.StartedAt.Equal(started) {
		t.Errorf("StartedAt changed to %v", snap.StartedAt)
	}
}

func TestStore_SaveRequiresID(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Save(context.Background(), &Snapshot{})
	if !errors.Is(err, shared.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_ = store.Save(ctx, &Snapshot{ID: "iv_1"})
	if err := store.Delete(ctx, "iv_1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := store.Get(ctx, "iv_1"); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_List(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	older := Snapshot{ID: "iv_old", LastActiveAt: time.Now().Add(-time.Hour)}
	newer := Snapshot{ID: "iv_new", LastActiveAt: time.Now()}
	for _, snap := range []Snapshot{older, newer} {
		data, _ := json.Marshal(snap)
		if err := mr.Set(snap.RedisKey(), string(data)); err != nil {
			t.Fatalf("seed error: %v", err)
		}
	}
	_ = mr.Set("unrelated", "x")

	snaps, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].ID != "iv_new" || snaps[1].ID != "iv_old" {
		t.Errorf("expected most recent first, got %s, %s", snaps[0].ID, snaps[1].ID)
	}
}

func TestStore_PublishSubscribe(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := store.Subscribe(ctx, "iv_1")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Close()

	evt := Event{
		SessionID:  "iv_1",
		Type:       "question",
		QuestionID: "3",
		Data:       json.RawMessage(`{"text":"hello"}`),
	}
	if err := store.Publish(ctx, evt); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if err := store.Publish(ctx, Event{SessionID: "iv_2", Type: "question"}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	got, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if got.Type != "question" || got.QuestionID != "3" {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be filled on publish")
	}
	if string(got.Data) != `{"text":"hello"}` {
		t.Errorf("unexpected data: %s", got.Data)
	}
}

func TestSubscription_NextHonoursContext(t *testing.T) {
	store, _ := newTestStore(t)

	sub, err := store.Subscribe(context.Background(), "iv_1")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); err == nil {
		t.Error("expected error when context expires")
	}
}

func TestStore_Metrics(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_ = store.IncrementMetric(ctx, MetricInterviews, 1)
	_ = store.IncrementMetric(ctx, MetricQuestions, 3)
	_ = store.IncrementMetric(ctx, MetricAnswers, 2)
	_ = store.IncrementMetric(ctx, MetricErrors, 1)

	now := time.Now().UTC()
	key := MetricsRedisKey(now.Format("2006-01-02"), now.Hour())
	if ttl := mr.TTL(key); ttl != metricsTTL {
		t.Errorf("expected metrics ttl %v, got %v", metricsTTL, ttl)
	}

	metrics, err := store.GetMetrics(ctx, 2)
	if err != nil {
		t.Fatalf("GetMetrics error: %v", err)
	}
	if len(metrics) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(metrics))
	}
	m := metrics[0]
	if m.Interviews != 1 || m.Questions != 3 || m.Answers != 2 || m.ErrorCount != 1 || m.Reconnects != 0 {
		t.Errorf("unexpected metrics: %+v", m)
	}
}

func TestMetricsRedisKey(t *testing.T) {
	if got := MetricsRedisKey("2024-01-15", 14); got != "interview:metrics:2024-01-15:14" {
		t.Errorf("unexpected key %q", got)
	}
	if got := EventChannel("iv_1"); got != "interview:iv_1:events" {
		t.Errorf("unexpected channel %q", got)
	}
}
