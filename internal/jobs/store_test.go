package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, ttl), mr
}

func TestStoreAppendAndRecent(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	for i, kind := range []EventKind{EventRegistered, EventLogin, EventLogout} {
		err := store.Append(ctx, &Event{
			ID:         fmt.Sprintf("ev-%d", i),
			Kind:       kind,
			UserID:     1,
			Username:   "alice",
			OccurredAt: time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}

	events, err := store.Recent(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("unexpected events: %#v", events)
	}
	if events[0].Kind != EventLogout || events[1].Kind != EventLogin {
		t.Fatalf("events should be newest first: %#v", events)
	}

	if ttl := mr.TTL("activity:1"); ttl != time.Hour {
		t.Fatalf("unexpected ttl: %s", ttl)
	}
}

func TestStoreRecentEmpty(t *testing.T) {
	store, _ := newTestStore(t, 0)

	events, err := store.Recent(context.Background(), 99, 10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %#v", events)
	}
}

func TestStoreTrimsOldEvents(t *testing.T) {
	store, mr := newTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < maxActivityItems+5; i++ {
		if err := store.Append(ctx, &Event{Kind: EventLogin, UserID: 2}); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}

	items, err := mr.List("activity:2")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(items) != maxActivityItems {
		t.Fatalf("expected %d items, got %d", maxActivityItems, len(items))
	}
}

func TestStoreAppendRequiresUser(t *testing.T) {
	store, _ := newTestStore(t, 0)
	if err := store.Append(context.Background(), &Event{Kind: EventLogin}); err == nil {
		t.Fatal("expected error for missing user id")
	}
}

func TestHandleEventTaskStoresEvent(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	fixed := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	m := &Manager{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    func() time.Time { return fixed },
	}

	task, err := m.newEventTask(&Event{Kind: EventRegistered, UserID: 5, Username: "carol"})
	if err != nil {
		t.Fatalf("newEventTask returned error: %v", err)
	}
	if task.Type() != taskTypeAuthEvent {
		t.Fatalf("unexpected task type: %s", task.Type())
	}

	var queued Event
	if err := json.Unmarshal(task.Payload(), &queued); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if queued.ID == "" {
		t.Fatal("event id should be assigned")
	}
	if !queued.OccurredAt.Equal(fixed) {
		t.Fatalf("unexpected timestamp: %s", queued.OccurredAt)
	}

	if err := m.handleEventTask(context.Background(), task); err != nil {
		t.Fatalf("handleEventTask returned error: %v", err)
	}

	events, err := m.Recent(context.Background(), 5, 10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(events) != 1 || events[0].ID != queued.ID || events[0].Username != "carol" {
		t.Fatalf("unexpected stored events: %#v", events)
	}
}

func TestHandleEventTaskRejectsBadPayload(t *testing.T) {
	store, _ := newTestStore(t, 0)
	m := &Manager{store: store, logger: slog.New(slog.NewTextHandler(io.Discard, nil)), now: time.Now}

	err := m.handleEventTask(context.Background(), asynq.NewTask(taskTypeAuthEvent, []byte("{")))
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestNewEventTaskRequiresUser(t *testing.T) {
	m := &Manager{now: time.Now}
	if _, err := m.newEventTask(&Event{Kind: EventLogin}); err == nil {
		t.Fatal("expected error for missing user id")
	}
}

func TestStoreRecentReturnsRedisErrors(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	if err := mr.Set(activityKey(1), "not a list"); err != nil {
		t.Fatalf("seed key: %v", err)
	}

	if _, err := store.Recent(context.Background(), 1, 10); err == nil {
		t.Fatal("expected WRONGTYPE error")
	}
}
