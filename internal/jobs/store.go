package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	activityKeyPrefix = "activity:"
	maxActivityItems  = 100
)

// Store はユーザーごとのアクティビティを Redis のリストに保存します。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Append はイベントをリストの先頭に追加し、古いものを切り詰めます。
func (s *Store) Append(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	if event.UserID == 0 {
		return fmt.Errorf("event.UserID is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	key := activityKey(event.UserID)
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, maxActivityItems-1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Recent は新しい順に最大 limit 件のイベントを返します。
func (s *Store) Recent(ctx context.Context, userID int64, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	items, err := s.rdb.LRange(ctx, activityKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(items))
	for _, item := range items {
		var event Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func activityKey(userID int64) string {
	return activityKeyPrefix + strconv.FormatInt(userID, 10)
}
