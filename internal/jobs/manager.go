// Package jobs は認証アクティビティの非同期記録を提供します。
//
// イベントは Asynq のキューに投入され、ワーカーが Redis 上のユーザー別リストへ保存します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	taskTypeAuthEvent = "auth:event"
	queueName         = "activity"
)

// Manager はイベントの投入と保存を担います。
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager は Manager を初期化します。
func NewManager(redisURL string, store *Store, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger: asynqLogger{logger: logger.With("component", "asynq")},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client: client,
		server: server,
		mux:    mux,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	mux.HandleFunc(taskTypeAuthEvent, manager.handleEventTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", "error", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Record はイベントにIDと時刻を付与してキューに投入します。
func (m *Manager) Record(ctx context.Context, event Event) error {
	task, err := m.newEventTask(&event)
	if err != nil {
		return err
	}
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue %s event: %w", event.Kind, err)
	}
	return nil
}

// Recent はユーザーの最近のイベントを返します。
func (m *Manager) Recent(ctx context.Context, userID int64, limit int) ([]Event, error) {
	return m.store.Recent(ctx, userID, limit)
}

func (m *Manager) newEventTask(event *Event) (*asynq.Task, error) {
	if event.UserID == 0 {
		return nil, fmt.Errorf("event.UserID is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskTypeAuthEvent, body, asynq.Queue(queueName)), nil
}

func (m *Manager) handleEventTask(ctx context.Context, task *asynq.Task) error {
	var event Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		// 壊れたペイロードは再試行しても直らない
		return fmt.Errorf("decode event: %v: %w", err, asynq.SkipRetry)
	}
	if err := m.store.Append(ctx, &event); err != nil {
		return err
	}
	m.logger.Debug("auth event stored", "kind", event.Kind, "user_id", event.UserID, "event_id", event.ID)
	return nil
}

type asynqLogger struct {
	logger *slog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
