// Package auth はセッションCookieによるユーザー登録・ログイン・ログアウトを提供します。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourusername/blogme/internal/jobs"
	"github.com/yourusername/blogme/internal/users"
)

// EventRecorder は認証イベントを記録します。
type EventRecorder interface {
	Record(ctx context.Context, event jobs.Event) error
}

// ActivityReader はユーザーの最近のイベントを返します。
type ActivityReader interface {
	Recent(ctx context.Context, userID int64, limit int) ([]jobs.Event, error)
}

// Options は Manager の依存関係と設定です。
type Options struct {
	Users    users.Store
	Hasher   Hasher
	Limiter  AttemptLimiter
	Events   EventRecorder  // nil ならイベントを記録しない
	Activity ActivityReader // nil ならアクティビティ画面は常に空
	Logger   *slog.Logger

	MaxSessionLifetime time.Duration
	IdleTimeout        time.Duration
	CSRFProtection     bool
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	users    users.Store
	hasher   Hasher
	limiter  AttemptLimiter
	events   EventRecorder
	activity ActivityReader
	logger   *slog.Logger

	maxSessionLifetime time.Duration
	idleTimeout        time.Duration
	csrfProtection     bool

	now func() time.Time
}

// NewManager は認証マネージャーを作成します。
func NewManager(opts Options) (*Manager, error) {
	if opts.Users == nil {
		return nil, errors.New("users store is nil")
	}
	if opts.Hasher == nil {
		opts.Hasher = BcryptHasher{}
	}
	if opts.Limiter == nil {
		opts.Limiter = NewMemoryLimiter(LimiterPolicy{
			MaxAttempts:  5,
			Window:       15 * time.Minute,
			LockDuration: 10 * time.Minute,
		})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		users:              opts.Users,
		hasher:             opts.Hasher,
		limiter:            opts.Limiter,
		events:             opts.Events,
		activity:           opts.Activity,
		logger:             opts.Logger,
		maxSessionLifetime: opts.MaxSessionLifetime,
		idleTimeout:        opts.IdleTimeout,
		csrfProtection:     opts.CSRFProtection,
		now:                time.Now,
	}, nil
}

// CreateUser は入力を検証してユーザーを作成します。
// 入力不備とユーザー名の重複は *ValidationError を返します。
func (m *Manager) CreateUser(ctx context.Context, username, password string) (*users.User, error) {
	if username == "" {
		return nil, &ValidationError{Message: msgUsernameRequired}
	}
	if password == "" {
		return nil, &ValidationError{Message: msgPasswordRequired}
	}

	digest, err := m.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := m.users.Create(ctx, username, digest)
	if err != nil {
		if errors.Is(err, users.ErrDuplicateUsername) {
			return nil, &ValidationError{Message: fmt.Sprintf("username %s is already taken", username)}
		}
		return nil, err
	}
	return user, nil
}

// Authenticate はユーザー名とパスワードを照合します。
// 照合に失敗した場合は *AuthError を返します。
func (m *Manager) Authenticate(ctx context.Context, username, password string) (*users.User, error) {
	user, err := m.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &AuthError{Message: msgUnknownUser}
	}
	if !m.hasher.Verify(user.PasswordHash, password) {
		return nil, &AuthError{Message: msgIncorrectPassword, UserID: user.ID}
	}
	return user, nil
}

// recordEvent はイベントを記録します。失敗してもリクエストは継続します。
func (m *Manager) recordEvent(ctx context.Context, kind jobs.EventKind, userID int64, username, clientIP string) {
	if m.events == nil || userID == 0 {
		return
	}
	err := m.events.Record(ctx, jobs.Event{
		Kind:     kind,
		UserID:   userID,
		Username: username,
		ClientIP: clientIP,
	})
	if err != nil {
		m.logger.Warn("failed to record auth event", "kind", kind, "user_id", userID, "error", err)
	}
}
