// Package users はユーザーテーブルへのアクセスを提供します。
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/yourusername/blogme/internal/storage"
)

// ErrDuplicateUsername は一意制約違反でユーザー作成に失敗したことを表します。
var ErrDuplicateUsername = errors.New("username already exists")

// User はユーザーテーブルの1行です。
type User struct {
	ID           int64
	Username     string
	PasswordHash string
}

// StoreError は分類されない永続化エラーです。
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("users: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store はユーザーの永続化を担います。
type Store interface {
	Create(ctx context.Context, username, passwordHash string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
}

// SQLStore は database/sql 上の Store 実装です。
type SQLStore struct {
	db      *sql.DB
	dialect storage.Dialect
}

// NewSQLStore は SQLStore を作成します。
func NewSQLStore(db *sql.DB, dialect storage.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Create はユーザーを追加してコミットします。
// ユーザー名が既に使われている場合は ErrDuplicateUsername を返します。
func (s *SQLStore) Create(ctx context.Context, username, passwordHash string) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StoreError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	user := &User{Username: username, PasswordHash: passwordHash}
	query := storage.Rebind(s.dialect, `INSERT INTO "user" (username, password) VALUES (?, ?) RETURNING id`)
	if err := tx.QueryRowContext(ctx, query, username, passwordHash).Scan(&user.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateUsername
		}
		return nil, &StoreError{Op: "insert", Err: err}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateUsername
		}
		return nil, &StoreError{Op: "commit", Err: err}
	}
	return user, nil
}

// GetByUsername はユーザー名の完全一致で検索します。存在しない場合は nil, nil を返します。
func (s *SQLStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := storage.Rebind(s.dialect, `SELECT id, username, password FROM "user" WHERE username = ?`)
	return s.getOne(ctx, "get by username", query, username)
}

// GetByID はIDで検索します。存在しない場合は nil, nil を返します。
func (s *SQLStore) GetByID(ctx context.Context, id int64) (*User, error) {
	query := storage.Rebind(s.dialect, `SELECT id, username, password FROM "user" WHERE id = ?`)
	return s.getOne(ctx, "get by id", query, id)
}

func (s *SQLStore) getOne(ctx context.Context, op, query string, arg any) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Username, &user.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &StoreError{Op: op, Err: err}
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
