// Package storage はユーザーテーブルを保持するリレーショナルDBへの接続とマイグレーションを提供します。
//
// ドライバーは sqlite（modernc.org/sqlite, 開発用の既定値）と pgx（PostgreSQL）に対応します。
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Dialect はSQL方言を表します。
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "pgx"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// goose はグローバル状態を持つため、マイグレーションは直列に実行する
var gooseMu sync.Mutex

// Open は DB 接続を開き、疎通確認を行います。
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite は単一コネクションで書き込みを直列化する（:memory: でも同じDBを共有できる）
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return db, nil
}

// Migrate は埋め込みマイグレーションを最新まで適用します。
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, logger *slog.Logger) error {
	return withGoose(dialect, logger, func(dir string) error {
		return goose.UpContext(ctx, db, dir)
	})
}

// Rollback は直近のマイグレーションを1つ取り消します。
func Rollback(ctx context.Context, db *sql.DB, dialect Dialect, logger *slog.Logger) error {
	return withGoose(dialect, logger, func(dir string) error {
		return goose.DownContext(ctx, db, dir)
	})
}

// Status はマイグレーションの適用状況をログに出力します。
func Status(ctx context.Context, db *sql.DB, dialect Dialect, logger *slog.Logger) error {
	return withGoose(dialect, logger, func(dir string) error {
		return goose.StatusContext(ctx, db, dir)
	})
}

func withGoose(dialect Dialect, logger *slog.Logger, fn func(dir string) error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	dir, gooseDialect, err := migrationTarget(dialect)
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetLogger(gooseLogger{logger: logger})

	if err := fn(dir); err != nil {
		return fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return nil
}

func migrationTarget(dialect Dialect) (dir string, gooseDialect string, err error) {
	switch dialect {
	case DialectSQLite:
		return "migrations/sqlite", "sqlite3", nil
	case DialectPostgres:
		return "migrations/postgres", "pgx", nil
	default:
		return "", "", fmt.Errorf("unsupported database driver: %s", dialect)
	}
}

// Rebind は ? プレースホルダーを方言に合わせて書き換えます。
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "goose")
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	// goose の Fatalf は os.Exit するため、ログのみに留めて呼び出し側のエラー処理に任せる
	if l.logger == nil {
		return
	}
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "goose")
}
