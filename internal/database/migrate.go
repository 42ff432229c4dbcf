// Package database は資格情報ストア用のPostgreSQL接続とスキーマ管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Status はマイグレーション適用後のスキーマ状態。
type Status struct {
	Version uint
	// Changed は今回の実行で1件以上適用したかどうか。
	Changed bool
}

// migrateLogger はgolang-migrateのログをslogへ流す。
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l migrateLogger) Verbose() bool { return false }

// NewMigrator は埋め込みマイグレーションを読み込んだmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// Migrate は未適用のマイグレーションを全て適用し、適用後のバージョンを返す。
// 前回の適用が途中で失敗しスキーマがdirtyな場合は適用せずにエラーを返す。
func Migrate(databaseURL string, logger *slog.Logger) (Status, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return Status{}, err
	}
	defer m.Close()
	if logger != nil {
		m.Log = migrateLogger{logger: logger}
	}

	if v, dirty, err := m.Version(); err == nil && dirty {
		return Status{Version: v}, fmt.Errorf("schema is dirty at version %d: fix it manually and force the version", v)
	}

	st := Status{Changed: true}
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return st, fmt.Errorf("failed to run migrations: %w", err)
		}
		st.Changed = false
	}

	v, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return st, fmt.Errorf("failed to read schema version: %w", err)
	}
	st.Version = v
	return st, nil
}

// RunMigrations は未適用のマイグレーションを全て適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) error {
	_, err := Migrate(databaseURL, nil)
	return err
}
