// Package migration はSQLiteデータベースのスキーママイグレーションを管理する。
// fs.FS からSQLファイルを読み込み、schema_migrations テーブルで適用状態を追跡する。
package migration

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Migrator はマイグレーションの適用を行う。
type Migrator struct {
	db     *sql.DB
	logger *zap.Logger
}

// New は Migrator を生成する。logger が nil の場合は出力しない。
func New(db *sql.DB, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{db: db, logger: logger.Named("migration")}
}

// file は1つのマイグレーションファイル。
// ファイル名形式: 000001_description.up.sql
type file struct {
	version int
	name    string
	path    string
}

// Up は dir 配下の未適用のマイグレーションをバージョン順に適用し、適用した件数を返す。
func (m *Migrator) Up(ctx context.Context, fsys fs.FS, dir string) (int, error) {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return 0, fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}

	files, err := collect(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("マイグレーションファイルの収集に失敗: %w", err)
	}

	count := 0
	for _, f := range files {
		if slices.Contains(applied, f.version) {
			continue
		}
		if err := m.apply(ctx, fsys, f); err != nil {
			return count, fmt.Errorf("マイグレーション %06d の適用に失敗: %w", f.version, err)
		}
		m.logger.Debug("マイグレーションを適用しました",
			zap.Int("version", f.version), zap.String("name", f.name))
		count++
	}
	return count, nil
}

// Applied は適用済みのバージョンを昇順で返す。
func (m *Migrator) Applied(ctx context.Context) ([]int, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("適用済みバージョンの読み取りに失敗: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// collect はディレクトリから up.sql ファイルを収集してバージョン順に並べる。
func collect(fsys fs.FS, dir string) ([]file, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var files []file
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		prefix, rest, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		files = append(files, file{
			version: version,
			name:    strings.TrimSuffix(rest, ".up.sql"),
			path:    path.Join(dir, entry.Name()),
		})
	}

	slices.SortFunc(files, func(a, b file) int {
		return cmp.Compare(a.version, b.version)
	})
	return files, nil
}

// apply は1つのマイグレーションをトランザクション内で適用する。
func (m *Migrator) apply(ctx context.Context, fsys fs.FS, f file) error {
	content, err := fs.ReadFile(fsys, f.path)
	if err != nil {
		return fmt.Errorf("ファイル読み込みに失敗: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("SQL実行に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", f.version); err != nil {
		return fmt.Errorf("バージョン記録に失敗: %w", err)
	}
	return tx.Commit()
}
