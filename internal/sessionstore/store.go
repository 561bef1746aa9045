package sessionstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nao1215/hrgate/pkg/diag"
	"github.com/nao1215/hrgate/pkg/gateway"
	"github.com/nao1215/hrgate/pkg/migration"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout は診断記録の作成日時の保存形式。文字列の並びが時刻順になるよう桁数を固定する。
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// State は保存されているセッションの内容。
type State struct {
	// Tokens はアクセストークンとリフレッシュトークン。
	Tokens gateway.AuthTokens
	// Username はログインしたユーザー名。
	Username string
	// OrganizationID はログイン時に解決した所属組織のID。
	OrganizationID string
	// BoundOrganizationID はスーパーユーザーが切り替えた組織のID。
	BoundOrganizationID string
	// BranchID は選択中の拠点ID。
	BranchID string
	// Superuser はスーパーユーザーかどうか。
	Superuser bool
}

// LoggedIn はアクセストークンを保持しているかどうかを返す。
func (s State) LoggedIn() bool {
	return s.Tokens.Access != ""
}

// Store はSQLiteに永続化されたセッション。
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	mu          sync.RWMutex
	state       State
	navigations []string
}

// Open はpathのSQLiteファイルを開き、マイグレーションを適用して保存済みのセッションを読み込む。
// pathが ":memory:" の場合はインメモリDBを使用する。
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("セッションDBのディレクトリ作成に失敗: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// インメモリDBは接続ごとに別のDBになるため1本に固定する
	db.SetMaxOpenConns(1)

	if _, err := migration.New(db, logger).Up(ctx, migrations, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	s := &Store{db: db, logger: logger.Named("sessionstore")}
	if err := s.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// load は保存済みのセッションを読み込む。保存されていなければ空のままにする。
func (s *Store) load(ctx context.Context) error {
	var (
		st        State
		superuser int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, username, organization_id,
		       bound_organization_id, branch_id, superuser
		FROM session WHERE id = 1
	`).Scan(
		&st.Tokens.Access, &st.Tokens.Refresh, &st.Username, &st.OrganizationID,
		&st.BoundOrganizationID, &st.BranchID, &superuser,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("セッションの読み込みに失敗: %w", err)
	}
	st.Superuser = superuser != 0

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	return nil
}

// save は現在のセッションを書き込む。呼び出し元で s.mu を保持していること。
func (s *Store) save(ctx context.Context) error {
	superuser := 0
	if s.state.Superuser {
		superuser = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (id, access_token, refresh_token, username, organization_id,
		                     bound_organization_id, branch_id, superuser, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			username = excluded.username,
			organization_id = excluded.organization_id,
			bound_organization_id = excluded.bound_organization_id,
			branch_id = excluded.branch_id,
			superuser = excluded.superuser,
			updated_at = excluded.updated_at
	`,
		s.state.Tokens.Access, s.state.Tokens.Refresh, s.state.Username, s.state.OrganizationID,
		s.state.BoundOrganizationID, s.state.BranchID, superuser,
	)
	if err != nil {
		return fmt.Errorf("セッションの保存に失敗: %w", err)
	}
	return nil
}

// update は fn でセッションを変更して保存する。
func (s *Store) update(ctx context.Context, fn func(st *State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	return s.save(ctx)
}

// State は現在のセッションを返す。
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SaveLogin はログイン結果でセッションを置き換える。
func (s *Store) SaveLogin(ctx context.Context, st State) error {
	return s.update(ctx, func(cur *State) { *cur = st })
}

// BindOrganization はスーパーユーザーの操作対象の組織を切り替える。空文字列で解除する。
func (s *Store) BindOrganization(ctx context.Context, organizationID string) error {
	return s.update(ctx, func(st *State) { st.BoundOrganizationID = organizationID })
}

// SetBranch は選択中の拠点を保存する。
func (s *Store) SetBranch(ctx context.Context, branchID string) error {
	return s.update(ctx, func(st *State) { st.BranchID = branchID })
}

// Clear は保存済みのセッションを削除する。
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session"); err != nil {
		return fmt.Errorf("セッションの削除に失敗: %w", err)
	}
	s.state = State{}
	return nil
}

// Tokens は現在のトークンを返す。
func (s *Store) Tokens() gateway.AuthTokens {
	return s.State().Tokens
}

// SetTokens はトークンを置き換えて保存する。
func (s *Store) SetTokens(tokens gateway.AuthTokens) error {
	return s.update(context.Background(), func(st *State) { st.Tokens = tokens })
}

// ClearTokens はトークンを破棄して保存する。
func (s *Store) ClearTokens() error {
	return s.update(context.Background(), func(st *State) { st.Tokens = gateway.AuthTokens{} })
}

// BoundOrganizationID はスーパーユーザーが切り替えた組織のIDを返す。
func (s *Store) BoundOrganizationID() string {
	return s.State().BoundOrganizationID
}

// IsSuperuser はスーパーユーザーかどうかを返す。
func (s *Store) IsSuperuser() bool {
	return s.State().Superuser
}

// Logout は保存済みのセッションを削除する。
func (s *Store) Logout(ctx context.Context) error {
	s.logger.Info("保存済みのセッションを削除します")
	return s.Clear(ctx)
}

// Navigate は遷移先を記録する。CLIはコマンド終了時に LastNavigation で利用者に案内する。
func (s *Store) Navigate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations = append(s.navigations, path)
}

// LastNavigation は最後に記録された遷移先を返す。なければ空文字列を返す。
func (s *Store) LastNavigation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.navigations) == 0 {
		return ""
	}
	return s.navigations[len(s.navigations)-1]
}

// RecordDiagnostic は診断記録を保存する。保存に失敗してもゲートウェイの処理は継続する。
func (s *Store) RecordDiagnostic(entry *diag.Entry) {
	if err := s.insertDiagnostic(context.Background(), entry); err != nil {
		s.logger.Warn("診断記録の保存に失敗", zap.Error(err), zap.String("id", entry.ID))
	}
}

func (s *Store) insertDiagnostic(ctx context.Context, entry *diag.Entry) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO diagnostics (id, kind, message, data, created_at) VALUES (?, ?, ?, ?, ?)",
		entry.ID, string(entry.Kind), entry.Message, string(entry.Data),
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("診断記録の挿入に失敗: %w", err)
	}
	return nil
}

// Diagnostics は新しい順に最大 limit 件の診断記録を返す。
func (s *Store) Diagnostics(ctx context.Context, limit int) ([]*diag.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, message, data, created_at FROM diagnostics ORDER BY created_at DESC, id LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("診断記録の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*diag.Entry
	for rows.Next() {
		var (
			e         diag.Entry
			kind      string
			data      string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Message, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("診断記録の読み取りに失敗: %w", err)
		}
		e.Kind = diag.Kind(kind)
		e.Data = []byte(data)
		e.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("診断記録の日時の解析に失敗: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
