package gateway

import (
	"context"
	"sync"

	"github.com/nao1215/hrgate/pkg/diag"
)

// AuthTokens はアクセストークンとリフレッシュトークンの組。
type AuthTokens struct {
	// Access は短命のベアラートークン。
	Access string `json:"access"`
	// Refresh はアクセストークン更新用の長命トークン。
	Refresh string `json:"refresh"`
}

// Session はホストアプリが保持するセッション状態へのアクセサ。
// ゲートウェイはトークンを自ら永続化せず、このインターフェース経由でのみ読み書きする。
type Session interface {
	// Tokens は現在のトークンを返す。
	Tokens() AuthTokens
	// SetTokens はトークンを丸ごと置き換える。
	SetTokens(tokens AuthTokens) error
	// ClearTokens はトークンを破棄する。
	ClearTokens() error
	// BoundOrganizationID はセッションに明示的に紐付けられた組織のIDを返す。
	BoundOrganizationID() string
	// IsSuperuser はログイン中のユーザーがスーパーユーザーかどうかを返す。
	IsSuperuser() bool
}

// SessionTerminationSink はセッション終了に伴うホスト環境固有の副作用を抽象化する。
// ブラウザではリダイレクト、CLIでは保存済みセッションの削除などで実装する。
type SessionTerminationSink interface {
	// Logout はホスト側のセッションを破棄する。
	Logout(ctx context.Context) error
	// Navigate は指定した画面へ遷移する。
	Navigate(path string)
	// RecordDiagnostic は診断用の記録を残す。
	RecordDiagnostic(entry *diag.Entry)
}

// nopSink は何もしない SessionTerminationSink。
type nopSink struct{}

func (nopSink) Logout(context.Context) error { return nil }
func (nopSink) Navigate(string)              {}
func (nopSink) RecordDiagnostic(*diag.Entry) {}

// MemorySession はメモリ上に状態を保持する Session の実装。
type MemorySession struct {
	mu             sync.RWMutex
	tokens         AuthTokens
	organizationID string
	superuser      bool
}

// NewMemorySession は指定したトークンを持つ MemorySession を生成する。
func NewMemorySession(tokens AuthTokens) *MemorySession {
	return &MemorySession{tokens: tokens}
}

// Tokens は現在のトークンを返す。
func (s *MemorySession) Tokens() AuthTokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// SetTokens はトークンを置き換える。
func (s *MemorySession) SetTokens(tokens AuthTokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = tokens
	return nil
}

// ClearTokens はトークンを破棄する。
func (s *MemorySession) ClearTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = AuthTokens{}
	return nil
}

// BoundOrganizationID は紐付け済みの組織IDを返す。
func (s *MemorySession) BoundOrganizationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.organizationID
}

// IsSuperuser はスーパーユーザーかどうかを返す。
func (s *MemorySession) IsSuperuser() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.superuser
}

// BindOrganization はセッションに組織を紐付ける。空文字列で解除する。
func (s *MemorySession) BindOrganization(organizationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizationID = organizationID
}

// SetSuperuser はスーパーユーザーかどうかを設定する。
func (s *MemorySession) SetSuperuser(superuser bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.superuser = superuser
}
