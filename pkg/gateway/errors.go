package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// Kind はゲートウェイが返すエラーの分類を表す。
type Kind string

const (
	// KindUnreachable は応答を受信できなかった（ネットワーク・トランスポート障害）ことを表す。
	KindUnreachable Kind = "unreachable"
	// KindServiceDegraded はバックエンドが5xxを返したことを表す。
	KindServiceDegraded Kind = "service_degraded"
	// KindTenantMismatch はトークンのテナントと異なるテナントのリソースに到達したことを表す。
	KindTenantMismatch Kind = "tenant_mismatch"
	// KindTenantNotFound は指定したテナントが存在しないことを表す。
	KindTenantNotFound Kind = "tenant_not_found"
	// KindSubscriptionExpired はテナントの契約が失効していることを表す。
	KindSubscriptionExpired Kind = "subscription_expired"
	// KindTokenExpired はアクセストークンが失効し、更新できなかったことを表す。
	KindTokenExpired Kind = "token_expired"
	// KindTokenInvalid はトークン更新に失敗し、セッションが無効になったことを表す。
	KindTokenInvalid Kind = "token_invalid"
	// KindTenantContextMissing はリクエストにテナントコンテキストが不足していることを表す。
	// トークンの問題ではないため更新は行わない。
	KindTenantContextMissing Kind = "tenant_context_missing"
	// KindTenantNotReady はテナント確定前にテナントスコープの呼び出しが行われたことを表す。
	KindTenantNotReady Kind = "tenant_not_ready"
	// KindUserNotFound はスーパーユーザーがテナントのスキーマ内に存在しないことを表す。
	KindUserNotFound Kind = "user_not_found"
	// KindUnclassified は上記のいずれにも該当しない失敗を表す。
	KindUnclassified Kind = "unclassified"
)

// バックエンドが返す既知のエラーコード。
const (
	CodeTenantMismatch       = "tenant_mismatch"
	CodeTenantNotFound       = "tenant_not_found"
	CodeTenantRequired       = "tenant_required"
	CodeTenantContextMissing = "tenant_context_missing"
	CodeUserNotFound         = "user_not_found"
	CodeSubscriptionInactive = "SUBSCRIPTION_INACTIVE"
	// CodeTenantNotReady はクライアント側のテナント未確定ガードのコード。
	CodeTenantNotReady = "TENANT_NOT_READY"
)

// Error はゲートウェイが分類した失敗を表す。
// errors.Is は Kind が一致する場合に真となるため、ErrTenantMismatch 等の
// センチネル値と比較できる。
type Error struct {
	// Kind はエラーの分類。
	Kind Kind
	// StatusCode はHTTPステータスコード。応答がない場合は0。
	StatusCode int
	// Code はバックエンドまたはクライアントが付与したエラーコード。
	Code string
	// Message は利用者向けのメッセージ。
	Message string
	// Body はバックエンドが返した生の応答ボディ。
	Body []byte
	// Err は原因となったエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("gateway: ")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status=%d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap は原因となったエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// Is は target が同じ Kind の *Error であれば真を返す。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// 分類ごとのセンチネル値。errors.Is での比較に使用する。
var (
	ErrUnreachable          = &Error{Kind: KindUnreachable}
	ErrServiceDegraded      = &Error{Kind: KindServiceDegraded}
	ErrTenantMismatch       = &Error{Kind: KindTenantMismatch}
	ErrTenantNotFound       = &Error{Kind: KindTenantNotFound}
	ErrSubscriptionExpired  = &Error{Kind: KindSubscriptionExpired}
	ErrTokenExpired         = &Error{Kind: KindTokenExpired}
	ErrTokenInvalid         = &Error{Kind: KindTokenInvalid}
	ErrTenantContextMissing = &Error{Kind: KindTenantContextMissing}
	ErrTenantNotReady       = &Error{Kind: KindTenantNotReady}
	ErrUserNotFound         = &Error{Kind: KindUserNotFound}
)

// ErrNoRefreshToken はトークン更新に必要なリフレッシュトークンがないことを表す。
var ErrNoRefreshToken = errors.New("リフレッシュトークンがありません")

// KindOf は err に含まれる *Error の分類を返す。*Error でなければ空文字列を返す。
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}
