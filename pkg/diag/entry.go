package diag

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind は診断記録の種類を表す。
type Kind string

const (
	// KindForcedLogout はゲートウェイがセッションを強制終了したことを表す。
	KindForcedLogout Kind = "ForcedLogout"
	// KindRedirect はセッションを維持したまま専用画面へ遷移したことを表す。
	KindRedirect Kind = "Redirect"
	// KindRefreshFailed はトークン更新が失敗したことを表す。
	KindRefreshFailed Kind = "RefreshFailed"
)

// Entry はセッション終了や遷移に関する不変の診断記録。
type Entry struct {
	// ID は記録の一意識別子（UUID）。
	ID string `json:"id"`
	// Kind は記録の種類。
	Kind Kind `json:"kind"`
	// Message は記録の要約。
	Message string `json:"message"`
	// Data は記録固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt は記録が作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// SessionEndedData はセッションの強制終了・遷移時に記録するデータ。
type SessionEndedData struct {
	// Reason はゲートウェイが判定したエラー分類。
	Reason string `json:"reason"`
	// Target は遷移先の画面パス。
	Target string `json:"target"`
	// StatusCode は契機となった応答のHTTPステータスコード。
	StatusCode int `json:"status_code,omitempty"`
	// Code はバックエンドが返したエラーコード。
	Code string `json:"code,omitempty"`
}

// New は新しい診断記録を生成する。
// dataには記録固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(kind Kind, message string, data any) (*Entry, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("診断データのシリアライズに失敗: %w", err)
	}

	return &Entry{
		ID:        uuid.New().String(),
		Kind:      kind,
		Message:   message,
		Data:      jsonData,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// DecodeData は記録のDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Entry) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("診断データのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
