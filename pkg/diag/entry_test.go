package diag

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestNew は診断記録の生成を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("IDと作成日時が設定されること", func(t *testing.T) {
		t.Parallel()

		before := time.Now().UTC()
		e, err := New(KindForcedLogout, "セッションを強制終了しました", SessionEndedData{
			Reason:     "tenant_mismatch",
			Target:     "/login?error=tenant_mismatch",
			StatusCode: 403,
		})
		if err != nil {
			t.Fatalf("New()がエラーを返した: %v", err)
		}
		if _, err := uuid.Parse(e.ID); err != nil {
			t.Errorf("IDがUUIDではない: %v", err)
		}
		if e.Kind != KindForcedLogout {
			t.Errorf("Kind = %q, want %q", e.Kind, KindForcedLogout)
		}
		if e.CreatedAt.Before(before) {
			t.Errorf("CreatedAt = %v, want after %v", e.CreatedAt, before)
		}
		if e.CreatedAt.Location() != time.UTC {
			t.Errorf("CreatedAt.Location() = %v, want UTC", e.CreatedAt.Location())
		}
	})

	t.Run("シリアライズできないデータはエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		if _, err := New(KindRedirect, "x", map[string]any{"ch": make(chan int)}); err == nil {
			t.Error("エラーが返されなかった")
		}
	})

	t.Run("生成ごとに異なるIDになること", func(t *testing.T) {
		t.Parallel()

		a, _ := New(KindRedirect, "a", nil)
		b, _ := New(KindRedirect, "b", nil)
		if a.ID == b.ID {
			t.Errorf("ID が重複した: %s", a.ID)
		}
	})
}

// TestDecodeData は記録固有データのデコードを検証する。
func TestDecodeData(t *testing.T) {
	t.Parallel()

	t.Run("SessionEndedDataを復元できること", func(t *testing.T) {
		t.Parallel()

		e, err := New(KindRefreshFailed, "更新に失敗", SessionEndedData{Reason: "token_invalid", Code: "token_not_valid"})
		if err != nil {
			t.Fatalf("New()がエラーを返した: %v", err)
		}
		data, err := DecodeData[SessionEndedData](e)
		if err != nil {
			t.Fatalf("DecodeData()がエラーを返した: %v", err)
		}
		if data.Reason != "token_invalid" || data.Code != "token_not_valid" {
			t.Errorf("data = %+v, want Reason=token_invalid Code=token_not_valid", data)
		}
	})

	t.Run("不正なデータはエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		e := &Entry{Data: json.RawMessage(`{"status_code": "abc"}`)}
		if _, err := DecodeData[SessionEndedData](e); err == nil {
			t.Error("エラーが返されなかった")
		}
	})

	t.Run("省略可能なフィールドはJSONに含まれないこと", func(t *testing.T) {
		t.Parallel()

		e, err := New(KindRedirect, "遷移", SessionEndedData{Reason: "tenant_not_found", Target: "/tenant-not-found"})
		if err != nil {
			t.Fatalf("New()がエラーを返した: %v", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(e.Data, &raw); err != nil {
			t.Fatalf("Dataのパースに失敗: %v", err)
		}
		if _, ok := raw["status_code"]; ok {
			t.Error("status_codeが含まれている")
		}
	})
}
