package gateway

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestError はゲートウェイのエラー型の比較と文字列表現を検証する。
func TestError(t *testing.T) {
	t.Parallel()

	t.Run("同じKindのセンチネルとerrors.Isで一致すること", func(t *testing.T) {
		t.Parallel()

		err := fmt.Errorf("従業員一覧の取得に失敗: %w", &Error{Kind: KindTenantMismatch, StatusCode: 403})
		if !errors.Is(err, ErrTenantMismatch) {
			t.Error("errors.Is(err, ErrTenantMismatch) = false")
		}
		if errors.Is(err, ErrTenantNotFound) {
			t.Error("errors.Is(err, ErrTenantNotFound) = true")
		}
		if got := KindOf(err); got != KindTenantMismatch {
			t.Errorf("KindOf() = %q, want %q", got, KindTenantMismatch)
		}
	})

	t.Run("原因のエラーを辿れること", func(t *testing.T) {
		t.Parallel()

		err := &Error{Kind: KindTokenExpired, Err: ErrNoRefreshToken}
		if !errors.Is(err, ErrNoRefreshToken) {
			t.Error("errors.Is(err, ErrNoRefreshToken) = false")
		}
	})

	t.Run("文字列にステータスとコードを含むこと", func(t *testing.T) {
		t.Parallel()

		err := &Error{Kind: KindTenantNotFound, StatusCode: 404, Code: "tenant_not_found", Message: "Tenant not found"}
		got := err.Error()
		for _, want := range []string{"tenant_not_found", "status=404", "Tenant not found"} {
			if !strings.Contains(got, want) {
				t.Errorf("Error() = %q, want containing %q", got, want)
			}
		}
	})

	t.Run("ゲートウェイのエラーでなければ空のKindを返すこと", func(t *testing.T) {
		t.Parallel()

		if got := KindOf(errors.New("other")); got != "" {
			t.Errorf("KindOf() = %q, want empty", got)
		}
	})
}
