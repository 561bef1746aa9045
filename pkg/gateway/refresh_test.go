package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/hrgate/pkg/diag"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"
)

// waitForWaiters は更新処理の待機者が want 件になるまで待つ。
func waitForWaiters(c *Client, want int) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, waiting := c.refresher.state(); waiting >= want {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// TestRefresher は更新処理の参加と終了の状態遷移を検証する。
func TestRefresher(t *testing.T) {
	t.Parallel()

	var r refresher

	leader, wait := r.join()
	if !leader || wait != nil {
		t.Fatalf("join() = (%v, %v), want leader", leader, wait)
	}

	var waits []<-chan refreshResult
	for range 3 {
		leader, wait := r.join()
		if leader {
			t.Fatal("更新中に2人目のleaderが生まれた")
		}
		waits = append(waits, wait)
	}
	if inFlight, waiting := r.state(); !inFlight || waiting != 3 {
		t.Errorf("state() = (%v, %d), want (true, 3)", inFlight, waiting)
	}

	want := refreshResult{tokens: AuthTokens{Access: "a2", Refresh: "r2"}}
	r.settle(want)

	for i, w := range waits {
		select {
		case got := <-w:
			if got.tokens != want.tokens || got.err != nil {
				t.Errorf("waiter[%d] = %+v, want %+v", i, got, want)
			}
		default:
			t.Errorf("waiter[%d] に結果が届いていない", i)
		}
	}
	if inFlight, waiting := r.state(); inFlight || waiting != 0 {
		t.Errorf("state() = (%v, %d), want (false, 0)", inFlight, waiting)
	}

	if leader, _ := r.join(); !leader {
		t.Error("終了後の参加者がleaderにならない")
	}
}

// TestSingleFlightRefresh は同時に失効した複数のリクエストが1回の更新で再送されることを検証する。
func TestSingleFlightRefresh(t *testing.T) {
	t.Parallel()

	const parallel = 3

	var (
		c           *Client
		refreshes   atomic.Int32
		replays     atomic.Int32
		refreshBody []byte
	)
	f := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, DefaultRefreshPath) {
			refreshes.Add(1)
			refreshBody, _ = io.ReadAll(r.Body)
			if r.Header.Get(HeaderAuthorization) != "" {
				t.Error("更新リクエストにAuthorizationが付与されている")
			}
			if !waitForWaiters(c, parallel-1) {
				t.Error("待機者が揃わなかった")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"tokens": map[string]string{"access": "new-access", "refresh": "new-refresh"},
			})
			return
		}
		if r.Header.Get(HeaderAuthorization) == "Bearer new-access" {
			replays.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{"results": []any{}})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Given token not valid", "code": "token_not_valid"})
	}))
	c = f.client

	eg, ctx := errgroup.WithContext(context.Background())
	for range parallel {
		eg.Go(func() error {
			return f.client.GetJSON(ctx, "/employees/", nil)
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("GetJSON()がエラーを返した: %v", err)
	}

	if got := refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if got := replays.Load(); got != parallel {
		t.Errorf("replays = %d, want %d", got, parallel)
	}

	var sent refreshRequest
	if err := json.Unmarshal(refreshBody, &sent); err != nil {
		t.Fatalf("更新リクエストのパースに失敗: %v", err)
	}
	if sent.Refresh != "old-refresh" {
		t.Errorf("refresh = %q, want %q", sent.Refresh, "old-refresh")
	}

	want := AuthTokens{Access: "new-access", Refresh: "new-refresh"}
	if got := f.session.Tokens(); got != want {
		t.Errorf("Tokens() = %+v, want %+v", got, want)
	}
	if inFlight, waiting := f.client.refresher.state(); inFlight || waiting != 0 {
		t.Errorf("state() = (%v, %d), want (false, 0)", inFlight, waiting)
	}
	if got := testutil.ToFloat64(f.client.metrics.refreshes); got != 1 {
		t.Errorf("token_refresh_total = %v, want 1", got)
	}
}

// TestRefreshFailureLogsOutOnce は更新失敗時に強制ログアウトが1回だけ行われることを検証する。
func TestRefreshFailureLogsOutOnce(t *testing.T) {
	t.Parallel()

	const parallel = 3

	var (
		c         *Client
		refreshes atomic.Int32
	)
	f := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, DefaultRefreshPath) {
			refreshes.Add(1)
			if !waitForWaiters(c, parallel-1) {
				t.Error("待機者が揃わなかった")
			}
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Token is blacklisted", "code": "token_not_valid"})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Given token not valid", "code": "token_not_valid"})
	}), func(cfg *Config) {
		cfg.CurrentPath = func() string { return "/employees/42" }
	})
	c = f.client

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for range parallel {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.client.GetJSON(context.Background(), "/employees/", nil)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("errs[%d] = %v, want ErrTokenInvalid", i, err)
		}
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}

	logouts, navigations, entries := f.sink.snapshot()
	if logouts != 1 {
		t.Errorf("logouts = %d, want 1", logouts)
	}
	wantNav := "/login?redirect=%2Femployees%2F42"
	if len(navigations) != 1 || navigations[0] != wantNav {
		t.Errorf("navigations = %v, want [%s]", navigations, wantNav)
	}
	if len(entries) != 1 || entries[0].Kind != diag.KindRefreshFailed {
		t.Errorf("entries = %+v, want 1件の %s", entries, diag.KindRefreshFailed)
	}
	if got := f.session.Tokens(); got != (AuthTokens{}) {
		t.Errorf("Tokens() = %+v, want cleared", got)
	}
	if f.client.Registers().Tenant().Ready {
		t.Error("テナントが確定済みのまま")
	}
	if inFlight, waiting := f.client.refresher.state(); inFlight || waiting != 0 {
		t.Errorf("state() = (%v, %d), want (false, 0)", inFlight, waiting)
	}
}

// TestRefreshUserNotFound は更新時の user_not_found でログアウトしないことを検証する。
func TestRefreshUserNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body any
	}{
		{
			name: "errorオブジェクトのcode",
			body: map[string]any{"error": map[string]any{"code": "user_not_found"}},
		},
		{
			name: "error.detailsのcode",
			body: map[string]any{"error": map[string]any{"message": "User not found", "details": map[string]any{"code": "user_not_found"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, DefaultRefreshPath) {
					writeJSON(w, http.StatusUnauthorized, tt.body)
					return
				}
				writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Given token not valid"})
			}))
			f.session.SetSuperuser(true)

			_, err := f.client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/employees/"})
			if !errors.Is(err, ErrUserNotFound) {
				t.Fatalf("err = %v, want ErrUserNotFound", err)
			}

			logouts, navigations, _ := f.sink.snapshot()
			if logouts != 0 {
				t.Errorf("logouts = %d, want 0", logouts)
			}
			if len(navigations) != 0 {
				t.Errorf("navigations = %v, want none", navigations)
			}
			if got := f.session.Tokens().Refresh; got != "old-refresh" {
				t.Errorf("Tokens().Refresh = %q, want %q", got, "old-refresh")
			}
		})
	}
}

// TestRetryIsOneShot は再送後の401で更新処理に再突入しないことを検証する。
func TestRetryIsOneShot(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int32
	f := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, DefaultRefreshPath) {
			refreshes.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{"access": "new-access", "refresh": "new-refresh"})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Given token not valid"})
	}))

	req := &Request{Method: http.MethodGet, Path: "/employees/"}
	_, err := f.client.Do(context.Background(), req)
	if KindOf(err) != KindUnclassified {
		t.Fatalf("KindOf(err) = %q, want %q", KindOf(err), KindUnclassified)
	}
	if !req.Retried() {
		t.Error("Retried() = false, want true")
	}

	// 呼び出し元が同じリクエストを手動で再試行しても更新は行わない
	_, err = f.client.Do(context.Background(), req)
	var gerr *Error
	if !errors.As(err, &gerr) || gerr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 *Error", err)
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if logouts, _, _ := f.sink.snapshot(); logouts != 0 {
		t.Errorf("logouts = %d, want 0", logouts)
	}
}

// TestLateUnauthorizedReusesRenewedToken は送信後に他のリクエストがトークンを更新済みの場合、
// 更新を呼ばずに新しいトークンで再送することを検証する。
func TestLateUnauthorizedReusesRenewedToken(t *testing.T) {
	t.Parallel()

	var (
		f         *testFixture
		refreshes atomic.Int32
	)
	f = newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, DefaultRefreshPath):
			refreshes.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{"access": "other-access", "refresh": "other-refresh"})
		case r.Header.Get(HeaderAuthorization) == "Bearer old-access":
			// 応答が届く前に別の呼び出しが更新を終えた状況
			if err := f.session.SetTokens(AuthTokens{Access: "new-access", Refresh: "new-refresh"}); err != nil {
				t.Errorf("SetTokens()がエラーを返した: %v", err)
			}
			writeJSON(w, http.StatusUnauthorized, map[string]any{"code": "token_not_valid"})
		case r.Header.Get(HeaderAuthorization) == "Bearer new-access":
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeJSON(w, http.StatusUnauthorized, map[string]any{"code": "token_not_valid"})
		}
	}))

	req := &Request{Method: http.MethodGet, Path: "/employees/"}
	if _, err := f.client.Do(context.Background(), req); err != nil {
		t.Fatalf("Do()がエラーを返した: %v", err)
	}
	if got := refreshes.Load(); got != 0 {
		t.Errorf("refreshes = %d, want 0", got)
	}
	if !req.Retried() {
		t.Error("Retried() = false, want true")
	}
	want := AuthTokens{Access: "new-access", Refresh: "new-refresh"}
	if got := f.session.Tokens(); got != want {
		t.Errorf("Tokens() = %+v, want %+v", got, want)
	}
}

// TestRenewResponseShapes は更新応答の形ごとのトークン設定を検証する。
func TestRenewResponseShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body any
		want AuthTokens
	}{
		{
			name: "tokensでネストした形",
			body: map[string]any{"tokens": map[string]string{"access": "a2", "refresh": "r2"}},
			want: AuthTokens{Access: "a2", Refresh: "r2"},
		},
		{
			name: "フラットな形",
			body: map[string]string{"access": "a2", "refresh": "r2"},
			want: AuthTokens{Access: "a2", Refresh: "r2"},
		},
		{
			name: "refreshを含まない場合は以前のものを維持する",
			body: map[string]string{"access": "a2"},
			want: AuthTokens{Access: "a2", Refresh: "old-refresh"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, DefaultRefreshPath) {
					writeJSON(w, http.StatusOK, tt.body)
					return
				}
				if r.Header.Get(HeaderAuthorization) == "Bearer a2" {
					writeJSON(w, http.StatusOK, map[string]any{})
					return
				}
				writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "expired"})
			}))

			if err := f.client.GetJSON(context.Background(), "/leave/", nil); err != nil {
				t.Fatalf("GetJSON()がエラーを返した: %v", err)
			}
			if got := f.session.Tokens(); got != tt.want {
				t.Errorf("Tokens() = %+v, want %+v", got, tt.want)
			}
		})
	}

	t.Run("アクセストークンのない応答は更新失敗として扱うこと", func(t *testing.T) {
		t.Parallel()

		f := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, DefaultRefreshPath) {
				writeJSON(w, http.StatusOK, map[string]any{"detail": "ok"})
				return
			}
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "expired"})
		}))

		err := f.client.GetJSON(context.Background(), "/leave/", nil)
		if !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("err = %v, want ErrTokenInvalid", err)
		}
		if logouts, _, _ := f.sink.snapshot(); logouts != 1 {
			t.Errorf("logouts = %d, want 1", logouts)
		}
	})
}

// TestRenewUnreachable は更新呼び出しが応答を受信できなかった場合を検証する。
func TestRenewUnreachable(t *testing.T) {
	t.Parallel()

	f := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, DefaultRefreshPath) {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("Hijackerに対応していない")
				return
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Errorf("Hijack()がエラーを返した: %v", err)
				return
			}
			conn.Close()
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "expired"})
	}))

	err := f.client.GetJSON(context.Background(), "/leave/", nil)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
	if logouts, _, _ := f.sink.snapshot(); logouts != 0 {
		t.Errorf("logouts = %d, want 0", logouts)
	}
	if !f.client.Registers().Maintenance().IsDown {
		t.Error("メンテナンス状態になっていない")
	}
	if got := f.session.Tokens().Refresh; got != "old-refresh" {
		t.Errorf("Tokens().Refresh = %q, want %q", got, "old-refresh")
	}
}

// TestRenewWithCustomExemptPaths は除外パスに更新パスを含めない設定でも更新できることを検証する。
func TestRenewWithCustomExemptPaths(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int32
	f := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, DefaultRefreshPath) {
			refreshes.Add(1)
			if got := r.Header.Get(HeaderBranchID); got != "" {
				t.Errorf("X-Branch-ID = %q, want empty", got)
			}
			writeJSON(w, http.StatusOK, map[string]any{"access": "new-access", "refresh": "new-refresh"})
			return
		}
		if r.Header.Get(HeaderAuthorization) != "Bearer new-access" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}), func(cfg *Config) {
		cfg.AuthExemptPaths = []string{"/auth/login/"}
	})
	f.client.Registers().ClearTenant()
	f.client.Registers().SetBranch("branch-1")

	if err := f.client.GetJSON(context.Background(), "/auth/login/", nil); err != nil {
		t.Fatalf("GetJSON()がエラーを返した: %v", err)
	}
	if got := refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if logouts, _, _ := f.sink.snapshot(); logouts != 0 {
		t.Errorf("logouts = %d, want 0", logouts)
	}
	if got := f.session.Tokens().Access; got != "new-access" {
		t.Errorf("Tokens().Access = %q, want %q", got, "new-access")
	}
}

// TestWaiterContextCancel は待機中の呼び出し元が自身のコンテキストで抜けられることを検証する。
func TestWaiterContextCancel(t *testing.T) {
	t.Parallel()

	f := newTestClient(t, http.NotFoundHandler())

	leader, _ := f.client.refresher.join()
	if !leader {
		t.Fatal("leaderになれなかった")
	}
	defer f.client.refresher.settle(refreshResult{err: errors.New("中断")})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.client.refreshAndReplay(ctx, &Request{Method: http.MethodGet, Path: "/employees/"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}
