package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/nao1215/hrgate/pkg/diag"
	"go.uber.org/zap"
)

// refreshResult はトークン更新の結果。待機中の全リクエストに同じ値が配られる。
type refreshResult struct {
	tokens AuthTokens
	err    error
}

// refresher は同時に発生したトークン失効を1回の更新呼び出しにまとめる。
// waiters は inFlight の間だけ空でなく、各待機者には結果がちょうど1回送られる。
type refresher struct {
	mu       sync.Mutex
	inFlight bool
	waiters  []chan refreshResult
}

// join は更新処理に参加する。実行中の更新がなければ leader として更新を担当し、
// あれば待機キューに登録して結果を受け取るチャネルを返す。
func (r *refresher) join() (leader bool, wait <-chan refreshResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight {
		ch := make(chan refreshResult, 1)
		r.waiters = append(r.waiters, ch)
		return false, ch
	}
	r.inFlight = true
	return true, nil
}

// settle は更新処理を終了し、登録順に待機者へ結果を配る。
func (r *refresher) settle(res refreshResult) {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = nil
	r.inFlight = false
	r.mu.Unlock()

	for _, w := range waiters {
		w <- res
	}
}

// state は更新処理の実行状態と待機者数を返す。
func (r *refresher) state() (inFlight bool, waiting int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight, len(r.waiters)
}

// refreshAndReplay はトークンを更新し、元のリクエストを新しいトークンで再送する。
// 更新中であれば完了を待ち、更新呼び出しは行わない。
func (c *Client) refreshAndReplay(ctx context.Context, req *Request) (*Response, error) {
	req.retried = true

	leader, wait := c.refresher.join()
	if !leader {
		select {
		case res := <-wait:
			if res.err != nil {
				return nil, res.err
			}
			return c.replay(ctx, req, res.tokens)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	tokens, err := c.renew(ctx)
	if err != nil {
		// 待機者を解放する前にセッションを終了し、後続の401が新たな更新を始めないようにする
		c.afterRenewalFailure(ctx, err)
	}
	c.refresher.settle(refreshResult{tokens: tokens, err: err})
	if err != nil {
		return nil, err
	}
	return c.replay(ctx, req, tokens)
}

// refreshRequest はトークン更新エンドポイントへのリクエストボディ。
type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// refreshResponse はトークン更新エンドポイントの応答。
// {"tokens": {...}} と {"access": ..., "refresh": ...} の両方の形を受け付ける。
type refreshResponse struct {
	Tokens  *AuthTokens `json:"tokens"`
	Access  string      `json:"access"`
	Refresh string      `json:"refresh"`
}

// renew はトークン更新エンドポイントを呼び出し、新しいトークンをセッションに設定する。
// 呼び出し元のキャンセルに影響されないよう、クライアントのタイムアウトのみで打ち切る。
func (c *Client) renew(ctx context.Context) (AuthTokens, error) {
	c.metrics.refreshes.Inc()
	current := c.session.Tokens()

	body, err := json.Marshal(refreshRequest{Refresh: current.Refresh})
	if err != nil {
		return AuthTokens{}, withKind(Error{Err: err}, KindTokenInvalid)
	}

	renewCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	httpReq, err := c.intercept(renewCtx, &Request{
		Method:  http.MethodPost,
		Path:    c.refreshPath,
		Body:    body,
		retried: true,
		noAuth:  true,
	})
	if err != nil {
		return AuthTokens{}, err
	}
	res, err := c.send(httpReq)
	if err != nil {
		c.logger.Warn("トークン更新エンドポイントに接続できません", zap.Error(err))
		return AuthTokens{}, c.unreachable(err)
	}

	if !isSuccess(res.StatusCode) {
		p := parsePayload(res.Body)
		base := Error{
			StatusCode: res.StatusCode,
			Code:       p.code(),
			Message:    p.message(),
			Body:       res.Body,
		}
		if res.StatusCode >= http.StatusInternalServerError {
			c.markDown(MessageServiceDegraded)
		}
		if p.hasCode(CodeUserNotFound) {
			gerr := withKind(base, KindUserNotFound)
			gerr.Code = CodeUserNotFound
			return AuthTokens{}, c.reject(gerr)
		}
		return AuthTokens{}, c.reject(withKind(base, KindTokenInvalid))
	}
	c.markHealthy()

	var decoded refreshResponse
	if err := res.DecodeJSON(&decoded); err != nil {
		return AuthTokens{}, c.reject(withKind(Error{StatusCode: res.StatusCode, Body: res.Body, Err: err}, KindTokenInvalid))
	}
	next := AuthTokens{Access: decoded.Access, Refresh: decoded.Refresh}
	if decoded.Tokens != nil && decoded.Tokens.Access != "" {
		next = *decoded.Tokens
	}
	if next.Access == "" {
		return AuthTokens{}, c.reject(&Error{
			Kind:       KindTokenInvalid,
			StatusCode: res.StatusCode,
			Message:    "更新応答にアクセストークンが含まれていません",
			Body:       res.Body,
		})
	}
	if next.Refresh == "" {
		next.Refresh = current.Refresh
	}

	if err := c.session.SetTokens(next); err != nil {
		c.logger.Warn("更新したトークンの保存に失敗", zap.Error(err))
	}
	c.logger.Debug("トークンを更新しました")
	return next, nil
}

// afterRenewalFailure は更新失敗時にセッションを終了する。
// テナント内に存在しないスーパーユーザーと、バックエンドに到達できなかった場合はログアウトしない。
func (c *Client) afterRenewalFailure(ctx context.Context, err error) {
	var gerr *Error
	if !errors.As(err, &gerr) {
		return
	}
	switch gerr.Kind {
	case KindUserNotFound:
		c.logger.Debug("更新時にユーザーが存在しないためログアウトしません")
		return
	case KindUnreachable:
		return
	}
	c.forceLogout(ctx, diag.KindRefreshFailed, gerr, NavLogin+"?redirect="+url.QueryEscape(c.currentPath()))
}

// replay は更新後のアクセストークンで元のリクエストを再送する。
func (c *Client) replay(ctx context.Context, req *Request, tokens AuthTokens) (*Response, error) {
	again := *req
	again.bearer = tokens.Access
	again.retried = true
	return c.Do(ctx, &again)
}
