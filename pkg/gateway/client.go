package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultTimeout は1回の呼び出しのタイムアウト。
const DefaultTimeout = 30 * time.Second

// Config はゲートウェイクライアントの設定。
type Config struct {
	// BaseURL はAPIのベースURL（例: "http://localhost:8000/api/v1"）。必須。
	BaseURL string
	// Session はトークンとユーザー情報へのアクセサ。必須。
	Session Session
	// Sink はセッション終了時の副作用の実装。省略時は何もしない。
	Sink SessionTerminationSink
	// Timeout は1回の呼び出しのタイムアウト。省略時は DefaultTimeout。
	Timeout time.Duration
	// HTTPClient は送信に使用するHTTPクライアント。省略時は Timeout を設定したものを生成する。
	HTTPClient *http.Client
	// Logger はログ出力先。省略時は出力しない。
	Logger *zap.Logger
	// AuthExemptPaths は認証系エンドポイントのパス断片。省略時は DefaultAuthExemptPaths。
	AuthExemptPaths []string
	// RefreshPath はトークン更新エンドポイントのパス。省略時は DefaultRefreshPath。
	RefreshPath string
	// CurrentPath はログイン後に戻る画面のパスを返す。省略時は "/"。
	CurrentPath func() string
	// Registerer はメトリクスの登録先。nil の場合は登録しない。
	Registerer prometheus.Registerer
}

// Client はHRバックエンドへのHTTPゲートウェイクライアント。
// テナント・拠点レジスタ、メンテナンス通知、トークン更新の調停状態を所有する。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL はAPIのベースURL。
	baseURL string
	// timeout はトークン更新呼び出しに適用するタイムアウト。
	timeout     time.Duration
	session     Session
	sink        SessionTerminationSink
	logger      *zap.Logger
	exemptPaths []string
	refreshPath string
	currentPath func() string

	registers *Registers
	notifier  *Notifier
	refresher *refresher
	metrics   *metrics

	// maintenanceMu は状態の確定と通知の順序を揃える。
	maintenanceMu sync.Mutex
}

// New は新しいゲートウェイクライアントを生成する。
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("BaseURLが指定されていません")
	}
	if cfg.Session == nil {
		return nil, errors.New("Sessionが指定されていません")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	sink := cfg.Sink
	if sink == nil {
		sink = nopSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	exempt := cfg.AuthExemptPaths
	if len(exempt) == 0 {
		exempt = DefaultAuthExemptPaths
	}
	refreshPath := cfg.RefreshPath
	if refreshPath == "" {
		refreshPath = DefaultRefreshPath
	}
	currentPath := cfg.CurrentPath
	if currentPath == nil {
		currentPath = func() string { return "/" }
	}

	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     timeout,
		session:     cfg.Session,
		sink:        sink,
		logger:      logger.Named("gateway"),
		exemptPaths: exempt,
		refreshPath: refreshPath,
		currentPath: currentPath,
		registers:   &Registers{},
		notifier:    &Notifier{},
		refresher:   &refresher{},
		metrics:     newMetrics(cfg.Registerer),
	}, nil
}

// Registers はテナント・拠点・メンテナンス状態のレジスタを返す。
func (c *Client) Registers() *Registers {
	return c.registers
}

// Notifier はメンテナンス状態の通知先を返す。
func (c *Client) Notifier() *Notifier {
	return c.notifier
}

// Request はゲートウェイ経由で送信するリクエスト。
// トークン更新後に再送できるよう、ボディはバイト列で保持する。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// Path はベースURLからの相対パス。
	Path string
	// Query はクエリパラメータ。
	Query url.Values
	// Body はJSONエンコード済みのリクエストボディ。
	Body []byte
	// Header は追加のリクエストヘッダー。
	Header http.Header
	// BranchID はこの呼び出しに限り使用する拠点ID。空なら登録済みの拠点を使用する。
	BranchID string

	// retried はトークン更新による再送済みかどうか。一度立つと401の更新処理に再突入しない。
	retried bool
	// bearer は再送時に使用する更新後のアクセストークン。
	bearer string
	// noAuth はAuthorizationヘッダーを付与しないかどうか。
	noAuth bool
	// sentBearer は直近の送信で付与したアクセストークン。
	sentBearer string
}

// NewRequest はbodyをJSONエンコードしたリクエストを生成する。bodyがnilならボディなし。
func NewRequest(method, path string, body any) (*Request, error) {
	req := &Request{Method: method, Path: path}
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		req.Body = jsonBody
	}
	return req, nil
}

// Retried はリクエストがトークン更新後に再送済みかどうかを返す。
func (r *Request) Retried() bool {
	return r.retried
}

// Response はゲートウェイが受信した応答。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Header は応答ヘッダー。
	Header http.Header
	// Body は応答ボディ。
	Body []byte
	// Duration は送信から受信完了までの時間。
	Duration time.Duration
}

// DecodeJSON は応答ボディをvにデシリアライズする。
func (r *Response) DecodeJSON(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
	}
	return nil
}

// Do はリクエストを送信し、応答を分類する。
// 2xx以外の応答はすべて *Error として返す。401はトークン更新後に透過的に再送される。
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := c.intercept(ctx, req)
	if err != nil {
		return nil, err
	}

	res, err := c.send(httpReq)
	if err != nil {
		return nil, c.transportFailure(ctx, err)
	}
	if isSuccess(res.StatusCode) {
		c.markHealthy()
		return res, nil
	}
	return c.classify(ctx, req, res)
}

// send はリクエストを送信し、応答ボディを読み切る。応答の分類は行わない。
func (c *Client) send(httpReq *http.Request) (*Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み込みに失敗: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// GetJSON は指定パスにGETリクエストを送信し、応答をresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// PutJSON は指定パスにJSONボディでPUTリクエストを送信する。
func (c *Client) PutJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPut, path, body, result)
}

// PatchJSON は指定パスにJSONボディでPATCHリクエストを送信する。
func (c *Client) PatchJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPatch, path, body, result)
}

// Delete は指定パスにDELETEリクエストを送信する。
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// doJSON はJSON形式のリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	req, err := NewRequest(method, path, body)
	if err != nil {
		return err
	}
	res, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if result != nil {
		return res.DecodeJSON(result)
	}
	return nil
}

// requestURL はベースURLとパス、クエリから送信先URLを組み立てる。
func (c *Client) requestURL(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// markHealthy はメンテナンス状態を正常に戻す。
func (c *Client) markHealthy() {
	c.setMaintenance(MaintenanceState{})
}

// markDown はメンテナンス状態を停止中にする。
func (c *Client) markDown(message string) {
	c.setMaintenance(MaintenanceState{IsDown: true, Message: message})
}

// setMaintenance は状態が変化した場合のみリスナーに通知する。
// リスナーはここから再度メンテナンス状態を変更してはならない。
func (c *Client) setMaintenance(state MaintenanceState) {
	c.maintenanceMu.Lock()
	defer c.maintenanceMu.Unlock()

	if !c.registers.setMaintenance(state) {
		return
	}
	if state.IsDown {
		c.metrics.maintenance.Set(1)
		c.logger.Warn("バックエンドが利用できません", zap.String("message", state.Message))
	} else {
		c.metrics.maintenance.Set(0)
		c.logger.Info("バックエンドが復旧しました")
	}
	c.notifier.Notify(state)
}

// bodyReader はボディがあればReaderを返す。
func bodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}
