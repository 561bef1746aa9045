// Package gateway はHRバックエンドへのすべてのAPI呼び出しが経由する
// マルチテナント対応HTTPゲートウェイクライアントを提供する。
//
// 送信前にアクセストークン・組織ID・拠点IDのヘッダーを付与し、
// テナントが未確定の間はテナントスコープの呼び出しを送信せずに拒否する。
// 応答は以下のセキュリティアクションに分類される。
//   - バックエンド到達不可・5xx: メンテナンス状態の通知
//   - テナント不一致(403): 強制ログアウトとログイン画面への遷移
//   - テナント不存在(404)・契約期限切れ(402): 専用画面への遷移
//   - アクセストークン期限切れ(401): シングルフライトのトークン更新と再送
//
// Clientはセッションごとに一度だけ生成し、参照を共有して使用する。
package gateway
