// Package sessionstore はhrgate CLIのセッションをSQLiteに永続化する。
//
// Store は gateway.Session と gateway.SessionTerminationSink の両方を実装し、
// ゲートウェイが強制ログアウトした場合は保存済みのセッションを削除して
// 遷移先と診断記録を残す。
package sessionstore
