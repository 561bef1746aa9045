// Package diag はゲートウェイが残す診断記録の型を定義する。
//
// 強制ログアウトやテナント不一致による遷移など、セキュリティ上意味のある
// イベントを SessionTerminationSink 経由でホスト環境に渡すために使用する。
package diag
