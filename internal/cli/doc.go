// Package cli はhrgateコマンドのサブコマンドを実装する。
//
// すべてのAPI呼び出しは gateway.Client を経由する。セッションは sessionstore に保存され、
// ゲートウェイがセッションを終了した場合は移動先の画面をコマンドの終了時に表示する。
package cli
