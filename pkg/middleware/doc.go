// Package middleware は開発用バックエンドで使用するGinミドルウェアを提供する。
//
// JWTの発行と検証、組織（テナント）の解決、リクエストIDの引き継ぎ、
// パニックリカバリ、CORS設定を含む。
package middleware
