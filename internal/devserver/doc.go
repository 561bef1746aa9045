// Package devserver はhrgateクライアントの動作確認に使用する開発用の人事APIバックエンドを提供する。
//
// 組織（テナント）と拠点、ユーザー、従業員、休暇申請、給与計算をSQLiteに保持し、
// ログイン、トークン更新、拠点の切り替え、テナント固有のAPIを提供する。
// 起動時にデモデータ（alice / bob / admin）を投入する。
//
// /api/v1/dev 配下にはメンテナンスモードの切り替えや、ユーザーと組織の削除など、
// クライアントの異常系を再現するための操作がある。本番環境では使用しないこと。
package devserver
