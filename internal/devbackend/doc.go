// Package devbackend はGatewayの動作確認に使う開発用バックエンドを提供する。
//
// Gatewayが前提とする認証APIの契約（ログイン、リフレッシュ、ログアウト、
// 現在のユーザー、OAuth完了）を実装する。アクセストークンはJWT、リフレッシュトークンは
// SQLiteに保存するUUIDで、リフレッシュのたびにローテーションする。
// 本番環境で使うことは想定していない。
package devbackend
