// Package httpclient はSession Gatewayへ認証付きリクエストを送るクライアントを提供する。
//
// すべてのAPIリクエストはこのクライアントを通る。送信前にロケールCookieから
// Accept-Languageを付与し、ログインなどの公開認証ルートかどうかを判定する。
// 保護されたリソースが401を返した場合、同時に失敗したリクエストの間で
// トークンリフレッシュを1回だけ実行し、成功すれば待機中のリクエストを到着順に再送する。
// リフレッシュに失敗した場合はセッション切れを一度だけ通知する。
package httpclient
