// Package cookie はCookieヘッダーとSet-Cookieヘッダーを扱う共通ユーティリティを提供する。
//
// Gatewayがバックエンドから受け取ったSet-Cookieをブラウザへ中継する処理と、
// リフレッシュで得た新しいCookieを元のCookieヘッダーへマージする処理を含む。
// Set-Cookieは常に1値1ヘッダーとして扱い、カンマで連結しない。
package cookie
