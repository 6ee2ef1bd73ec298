// Package middleware はGinベースのHTTPサーバーで使用する共通ミドルウェアを提供する。
//
// リクエストIDの付与、zapによるアクセスログ、パニックリカバリ、開発用フロントエンド向けのCORS、
// Cookieまたは Authorization ヘッダーで渡されるJWTの検証を含む。
package middleware
