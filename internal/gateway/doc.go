// Package gateway はSession Gateway（BFF）の内部実装を提供する。
//
// ブラウザと同一オリジンで動くリバースプロキシで、/api 配下へのリクエストを
// バックエンドへ転送する。バックエンドが返したSet-Cookieは1件ずつ取り出して
// 自分のレスポンスに付け直すため、ブラウザはバックエンドのオリジンを知る必要がない。
// リフレッシュ、ログアウト、現在のユーザー取得、OAuth完了は専用のハンドラが処理し、
// 現在のユーザー取得では401/403を受けたときに1回だけリフレッシュして再試行する。
package gateway
