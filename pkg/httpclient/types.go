package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nao1215/sessiongate/pkg/envelope"
)

// ErrRefreshFailed はトークンリフレッシュに失敗したことを表す。
// 元の原因（*HTTPErrorや通信エラー）もerrors.As/errors.Isで取り出せる。
var ErrRefreshFailed = errors.New("トークンのリフレッシュに失敗")

// errRefreshAborted はリフレッシュ処理が結果を返す前に中断されたことを表す。
var errRefreshAborted = errors.New("リフレッシュ処理が中断されました")

// Request はクライアントが送信するリクエスト。
// 401からの回復時に再送できるよう、ボディはバイト列で保持する。
type Request struct {
	// Method はHTTPメソッド。空ならGET。
	Method string
	// Path はベースURLからのパス（例: "/api/dashboard"）。クエリ文字列を含んでもよい。
	Path string
	// Query は追加するクエリパラメータ。
	Query url.Values
	// Header は追加するリクエストヘッダー。
	Header http.Header
	// Body はリクエストボディ。
	Body []byte
	// SkipAuthRefresh がtrueなら401を受けてもリフレッシュを行わない。
	SkipAuthRefresh bool
	// AcceptClientErrors がtrueなら500未満のステータスをエラーにせず呼び出し側に返す。
	// バリデーションエラーのボディを検査したいフォーム送信などで使う。
	AcceptClientErrors bool
}

// Response はクライアントが受け取ったレスポンス。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Header はレスポンスヘッダー。
	Header http.Header
	// Body はレスポンスボディ。
	Body []byte
}

// Decode はレスポンスボディをvにデシリアライズする。
// ボディが {"data": ...} のエンベロープなら中身のdataを取り出して使う。
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(envelope.Unwrap(r.Body), v); err != nil {
		return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
	}
	return nil
}

// HTTPError はバックエンドがエラーステータスを返したことを表す。
type HTTPError struct {
	// Method はリクエストのHTTPメソッド。
	Method string
	// Path はリクエストのパス。
	Path string
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Message はエンベロープのmessageフィールド。なければ空。
	Message string
	// Body はレスポンスボディ。
	Body []byte
}

// newHTTPError はレスポンスからHTTPErrorを組み立てる。
func newHTTPError(method, path string, status int, body []byte) *HTTPError {
	return &HTTPError{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Message:    envelope.Message(body),
		Body:       body,
	}
}

// Error はerrorインターフェースを実装する。
func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTPエラー: %s %s status=%d, message=%s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTPエラー: %s %s status=%d", e.Method, e.Path, e.StatusCode)
}

// StatusCode はerrに含まれるHTTPErrorのステータスコードを返す。HTTPErrorでなければ0を返す。
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
