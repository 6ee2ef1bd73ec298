package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/sessiongate/pkg/cookie"
	"github.com/nao1215/sessiongate/pkg/envelope"
	"github.com/nao1215/sessiongate/pkg/middleware"
	"go.uber.org/zap"
)

// hopByHopHeaders は転送しないヘッダー。
// Accept-Encodingは送らず、Goのトランスポートに圧縮の扱いを任せる。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Host":                {},
	"Accept-Encoding":     {},
}

// backendRequest はバックエンドへ送るリクエスト。
type backendRequest struct {
	// route はメトリクスとログに使うルート名。
	route string
	// method はHTTPメソッド。
	method string
	// path はバックエンド上のパス。
	path string
	// rawPath はpathのエスケープ済み表現。エンコードを保つ必要がなければ空。
	rawPath string
	// rawQuery はエンコード済みのクエリ文字列。
	rawQuery string
	// header は送信するヘッダー。
	header http.Header
	// body はリクエストボディ。nilならボディなし。
	body io.Reader
	// contentLength はボディの長さ。不明なら-1。
	contentLength int64
}

// backendResponse はバックエンドから受け取ったレスポンス。ボディは読み切ってある。
type backendResponse struct {
	// status はHTTPステータスコード。
	status int
	// header はレスポンスヘッダー。
	header http.Header
	// body はレスポンスボディ。
	body []byte
	// setCookies はSet-Cookieヘッダーを1件ずつ取り出したもの。
	setCookies []string
}

// ok はステータスが2xxかどうかを返す。
func (r *backendResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

// contentType はレスポンスのContent-Typeを返す。なければJSONとみなす。
func (r *backendResponse) contentType() string {
	if ct := r.header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/json"
}

// call はバックエンドを1回呼び出し、レスポンスボディを読み切って返す。
// 呼び出しごとにプロキシタイムアウトを設定する。
func (s *Server) call(ctx context.Context, br backendRequest) (*backendResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProxyTimeout)
	defer cancel()

	target := *s.backend
	target.Path = s.backend.Path + br.path
	if br.rawPath != "" {
		target.RawPath = s.backend.Path + br.rawPath
	}
	target.RawQuery = br.rawQuery

	req, err := http.NewRequestWithContext(ctx, br.method, target.String(), br.body)
	if err != nil {
		return nil, fmt.Errorf("バックエンドリクエストの作成に失敗: %w", err)
	}
	if br.body != nil {
		req.ContentLength = br.contentLength
	}
	if br.header != nil {
		req.Header = br.header
	}
	// キャッシュを使わない
	req.Header.Set("Cache-Control", "no-store")

	start := time.Now()
	resp, err := s.client.Do(req)
	s.metrics.observeBackend(br.route, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("バックエンドとの通信に失敗: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("バックエンドレスポンスの読み取りに失敗: %w", err)
	}
	return &backendResponse{
		status:     resp.StatusCode,
		header:     resp.Header,
		body:       body,
		setCookies: cookie.SetCookies(resp.Header),
	}, nil
}

// forwardHeaders はクライアントのリクエストから転送するヘッダーを組み立てる。
// hop-by-hopヘッダーを除き、リクエストIDを付与する。
func forwardHeaders(c *gin.Context) http.Header {
	h := make(http.Header, len(c.Request.Header)+1)
	for k, vs := range c.Request.Header {
		if _, skip := hopByHopHeaders[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		h[k] = append([]string(nil), vs...)
	}
	if id := middleware.GetRequestID(c); id != "" {
		h.Set(middleware.HeaderRequestID, id)
	}
	return h
}

// pickHeaders はクライアントのリクエストから指定したヘッダーだけを取り出す。
func pickHeaders(c *gin.Context, names ...string) http.Header {
	h := make(http.Header, len(names)+1)
	for _, name := range names {
		if v := c.GetHeader(name); v != "" {
			h.Set(name, v)
		}
	}
	if id := middleware.GetRequestID(c); id != "" {
		h.Set(middleware.HeaderRequestID, id)
	}
	return h
}

// respond はステータスとボディを書き込み、メトリクスを記録する。
// 呼び出し前にSet-Cookieを含むヘッダーを設定しておくこと。
func (s *Server) respond(c *gin.Context, route string, status int, contentType string, body []byte) {
	s.metrics.observeResponse(route, status)
	c.Data(status, contentType, body)
}

// fail はGateway自身のエラーを内部の詳細を含めずに返す。
func (s *Server) fail(c *gin.Context, route string, status int, message string, err error) {
	s.logger.Error("バックエンド呼び出しに失敗しました",
		zap.String("route", route),
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.Error(err),
	)
	s.metrics.observeResponse(route, status)
	c.JSON(status, envelope.Error(message))
}
