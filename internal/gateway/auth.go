package gateway

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/sessiongate/pkg/cookie"
	"github.com/nao1215/sessiongate/pkg/envelope"
	"go.uber.org/zap"
)

// genericError はバックエンドとの通信に失敗したときに返す固定メッセージ。内部の詳細は含めない。
const genericError = "サーバーとの通信中にエラーが発生しました"

// handleRefresh はトークンリフレッシュをバックエンドへ転送するハンドラを返す。
// レスポンスのボディとContent-Typeはそのまま返し、Set-Cookieを付け直す。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := s.call(c.Request.Context(), backendRequest{
			route:  routeRefresh,
			method: http.MethodPost,
			path:   s.cfg.Paths.Refresh,
			header: pickHeaders(c, "Cookie", "Accept-Language"),
		})
		if err != nil {
			s.fail(c, routeRefresh, http.StatusInternalServerError, genericError, err)
			return
		}

		cookie.Relay(c.Writer.Header(), resp.setCookies)
		s.respond(c, routeRefresh, resp.status, resp.contentType(), resp.body)
	}
}

// handleLogout はログアウトをバックエンドへ転送するハンドラを返す。
// ボディは返さず、ステータスとCookieを削除するSet-Cookieだけを返す。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := s.call(c.Request.Context(), backendRequest{
			route:  routeLogout,
			method: http.MethodPost,
			path:   s.cfg.Paths.Logout,
			header: pickHeaders(c, "Cookie", "Accept-Language"),
		})
		if err != nil {
			s.fail(c, routeLogout, http.StatusInternalServerError, genericError, err)
			return
		}

		cookie.Relay(c.Writer.Header(), resp.setCookies)
		s.metrics.observeResponse(routeLogout, resp.status)
		c.Status(resp.status)
	}
}

// handleMe は現在のユーザーを返すハンドラを返す。
// バックエンドが401/403を返した場合は呼び出し元のCookieでリフレッシュし、
// 成功すれば新しいCookieをマージして1回だけ再試行する。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		original := c.GetHeader("Cookie")

		me := func(cookieHeader string) (*backendResponse, error) {
			h := pickHeaders(c, "Accept-Language")
			if cookieHeader != "" {
				h.Set("Cookie", cookieHeader)
			}
			return s.call(ctx, backendRequest{
				route:  routeMe,
				method: http.MethodGet,
				path:   s.cfg.Paths.Me,
				header: h,
			})
		}

		first, err := me(original)
		if err != nil {
			s.fail(c, routeMe, http.StatusInternalServerError, genericError, err)
			return
		}
		if !isAuthFailure(first.status) {
			s.writeIdentity(c, first, first.setCookies)
			return
		}

		refresh, err := s.call(ctx, backendRequest{
			route:  routeRefresh,
			method: http.MethodPost,
			path:   s.cfg.Paths.Refresh,
			header: pickHeaders(c, "Cookie", "Accept-Language"),
		})
		if err != nil {
			s.fail(c, routeMe, http.StatusInternalServerError, genericError, err)
			return
		}
		if !refresh.ok() {
			s.metrics.observeRecovery(recoveryRefreshFailed)
			s.logger.Info("リフレッシュに失敗したため未認証として返します", zap.Int("refresh_status", refresh.status))
			cookie.Relay(c.Writer.Header(), refresh.setCookies)
			s.respond(c, routeMe, http.StatusUnauthorized, refresh.contentType(), refresh.body)
			return
		}

		retry, err := me(cookie.Merge(original, refresh.setCookies))
		if err != nil {
			s.fail(c, routeMe, http.StatusInternalServerError, genericError, err)
			return
		}
		if retry.ok() {
			s.metrics.observeRecovery(recoveryRecovered)
		} else {
			s.metrics.observeRecovery(recoveryRetryFailed)
		}
		s.writeIdentity(c, retry, refresh.setCookies, retry.setCookies)
	}
}

// writeIdentity は現在のユーザー取得の結果を返す。
// 成功時はエンベロープを外したユーザーを、失敗時はバックエンドのボディをそのまま返す。
func (s *Server) writeIdentity(c *gin.Context, resp *backendResponse, setCookies ...[]string) {
	cookie.Relay(c.Writer.Header(), setCookies...)
	if resp.ok() {
		s.respond(c, routeMe, resp.status, "application/json; charset=utf-8", envelope.Unwrap(resp.body))
		return
	}
	s.respond(c, routeMe, resp.status, resp.contentType(), resp.body)
}

// handleOAuth はOAuthの完了処理をバックエンドのプロバイダ別エンドポイントへ転送するハンドラを返す。
// プロバイダが指定されていなければバックエンドを呼ばずに400を返す。
func (s *Server) handleOAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := strings.TrimSpace(c.Param("provider"))
		if provider == "" {
			s.metrics.observeResponse(routeOAuth, http.StatusBadRequest)
			c.JSON(http.StatusBadRequest, envelope.Error("プロバイダが指定されていません"))
			return
		}

		body, err := c.GetRawData()
		if err != nil {
			s.fail(c, routeOAuth, http.StatusInternalServerError, genericError, err)
			return
		}

		resp, err := s.call(c.Request.Context(), backendRequest{
			route:         routeOAuth,
			method:        http.MethodPost,
			path:          s.cfg.Paths.OAuth + provider,
			rawPath:       s.cfg.Paths.OAuth + url.PathEscape(provider),
			header:        pickHeaders(c, "Content-Type", "Accept-Language", "Cookie"),
			body:          bytes.NewReader(body),
			contentLength: int64(len(body)),
		})
		if err != nil {
			s.fail(c, routeOAuth, http.StatusInternalServerError, genericError, err)
			return
		}

		cookie.Relay(c.Writer.Header(), resp.setCookies)
		s.respond(c, routeOAuth, resp.status, resp.contentType(), resp.body)
	}
}

// isAuthFailure は再試行の対象となる認証エラーかどうかを返す。
func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
