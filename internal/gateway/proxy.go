package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/sessiongate/pkg/cookie"
	"github.com/nao1215/sessiongate/pkg/envelope"
)

// apiPrefix は汎用プロキシの対象とするパスのプレフィックス。
const apiPrefix = "/api/"

// handleProxy は専用ハンドラのない /api 配下のリクエストをバックエンドの同じパスへ転送するハンドラを返す。
// ステータス、ヘッダー、ボディはそのまま返し、Set-Cookieは1件ずつ付け直す。
func (s *Server) handleProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.HasPrefix(c.Request.URL.Path, apiPrefix) {
			c.JSON(http.StatusNotFound, envelope.Error("見つかりません"))
			return
		}

		br := backendRequest{
			route:         routeProxy,
			method:        c.Request.Method,
			path:          c.Request.URL.Path,
			rawPath:       c.Request.URL.RawPath,
			rawQuery:      c.Request.URL.RawQuery,
			header:        forwardHeaders(c),
			contentLength: c.Request.ContentLength,
		}
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			br.body = c.Request.Body
		}

		resp, err := s.call(c.Request.Context(), br)
		if err != nil {
			s.fail(c, routeProxy, http.StatusBadGateway, "バックエンドとの通信に失敗しました", err)
			return
		}

		dst := c.Writer.Header()
		for k, vs := range resp.header {
			if _, skip := hopByHopHeaders[k]; skip {
				continue
			}
			switch k {
			case "Set-Cookie", "Content-Length":
				continue
			}
			dst[k] = append([]string(nil), vs...)
		}
		cookie.Relay(dst, resp.setCookies)

		s.metrics.observeResponse(routeProxy, resp.status)
		c.Status(resp.status)
		if len(resp.body) > 0 && c.Request.Method != http.MethodHead {
			_, _ = c.Writer.Write(resp.body)
		}
	}
}
