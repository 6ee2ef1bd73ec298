package devbackend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	devdb "github.com/nao1215/sessiongate/internal/devbackend/db"
	"github.com/nao1215/sessiongate/pkg/middleware"
)

// バックエンドが発行するCookieの名前。
const (
	// CookieAccessToken はアクセストークン（JWT）のCookie。
	CookieAccessToken = "access_token"
	// CookieRefreshToken はリフレッシュトークンのCookie。
	CookieRefreshToken = "refresh_token"
	// CookieUser はフロントエンドが読むユーザー情報のCookie。httpOnlyではない。
	CookieUser = "user"
)

// userView はレスポンスとユーザーCookieに載せるユーザー情報。
type userView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Provider    string `json:"provider"`
}

func newUserView(u devdb.User) userView {
	return userView{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Provider:    u.Provider,
	}
}

// sessionTokens は発行したセッションのCookieの値。
type sessionTokens struct {
	// accessToken はアクセストークン（JWT）。
	accessToken string
	// refreshToken は保存済みのリフレッシュトークン。
	refreshToken string
	// user はユーザー情報をbase64urlエンコードしたJSON。
	user string
}

// newSession はアクセストークンとリフレッシュトークンを発行し、リフレッシュトークンを保存する。
// Cookieは設定しない。qにはトランザクション中ならそのQueriesを渡す。
func (s *Server) newSession(ctx context.Context, q *devdb.Queries, user devdb.User) (sessionTokens, error) {
	now := s.now()

	accessToken, err := middleware.GenerateJWT(s.cfg.JWTSecret, user.ID, user.Email, s.cfg.AccessTTL)
	if err != nil {
		return sessionTokens{}, fmt.Errorf("アクセストークンの発行に失敗: %w", err)
	}

	refreshToken := uuid.NewString()
	if err := q.CreateRefreshToken(ctx, devdb.CreateRefreshTokenParams{
		ID:        refreshToken,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.cfg.RefreshTTL).Unix(),
		CreatedAt: now.Unix(),
	}); err != nil {
		return sessionTokens{}, fmt.Errorf("リフレッシュトークンの保存に失敗: %w", err)
	}

	snapshot, err := json.Marshal(newUserView(user))
	if err != nil {
		return sessionTokens{}, fmt.Errorf("ユーザー情報のシリアライズに失敗: %w", err)
	}

	return sessionTokens{
		accessToken:  accessToken,
		refreshToken: refreshToken,
		user:         base64.RawURLEncoding.EncodeToString(snapshot),
	}, nil
}

// writeSession はセッションの3つのCookieを設定する。
func (s *Server) writeSession(c *gin.Context, tokens sessionTokens) {
	s.setCookie(c, CookieAccessToken, tokens.accessToken, int(s.cfg.AccessTTL.Seconds()), true)
	s.setCookie(c, CookieRefreshToken, tokens.refreshToken, int(s.cfg.RefreshTTL.Seconds()), true)
	s.setCookie(c, CookieUser, tokens.user, int(s.cfg.RefreshTTL.Seconds()), false)
}

// issueSession はトランザクションの外でセッションを発行し、Cookieを設定する。
func (s *Server) issueSession(c *gin.Context, user devdb.User) error {
	tokens, err := s.newSession(c.Request.Context(), s.queries, user)
	if err != nil {
		return err
	}
	s.writeSession(c, tokens)
	return nil
}

// clearSession は3つのCookieを削除するSet-Cookieを設定する。
func (s *Server) clearSession(c *gin.Context) {
	s.setCookie(c, CookieAccessToken, "", -1, true)
	s.setCookie(c, CookieRefreshToken, "", -1, true)
	s.setCookie(c, CookieUser, "", -1, false)
}

func (s *Server) setCookie(c *gin.Context, name, value string, maxAge int, httpOnly bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
