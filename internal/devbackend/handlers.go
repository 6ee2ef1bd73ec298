package devbackend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	devdb "github.com/nao1215/sessiongate/internal/devbackend/db"
	"github.com/nao1215/sessiongate/pkg/envelope"
	"github.com/nao1215/sessiongate/pkg/middleware"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// providerPassword はメールアドレスとパスワードで登録したユーザーのプロバイダ名。
const providerPassword = "password"

var (
	// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しないことを表す。
	ErrInvalidCredentials = errors.New("メールアドレスまたはパスワードが正しくありません")
	// ErrInvalidRefreshToken はリフレッシュトークンが存在しない、失効済み、または期限切れであることを表す。
	ErrInvalidRefreshToken = errors.New("リフレッシュトークンが無効です")
)

// registerRequest はユーザー登録のリクエストボディ。
type registerRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"display_name"`
}

// loginRequest はログインのリクエストボディ。
type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// oauthRequest はOAuth完了のリクエストボディ。
type oauthRequest struct {
	Code string `json:"code" binding:"required"`
}

// forgotPasswordRequest はパスワード再設定メール送信のリクエストボディ。
type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// handleRegister はユーザーを登録してログイン状態にするハンドラを返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, envelope.Error("入力が不正です"))
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))
		ctx := c.Request.Context()

		if _, err := s.queries.GetUserByEmail(ctx, email); err == nil {
			c.JSON(http.StatusConflict, envelope.Error("このメールアドレスは既に登録されています"))
			return
		} else if !errors.Is(err, sql.ErrNoRows) {
			s.internalError(c, "ユーザー取得に失敗しました", err)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			s.internalError(c, "パスワードのハッシュ化に失敗しました", err)
			return
		}

		displayName := strings.TrimSpace(req.DisplayName)
		if displayName == "" {
			displayName, _, _ = strings.Cut(email, "@")
		}
		user := devdb.User{
			ID:             uuid.NewString(),
			Email:          email,
			PasswordHash:   string(hash),
			DisplayName:    displayName,
			Provider:       providerPassword,
			ProviderUserID: email,
		}
		if err := s.queries.CreateUser(ctx, devdb.CreateUserParams{
			ID:             user.ID,
			Email:          user.Email,
			PasswordHash:   user.PasswordHash,
			DisplayName:    user.DisplayName,
			Provider:       user.Provider,
			ProviderUserID: user.ProviderUserID,
			CreatedAt:      s.now().Unix(),
		}); err != nil {
			s.internalError(c, "ユーザー作成に失敗しました", err)
			return
		}

		if err := s.issueSession(c, user); err != nil {
			s.internalError(c, "セッションの発行に失敗しました", err)
			return
		}
		s.logger.Info("ユーザーを登録しました", zap.String("user_id", user.ID))
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": gin.H{"user": newUserView(user)}})
	}
}

// handleLogin はメールアドレスとパスワードでログインするハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, envelope.Error("入力が不正です"))
			return
		}
		ctx := c.Request.Context()

		user, err := s.authenticate(ctx, req.Email, req.Password)
		if errors.Is(err, ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, envelope.Error(err.Error()))
			return
		}
		if err != nil {
			s.internalError(c, "ログインに失敗しました", err)
			return
		}

		if err := s.queries.UpdateLastLogin(ctx, devdb.UpdateLastLoginParams{LastLoginAt: s.now().Unix(), ID: user.ID}); err != nil {
			s.logger.Warn("最終ログイン時刻の更新に失敗しました", zap.String("user_id", user.ID), zap.Error(err))
		}
		if err := s.issueSession(c, user); err != nil {
			s.internalError(c, "セッションの発行に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"user": newUserView(user)}})
	}
}

// authenticate はメールアドレスとパスワードを検証してユーザーを返す。
// ユーザーが存在しない場合もパスワード不一致と同じErrInvalidCredentialsを返す。
func (s *Server) authenticate(ctx context.Context, email, password string) (devdb.User, error) {
	user, err := s.queries.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return devdb.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return devdb.User{}, fmt.Errorf("ユーザー取得に失敗: %w", err)
	}
	if user.Provider != providerPassword || user.PasswordHash == "" {
		return devdb.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return devdb.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// handleRefresh はリフレッシュトークンをローテーションして新しいセッションを発行するハンドラを返す。
// 使用済みのリフレッシュトークンは失効させ、同じトークンでの再リフレッシュは401にする。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(CookieRefreshToken)
		if err != nil || token == "" {
			s.clearSession(c)
			c.JSON(http.StatusUnauthorized, envelope.Error(ErrInvalidRefreshToken.Error()))
			return
		}

		tokens, err := s.rotate(c.Request.Context(), token)
		if errors.Is(err, ErrInvalidRefreshToken) {
			s.clearSession(c)
			c.JSON(http.StatusUnauthorized, envelope.Error(err.Error()))
			return
		}
		if err != nil {
			s.internalError(c, "トークンのリフレッシュに失敗しました", err)
			return
		}
		s.writeSession(c, tokens)
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"accessToken": tokens.accessToken}})
	}
}

// rotate はトランザクション内でリフレッシュトークンを失効させ、新しいセッションを発行する。
// Cookieはコミット後に呼び出し側で設定する。
func (s *Server) rotate(ctx context.Context, token string) (sessionTokens, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sessionTokens{}, fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := s.queries.WithTx(tx)

	stored, err := q.GetRefreshToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return sessionTokens{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return sessionTokens{}, fmt.Errorf("リフレッシュトークンの取得に失敗: %w", err)
	}
	if stored.RevokedAt.Valid || stored.ExpiresAt <= now.Unix() {
		return sessionTokens{}, ErrInvalidRefreshToken
	}

	revoked, err := q.RevokeRefreshToken(ctx, devdb.RevokeRefreshTokenParams{RevokedAt: now.Unix(), ID: token})
	if err != nil {
		return sessionTokens{}, fmt.Errorf("リフレッシュトークンの失効に失敗: %w", err)
	}
	if revoked == 0 {
		return sessionTokens{}, ErrInvalidRefreshToken
	}

	user, err := q.GetUserByID(ctx, stored.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return sessionTokens{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return sessionTokens{}, fmt.Errorf("ユーザー取得に失敗: %w", err)
	}

	tokens, err := s.newSession(ctx, q, user)
	if err != nil {
		return sessionTokens{}, err
	}
	if err := tx.Commit(); err != nil {
		return sessionTokens{}, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return tokens, nil
}

// handleLogout はリフレッシュトークンを失効させ、Cookieを削除するハンドラを返す。
// Cookieがなくても成功として扱う。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, err := c.Cookie(CookieRefreshToken); err == nil && token != "" {
			if _, err := s.queries.RevokeRefreshToken(c.Request.Context(), devdb.RevokeRefreshTokenParams{
				RevokedAt: s.now().Unix(),
				ID:        token,
			}); err != nil {
				s.logger.Warn("ログアウト時のリフレッシュトークン失効に失敗しました", zap.Error(err))
			}
		}
		s.clearSession(c)
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "ログアウトしました"})
	}
}

// handleMe はアクセストークンのユーザーを返すハンドラを返す。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.queries.GetUserByID(c.Request.Context(), middleware.GetUserID(c))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, envelope.Error("ユーザーが見つかりません"))
			return
		}
		if err != nil {
			s.internalError(c, "ユーザー取得に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": newUserView(user)})
	}
}

// handleOAuth は開発用のOAuth完了ハンドラを返す。
// 外部のプロバイダには問い合わせず、(provider, code) をプロバイダ側のユーザーIDとみなす。
func (s *Server) handleOAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := strings.ToLower(c.Param("provider"))
		if provider == "" || provider == providerPassword {
			c.JSON(http.StatusBadRequest, envelope.Error("プロバイダが不正です"))
			return
		}
		var req oauthRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, envelope.Error("認可コードがありません"))
			return
		}
		ctx := c.Request.Context()

		user, err := s.queries.GetUserByProvider(ctx, devdb.GetUserByProviderParams{
			Provider:       provider,
			ProviderUserID: req.Code,
		})
		switch {
		case errors.Is(err, sql.ErrNoRows):
			user = devdb.User{
				ID:             uuid.NewString(),
				Email:          fmt.Sprintf("%s@%s.oauth.localhost", req.Code, provider),
				DisplayName:    provider + "ユーザー",
				Provider:       provider,
				ProviderUserID: req.Code,
			}
			if err := s.queries.CreateUser(ctx, devdb.CreateUserParams{
				ID:             user.ID,
				Email:          user.Email,
				DisplayName:    user.DisplayName,
				Provider:       user.Provider,
				ProviderUserID: user.ProviderUserID,
				CreatedAt:      s.now().Unix(),
			}); err != nil {
				s.internalError(c, "ユーザー作成に失敗しました", err)
				return
			}
		case err != nil:
			s.internalError(c, "ユーザー取得に失敗しました", err)
			return
		default:
			if err := s.queries.UpdateLastLogin(ctx, devdb.UpdateLastLoginParams{LastLoginAt: s.now().Unix(), ID: user.ID}); err != nil {
				s.logger.Warn("最終ログイン時刻の更新に失敗しました", zap.String("user_id", user.ID), zap.Error(err))
			}
		}

		if err := s.issueSession(c, user); err != nil {
			s.internalError(c, "セッションの発行に失敗しました", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"user": newUserView(user)}})
	}
}

// handleForgotPassword はパスワード再設定メールの送信を受け付けるハンドラを返す。
// アカウントの有無を推測されないよう、形式が正しければ常に200を返す。
func (s *Server) handleForgotPassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req forgotPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, envelope.Error("メールアドレスの形式が正しくありません"))
			return
		}
		s.logger.Info("パスワード再設定を受け付けました", zap.String("request_id", middleware.GetRequestID(c)))
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "パスワード再設定の案内を送信しました"})
	}
}

// internalError は内部エラーをログに記録し、500を返す。
func (s *Server) internalError(c *gin.Context, message string, err error) {
	s.logger.Error(message, zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
	c.JSON(http.StatusInternalServerError, envelope.Error(message))
}
