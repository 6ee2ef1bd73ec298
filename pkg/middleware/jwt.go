package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// jwtIssuer はアクセストークンの発行者。
const jwtIssuer = "sessiongate-devbackend"

// ErrMissingToken はリクエストにアクセストークンが含まれていないことを表す。
var ErrMissingToken = errors.New("アクセストークンがありません")

// JWTClaims はアクセストークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
}

// Ginコンテキストのキー。
const (
	ctxKeyUserID = "user_id"
	ctxKeyEmail  = "email"
)

// GenerateJWT はユーザー情報から有効期間ttlのアクセストークンを生成する。
func GenerateJWT(secret, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    jwtIssuer,
		},
		UserID: userID,
		Email:  email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はアクセストークンを検証してクレームを返す。
// 署名アルゴリズムはHS256のみ受け付ける。
func ParseJWT(secret, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(jwtIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("JWTトークンの検証に失敗: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("JWTトークンが無効です")
	}
	return claims, nil
}

// tokensFromRequest はcookieNameのCookieとBearerヘッダーからトークンの候補を取り出す。
// Cookieの候補を先に返す。
func tokensFromRequest(c *gin.Context, cookieName string) ([]string, error) {
	var tokens []string
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil && v != "" {
			tokens = append(tokens, v)
		}
	}

	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			if len(tokens) == 0 {
				return nil, errors.New("Bearer トークン形式が不正です")
			}
		} else {
			tokens = append(tokens, tokenString)
		}
	}

	if len(tokens) == 0 {
		return nil, ErrMissingToken
	}
	return tokens, nil
}

// JWTAuth はアクセストークンを検証するGinミドルウェアを返す。
// トークンはcookieNameのCookieを優先し、それが無効なら Authorization: Bearer を検証する。
// 検証に成功した場合、コンテキストに "user_id" と "email" を設定する。
func JWTAuth(secret, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokens, err := tokensFromRequest(c, cookieName)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": err.Error(),
			})
			return
		}

		for _, tokenString := range tokens {
			claims, err := ParseJWT(secret, tokenString)
			if err != nil {
				continue
			}
			c.Set(ctxKeyUserID, claims.UserID)
			c.Set(ctxKeyEmail, claims.Email)
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"message": "トークンが無効です",
		})
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	return c.GetString(ctxKeyUserID)
}

// GetEmail はGinコンテキストからメールアドレスを取得する。
func GetEmail(c *gin.Context) string {
	return c.GetString(ctxKeyEmail)
}
