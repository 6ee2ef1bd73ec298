package db

import "database/sql"

// User はusersテーブルの行。時刻はUnix秒。
type User struct {
	ID             string
	Email          string
	PasswordHash   string
	DisplayName    string
	Provider       string
	ProviderUserID string
	CreatedAt      int64
	LastLoginAt    int64
}

// RefreshToken はrefresh_tokensテーブルの行。時刻はUnix秒。
type RefreshToken struct {
	ID        string
	UserID    string
	ExpiresAt int64
	RevokedAt sql.NullInt64
	CreatedAt int64
}
