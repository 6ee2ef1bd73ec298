package db

import (
	"context"
)

const createUser = `INSERT INTO users (
    id, email, password_hash, display_name, provider, provider_user_id, created_at, last_login_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// CreateUserParams はCreateUserの引数。
type CreateUserParams struct {
	ID             string
	Email          string
	PasswordHash   string
	DisplayName    string
	Provider       string
	ProviderUserID string
	CreatedAt      int64
}

// CreateUser はユーザーを作成する。
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.ExecContext(ctx, createUser,
		arg.ID,
		arg.Email,
		arg.PasswordHash,
		arg.DisplayName,
		arg.Provider,
		arg.ProviderUserID,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return err
}

const userColumns = `id, email, password_hash, display_name, provider, provider_user_id, created_at, last_login_at`

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = ?`

// GetUserByID はIDでユーザーを取得する。
func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByID, id)
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.PasswordHash,
		&i.DisplayName,
		&i.Provider,
		&i.ProviderUserID,
		&i.CreatedAt,
		&i.LastLoginAt,
	)
	return i, err
}

const getUserByEmail = `SELECT ` + userColumns + ` FROM users WHERE email = ?`

// GetUserByEmail はメールアドレスでユーザーを取得する。
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByEmail, email)
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.PasswordHash,
		&i.DisplayName,
		&i.Provider,
		&i.ProviderUserID,
		&i.CreatedAt,
		&i.LastLoginAt,
	)
	return i, err
}

const getUserByProvider = `SELECT ` + userColumns + ` FROM users WHERE provider = ? AND provider_user_id = ?`

// GetUserByProviderParams はGetUserByProviderの引数。
type GetUserByProviderParams struct {
	Provider       string
	ProviderUserID string
}

// GetUserByProvider はプロバイダとプロバイダ側のIDでユーザーを取得する。
func (q *Queries) GetUserByProvider(ctx context.Context, arg GetUserByProviderParams) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByProvider, arg.Provider, arg.ProviderUserID)
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.PasswordHash,
		&i.DisplayName,
		&i.Provider,
		&i.ProviderUserID,
		&i.CreatedAt,
		&i.LastLoginAt,
	)
	return i, err
}

const updateLastLogin = `UPDATE users SET last_login_at = ? WHERE id = ?`

// UpdateLastLoginParams はUpdateLastLoginの引数。
type UpdateLastLoginParams struct {
	LastLoginAt int64
	ID          string
}

// UpdateLastLogin は最終ログイン時刻を更新する。
func (q *Queries) UpdateLastLogin(ctx context.Context, arg UpdateLastLoginParams) error {
	_, err := q.db.ExecContext(ctx, updateLastLogin, arg.LastLoginAt, arg.ID)
	return err
}

const createRefreshToken = `INSERT INTO refresh_tokens (id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`

// CreateRefreshTokenParams はCreateRefreshTokenの引数。
type CreateRefreshTokenParams struct {
	ID        string
	UserID    string
	ExpiresAt int64
	CreatedAt int64
}

// CreateRefreshToken はリフレッシュトークンを保存する。
func (q *Queries) CreateRefreshToken(ctx context.Context, arg CreateRefreshTokenParams) error {
	_, err := q.db.ExecContext(ctx, createRefreshToken, arg.ID, arg.UserID, arg.ExpiresAt, arg.CreatedAt)
	return err
}

const getRefreshToken = `SELECT id, user_id, expires_at, revoked_at, created_at FROM refresh_tokens WHERE id = ?`

// GetRefreshToken はリフレッシュトークンを取得する。
func (q *Queries) GetRefreshToken(ctx context.Context, id string) (RefreshToken, error) {
	row := q.db.QueryRowContext(ctx, getRefreshToken, id)
	var i RefreshToken
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.ExpiresAt,
		&i.RevokedAt,
		&i.CreatedAt,
	)
	return i, err
}

const revokeRefreshToken = `UPDATE refresh_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`

// RevokeRefreshTokenParams はRevokeRefreshTokenの引数。
type RevokeRefreshTokenParams struct {
	RevokedAt int64
	ID        string
}

// RevokeRefreshToken はリフレッシュトークンを失効させ、更新した行数を返す。
// 既に失効済みなら0を返す。
func (q *Queries) RevokeRefreshToken(ctx context.Context, arg RevokeRefreshTokenParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, revokeRefreshToken, arg.RevokedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
