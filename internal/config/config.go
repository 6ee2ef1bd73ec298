// Package config はGatewayと開発用バックエンドの設定を読み込む。
//
// 既定値、YAMLファイル、環境変数の順に適用し、後のものが優先される。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath は設定ファイルのパスを指定する環境変数名。
const EnvConfigPath = "SESSIONGATE_CONFIG"

// ErrMissingBackendURL はバックエンドのURLが設定されていないことを表す。
var ErrMissingBackendURL = errors.New("バックエンドURLが設定されていません")

// Config はアプリケーション全体の設定。
type Config struct {
	// Log はログ出力の設定。
	Log LogConfig `yaml:"log"`
	// Gateway はSession Gatewayの設定。
	Gateway GatewayConfig `yaml:"gateway"`
	// DevBackend は開発用バックエンドの設定。
	DevBackend DevBackendConfig `yaml:"dev_backend"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	// Level はログレベル（debug, info, warn, error）。
	Level string `yaml:"level"`
}

// GatewayConfig はSession Gatewayの設定。
type GatewayConfig struct {
	// Port はリッスンポート。
	Port string `yaml:"port"`
	// BackendURL はプロキシ先バックエンドのオリジン（例: "https://api.example.com"）。
	BackendURL string `yaml:"backend_url"`
	// FrontendURL は開発時にCORSを許可するフロントエンドのオリジン。空ならCORSヘッダーを付与しない。
	FrontendURL string `yaml:"frontend_url"`
	// ProxyTimeout はバックエンド呼び出し1回あたりのタイムアウト。
	ProxyTimeout time.Duration `yaml:"proxy_timeout"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Paths はバックエンド側の認証エンドポイントのパス。
	Paths BackendPaths `yaml:"paths"`
}

// BackendPaths はバックエンド側の認証エンドポイントのパス。
type BackendPaths struct {
	// Refresh はトークンリフレッシュのパス。
	Refresh string `yaml:"refresh"`
	// Logout はログアウトのパス。
	Logout string `yaml:"logout"`
	// Me は現在のユーザーを返すパス。
	Me string `yaml:"me"`
	// OAuth はOAuth完了エンドポイントのプレフィックス。末尾にプロバイダ名を連結する。
	OAuth string `yaml:"oauth"`
}

// DevBackendConfig は開発用バックエンドの設定。
type DevBackendConfig struct {
	// Port はリッスンポート。
	Port string `yaml:"port"`
	// DSN はSQLiteのデータソース名。
	DSN string `yaml:"dsn"`
	// JWTSecret はアクセストークンの署名鍵。
	JWTSecret string `yaml:"jwt_secret"`
	// AccessTTL はアクセストークンの有効期間。
	AccessTTL time.Duration `yaml:"access_ttl"`
	// RefreshTTL はリフレッシュトークンの有効期間。
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	// SecureCookies はCookieにSecure属性を付けるかどうか。
	SecureCookies bool `yaml:"secure_cookies"`
}

// Default は既定値を設定したConfigを返す。
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Gateway: GatewayConfig{
			Port:            "8080",
			ProxyTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Paths: BackendPaths{
				Refresh: "/api/auth/refresh",
				Logout:  "/api/auth/logout",
				Me:      "/api/auth/me",
				OAuth:   "/api/auth/oauth/",
			},
		},
		DevBackend: DevBackendConfig{
			Port:       "8090",
			DSN:        "/data/devbackend.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
			JWTSecret:  "dev-secret-key",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
	}
}

// Load は設定を読み込む。pathが空ならYAMLファイルは読まない。
// pathのファイルが存在しない場合はエラーにせず既定値と環境変数だけを使う。
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate はGatewayの起動に必要な設定が揃っているかを検証する。
func (g GatewayConfig) Validate() error {
	if g.BackendURL == "" {
		return ErrMissingBackendURL
	}
	u, err := url.Parse(g.BackendURL)
	if err != nil {
		return fmt.Errorf("バックエンドURLの解析に失敗: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("バックエンドURLのスキームが不正です: %q", g.BackendURL)
	}
	if u.Host == "" {
		return fmt.Errorf("バックエンドURLにホストがありません: %q", g.BackendURL)
	}
	if g.ProxyTimeout <= 0 {
		return fmt.Errorf("プロキシタイムアウトは正の値が必要です: %s", g.ProxyTimeout)
	}
	return nil
}

func loadFromYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	overrideString("LOG_LEVEL", &cfg.Log.Level)

	overrideString("PORT", &cfg.Gateway.Port)
	overrideString("BACKEND_URL", &cfg.Gateway.BackendURL)
	overrideString("FRONTEND_URL", &cfg.Gateway.FrontendURL)
	if err := overrideDuration("PROXY_TIMEOUT", &cfg.Gateway.ProxyTimeout); err != nil {
		return err
	}
	if err := overrideDuration("SHUTDOWN_TIMEOUT", &cfg.Gateway.ShutdownTimeout); err != nil {
		return err
	}

	overrideString("DEVBACKEND_PORT", &cfg.DevBackend.Port)
	overrideString("DEVBACKEND_DSN", &cfg.DevBackend.DSN)
	overrideString("JWT_SECRET", &cfg.DevBackend.JWTSecret)
	if err := overrideDuration("ACCESS_TOKEN_TTL", &cfg.DevBackend.AccessTTL); err != nil {
		return err
	}
	if err := overrideDuration("REFRESH_TOKEN_TTL", &cfg.DevBackend.RefreshTTL); err != nil {
		return err
	}
	return overrideBool("COOKIE_SECURE", &cfg.DevBackend.SecureCookies)
}

func overrideString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("環境変数 %s の解析に失敗: %w", key, err)
	}
	*dst = d
	return nil
}

func overrideBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("環境変数 %s の解析に失敗: %w", key, err)
	}
	*dst = b
	return nil
}
