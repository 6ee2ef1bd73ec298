package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/sessiongate/pkg/cookie"
	"github.com/nao1215/sessiongate/pkg/session"
	"go.uber.org/zap"
)

// 既定値。
const (
	defaultTimeout        = 30 * time.Second
	defaultRefreshTimeout = 10 * time.Second
	defaultLocale         = "ja"
	defaultRefreshPath    = "/api/auth/refresh"
	defaultIdentityPath   = "/api/me"
)

// defaultAPIPrefixes はルート判定の前に取り除くAPIプレフィックス。
var defaultAPIPrefixes = []string{"/api"}

// publicRoutes はリフレッシュ処理の対象外とする公開認証ルート（プレフィックス除去後のパス）。
// リフレッシュ自体が401を返したときに再帰しないよう、リフレッシュのパスも含める。
var publicRoutes = []*regexp.Regexp{
	regexp.MustCompile(`^/auth/login/?$`),
	regexp.MustCompile(`^/auth/register/?$`),
	regexp.MustCompile(`^/auth/oauth/[^/]+/?$`),
	regexp.MustCompile(`^/auth/forgot-password/?$`),
	regexp.MustCompile(`^/auth/reset-password/?$`),
	regexp.MustCompile(`^/auth/refresh/?$`),
}

// sessionRoutes は成功するとセッションが確立される公開認証ルート。
// 成功時にセッション切れ通知の状態をリセットする。
var sessionRoutes = []*regexp.Regexp{
	regexp.MustCompile(`^/auth/login/?$`),
	regexp.MustCompile(`^/auth/register/?$`),
	regexp.MustCompile(`^/auth/oauth/[^/]+/?$`),
}

// Client はSession Gatewayへ認証付きリクエストを送るHTTPクライアント。
// Cookie Jarをブラウザのように扱い、Gatewayが返したCookieを以降のリクエストへ自動で付与する。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先GatewayのベースURL。
	baseURL string
	// base はCookie Jarの参照に使う解析済みのベースURL。
	base *url.URL
	// apiPrefixes はルート判定の前に取り除くパスのプレフィックス。
	apiPrefixes []string
	// defaultLocale はロケールCookieがないときのAccept-Language。
	defaultLocale string
	// refreshPath はトークンリフレッシュのエンドポイント。
	refreshPath string
	// identityRoute は現在のユーザーを確認するルート（プレフィックス除去後）。
	identityRoute string
	// refreshTimeout はリフレッシュ呼び出しのタイムアウト。
	refreshTimeout time.Duration
	// notifier はセッション切れの通知先。
	notifier *session.ExpiryNotifier
	// logger はロガー。
	logger *zap.Logger

	// mu はrefreshingとpendingを保護する。
	mu sync.Mutex
	// refreshing はリフレッシュ呼び出しが実行中かどうか。
	refreshing bool
	// pending はリフレッシュ完了を待つリクエストの到着順のキュー。
	pending []chan refreshOutcome
}

// Option はClientの設定を変更する関数。
type Option func(*Client)

// WithHTTPClient は内部で使用するHTTPクライアントを差し替える。
// hcはコピーして使う。Jarがnilの場合はコピーにだけCookie Jarを割り当て、hc自体は変更しない。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		copied := *hc
		c.httpClient = &copied
	}
}

// WithNotifier はセッション切れの通知先を指定する。既定はsession.Default()。
func WithNotifier(n *session.ExpiryNotifier) Option {
	return func(c *Client) {
		c.notifier = n
	}
}

// WithLogger はロガーを指定する。
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithDefaultLocale はロケールCookieがないときに使う言語を指定する。
func WithDefaultLocale(locale string) Option {
	return func(c *Client) {
		c.defaultLocale = locale
	}
}

// WithRefreshTimeout はリフレッシュ呼び出しのタイムアウトを指定する。
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.refreshTimeout = d
	}
}

// WithAPIPrefixes はルート判定の前に取り除くプレフィックスを指定する。
func WithAPIPrefixes(prefixes ...string) Option {
	return func(c *Client) {
		c.apiPrefixes = prefixes
	}
}

// New は新しいクライアントを生成する。
// baseURLにはGatewayのオリジン（例: "https://app.example.com"）を指定する。
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ベースURLの解析に失敗: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("ベースURLは絶対URLである必要があります: %q", baseURL)
	}

	c := &Client{
		httpClient:     &http.Client{Timeout: defaultTimeout},
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		base:           base,
		apiPrefixes:    defaultAPIPrefixes,
		defaultLocale:  defaultLocale,
		refreshPath:    defaultRefreshPath,
		refreshTimeout: defaultRefreshTimeout,
		notifier:       session.Default(),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("Cookie Jarの生成に失敗: %w", err)
		}
		c.httpClient.Jar = jar
	}
	c.identityRoute = c.route(defaultIdentityPath)
	return c, nil
}

// Jar はクライアントのCookie Jarを返す。
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

// call は送信中のリクエストと、その判定結果・リトライ状態。
type call struct {
	req *Request
	// route はプレフィックスを除去した判定用のパス。
	route string
	// exempt はリフレッシュ処理の対象外かどうか。
	exempt bool
	// retried は既にリフレッシュ後の再送を行ったかどうか。
	retried bool
	// bearer は再送時に付与するアクセストークン。
	bearer string
}

// Do はリクエストを送信する。保護されたリソースが401を返した場合は
// リフレッシュと再送を試み、回復できなかった場合だけエラーを返す。
func (c *Client) Do(ctx context.Context, r *Request) (*Response, error) {
	cl := c.prepare(r)

	resp, err := c.send(ctx, cl)
	if err != nil {
		return c.recoverUnauthorized(ctx, cl, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && matchAny(sessionRoutes, cl.route) {
		c.notifier.Reset()
	}
	return resp, nil
}

// prepare はリクエストをルート判定し、リフレッシュ対象外かどうかを決める。
func (c *Client) prepare(r *Request) *call {
	route := c.route(r.Path)
	return &call{
		req:    r,
		route:  route,
		exempt: r.SkipAuthRefresh || matchAny(publicRoutes, route),
	}
}

// route はパスからベースURLとAPIプレフィックス、クエリ文字列を取り除いた判定用のパスを返す。
func (c *Client) route(p string) string {
	p = strings.TrimPrefix(p, c.baseURL)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	for _, prefix := range c.apiPrefixes {
		if p == prefix {
			return "/"
		}
		if rest, ok := strings.CutPrefix(p, prefix+"/"); ok {
			return "/" + rest
		}
	}
	return p
}

// locale はCookie JarのロケールCookieを返す。なければ既定のロケールを返す。
func (c *Client) locale() string {
	for _, ck := range c.httpClient.Jar.Cookies(c.base) {
		if ck.Name == cookie.LocaleCookie && ck.Value != "" {
			return ck.Value
		}
	}
	return c.defaultLocale
}

// send はリクエストを1回だけ送信する。2xx（AcceptClientErrorsなら500未満）以外は*HTTPErrorを返す。
func (c *Client) send(ctx context.Context, cl *call) (*Response, error) {
	r := cl.req
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	target := c.baseURL + r.Path
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.Query.Encode()
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept-Language", c.locale())
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if len(r.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+cl.bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if r.AcceptClientErrors {
		ok = resp.StatusCode < 500
	}
	if !ok {
		return nil, newHTTPError(method, r.Path, resp.StatusCode, respBody)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// GetJSON は指定パスにGETリクエストを送信し、レスポンスをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// PutJSON は指定パスにJSONボディでPUTリクエストを送信する。
func (c *Client) PutJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPut, path, body, result)
}

// DeleteJSON は指定パスにDELETEリクエストを送信する。
func (c *Client) DeleteJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, result)
}

// CurrentUser はGatewayに現在のユーザーを問い合わせ、resultにデシリアライズする。
func (c *Client) CurrentUser(ctx context.Context, result any) error {
	return c.GetJSON(ctx, defaultIdentityPath, result)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	req := &Request{Method: method, Path: path}
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		req.Body = jsonBody
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if result == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.Decode(result)
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
