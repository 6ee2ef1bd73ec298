package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/sessiongate/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// testClient はテスト対象のクライアントと、セッション切れ通知の回数をまとめたもの。
type testClient struct {
	*Client
	notifier *session.ExpiryNotifier
	expired  *atomic.Int32
}

// newTestClient はテスト用サーバーに接続するクライアントを生成する。
// 通知先はテストごとに独立させ、ハンドラーの呼び出し回数を数える。
func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *testClient {
	t.Helper()

	n := session.NewExpiryNotifier()
	var expired atomic.Int32
	n.Register(func() { expired.Add(1) })

	opts = append([]Option{WithNotifier(n), WithRefreshTimeout(5 * time.Second)}, opts...)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return &testClient{Client: c, notifier: n, expired: &expired}
}

// setCookie はクライアントのCookie JarにCookieを入れる。
func setCookie(t *testing.T, c *Client, name, value string) {
	t.Helper()
	c.Jar().SetCookies(c.base, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

// TestNew はNew関数を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("相対URLはエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := New("/api")
		assert.Error(t, err)
	})

	t.Run("Jarのないクライアントを渡すとCookie Jarが割り当てられること", func(t *testing.T) {
		t.Parallel()

		hc := &http.Client{}
		c, err := New("http://localhost:8080/", WithHTTPClient(hc))
		require.NoError(t, err)
		assert.NotNil(t, c.Jar())
		// 渡したクライアント自体は変更しない
		assert.Nil(t, hc.Jar)
		assert.Equal(t, "http://localhost:8080", c.baseURL)
		assert.Equal(t, "/me", c.identityRoute)
	})
}

// TestClient_route はルート判定用のパス正規化を検証する。
func TestClient_route(t *testing.T) {
	t.Parallel()

	c, err := New("http://localhost:8080")
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "APIプレフィックスを除去すること", path: "/api/auth/login", want: "/auth/login"},
		{name: "クエリ文字列を除去すること", path: "/api/auth/login?next=%2F", want: "/auth/login"},
		{name: "フラグメントを除去すること", path: "/api/me#top", want: "/me"},
		{name: "ベースURLを除去すること", path: "http://localhost:8080/api/me", want: "/me"},
		{name: "プレフィックスだけなら/になること", path: "/api", want: "/"},
		{name: "プレフィックスの途中で切らないこと", path: "/apiary/items", want: "/apiary/items"},
		{name: "プレフィックスがなければそのままであること", path: "/health", want: "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, c.route(tt.path))
		})
	}
}

// TestClient_prepare は公開認証ルートの判定を検証する。
func TestClient_prepare(t *testing.T) {
	t.Parallel()

	c, err := New("http://localhost:8080")
	require.NoError(t, err)

	tests := []struct {
		name   string
		req    *Request
		exempt bool
	}{
		{name: "ログインは対象外", req: &Request{Path: "/api/auth/login"}, exempt: true},
		{name: "登録は対象外", req: &Request{Path: "/api/auth/register/"}, exempt: true},
		{name: "OAuthは対象外", req: &Request{Path: "/api/auth/oauth/google?code=x"}, exempt: true},
		{name: "パスワード再設定は対象外", req: &Request{Path: "/api/auth/forgot-password"}, exempt: true},
		{name: "リフレッシュ自体は対象外", req: &Request{Path: "/api/auth/refresh"}, exempt: true},
		{name: "プロバイダーのないOAuthは対象", req: &Request{Path: "/api/auth/oauth"}, exempt: false},
		{name: "ログアウトは対象", req: &Request{Path: "/api/auth/logout"}, exempt: false},
		{name: "保護されたリソースは対象", req: &Request{Path: "/api/dashboard"}, exempt: false},
		{name: "SkipAuthRefreshなら対象外", req: &Request{Path: "/api/dashboard", SkipAuthRefresh: true}, exempt: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.exempt, c.prepare(tt.req).exempt)
		})
	}
}

// TestClient_Do_ヘッダー は送信前に付与されるヘッダーを検証する。
func TestClient_Do_ヘッダー(t *testing.T) {
	t.Parallel()

	newEcho := func() *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"lang":"` + r.Header.Get("Accept-Language") +
				`","contentType":"` + r.Header.Get("Content-Type") +
				`","query":"` + r.URL.RawQuery + `"}`))
		}))
	}

	type echo struct {
		Lang        string `json:"lang"`
		ContentType string `json:"contentType"`
		Query       string `json:"query"`
	}

	t.Run("ロケールCookieがなければ既定の言語を送ること", func(t *testing.T) {
		t.Parallel()

		srv := newEcho()
		defer srv.Close()
		c := newTestClient(t, srv)

		var got echo
		require.NoError(t, c.GetJSON(context.Background(), "/api/echo", &got))
		assert.Equal(t, "ja", got.Lang)
	})

	t.Run("ロケールCookieの値をAccept-Languageに使うこと", func(t *testing.T) {
		t.Parallel()

		srv := newEcho()
		defer srv.Close()
		c := newTestClient(t, srv)
		setCookie(t, c.Client, "NEXT_LOCALE", "en")

		var got echo
		require.NoError(t, c.GetJSON(context.Background(), "/api/echo", &got))
		assert.Equal(t, "en", got.Lang)
	})

	t.Run("既定の言語を変更できること", func(t *testing.T) {
		t.Parallel()

		srv := newEcho()
		defer srv.Close()
		c := newTestClient(t, srv, WithDefaultLocale("fr"))

		var got echo
		require.NoError(t, c.GetJSON(context.Background(), "/api/echo", &got))
		assert.Equal(t, "fr", got.Lang)
	})

	t.Run("ボディがあればContent-Typeとクエリを付与すること", func(t *testing.T) {
		t.Parallel()

		srv := newEcho()
		defer srv.Close()
		c := newTestClient(t, srv)

		resp, err := c.Do(context.Background(), &Request{
			Method: http.MethodPost,
			Path:   "/api/echo?a=1",
			Query:  url.Values{"b": {"2"}},
			Body:   []byte(`{}`),
		})
		require.NoError(t, err)

		var got echo
		require.NoError(t, resp.Decode(&got))
		assert.Equal(t, "application/json", got.ContentType)
		assert.Equal(t, "a=1&b=2", got.Query)
	})
}

// TestClient_Do_ステータス はステータスコードの扱いを検証する。
func TestClient_Do_ステータス(t *testing.T) {
	t.Parallel()

	t.Run("エラーステータスはHTTPErrorになりmessageを取り出すこと", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"success":false,"message":"入力が不正です"}`))
		}))
		defer srv.Close()
		c := newTestClient(t, srv)

		_, err := c.Do(context.Background(), &Request{Method: http.MethodPost, Path: "/api/form", Body: []byte(`{}`)})
		require.Error(t, err)

		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusUnprocessableEntity, httpErr.StatusCode)
		assert.Equal(t, "入力が不正です", httpErr.Message)
		assert.Equal(t, http.StatusUnprocessableEntity, StatusCode(err))
	})

	t.Run("AcceptClientErrorsなら500未満はエラーにならないこと", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"success":false,"message":"入力が不正です"}`))
		}))
		defer srv.Close()
		c := newTestClient(t, srv)

		resp, err := c.Do(context.Background(), &Request{Path: "/api/form", AcceptClientErrors: true})
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("AcceptClientErrorsでも500以上はエラーになること", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		c := newTestClient(t, srv)

		_, err := c.Do(context.Background(), &Request{Path: "/api/form", AcceptClientErrors: true})
		assert.Equal(t, http.StatusBadGateway, StatusCode(err))
	})

	t.Run("通信エラーはHTTPErrorにならないこと", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.NotFoundHandler())
		c := newTestClient(t, srv)
		srv.Close()

		_, err := c.Do(context.Background(), &Request{Path: "/api/data"})
		require.Error(t, err)
		assert.Equal(t, 0, StatusCode(err))
		assert.Equal(t, int32(0), c.expired.Load())
	})
}

// authBackend は保護されたリソースとリフレッシュエンドポイントを持つテスト用バックエンド。
type authBackend struct {
	// refreshCalls はリフレッシュエンドポイントの呼び出し回数。
	refreshCalls atomic.Int32
	// resourceCalls は保護されたリソースの呼び出し回数。
	resourceCalls atomic.Int32
	// refresh はリフレッシュエンドポイントの振る舞い。
	refresh http.HandlerFunc
	// resource は保護されたリソースの振る舞い。
	resource http.HandlerFunc
}

func (b *authBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/auth/refresh":
		b.refreshCalls.Add(1)
		b.refresh(w, r)
	default:
		b.resourceCalls.Add(1)
		b.resource(w, r)
	}
}

// requireFreshCookie はaccess_token=freshのCookieがなければ401を返すハンドラー。
func requireFreshCookie(w http.ResponseWriter, r *http.Request) {
	ck, err := r.Cookie("access_token")
	if err != nil || ck.Value != "fresh" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"success":false,"message":"認証が必要です"}`))
		return
	}
	_, _ = w.Write([]byte(`{"success":true,"data":{"path":"` + r.URL.Path + `"}}`))
}

// refreshWithCookie はaccess_token=freshのCookieを設定して200を返すハンドラー。
func refreshWithCookie(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "fresh", Path: "/"})
	_, _ = w.Write([]byte(`{"success":true}`))
}

func unauthorized(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"message":"リフレッシュトークンが無効です"}`))
}

// TestClient_Do_リフレッシュ は401からの回復を検証する。
func TestClient_Do_リフレッシュ(t *testing.T) {
	t.Parallel()

	t.Run("リフレッシュ後に元のリクエストを再送して成功すること", func(t *testing.T) {
		t.Parallel()

		b := &authBackend{refresh: refreshWithCookie, resource: requireFreshCookie}
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)
		setCookie(t, c.Client, "access_token", "stale")

		var got struct {
			Path string `json:"path"`
		}
		require.NoError(t, c.GetJSON(context.Background(), "/api/dashboard", &got))
		assert.Equal(t, "/api/dashboard", got.Path)
		assert.Equal(t, int32(1), b.refreshCalls.Load())
		assert.Equal(t, int32(2), b.resourceCalls.Load())
		assert.Equal(t, int32(0), c.expired.Load())
	})

	t.Run("リフレッシュ応答のアクセストークンをBearerで再送すること", func(t *testing.T) {
		t.Parallel()

		b := &authBackend{
			refresh: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "no-store", r.Header.Get("Cache-Control"))
				_, _ = w.Write([]byte(`{"success":true,"data":{"accessToken":"tok-1"}}`))
			},
			resource: func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer tok-1" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				_, _ = w.Write([]byte(`{"data":{"ok":true}}`))
			},
		}
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)

		resp, err := c.Do(context.Background(), &Request{
			Method: http.MethodPost,
			Path:   "/api/items",
			Body:   []byte(`{"name":"x"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(1), b.refreshCalls.Load())
	})

	t.Run("リフレッシュが失敗するとセッション切れを通知しErrRefreshFailedを返すこと", func(t *testing.T) {
		t.Parallel()

		b := &authBackend{refresh: unauthorized, resource: requireFreshCookie}
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)

		_, err := c.Do(context.Background(), &Request{Path: "/api/dashboard"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRefreshFailed)
		assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
		assert.Equal(t, int32(1), b.resourceCalls.Load())
		assert.Equal(t, int32(1), c.expired.Load())

		// 2回目の失敗では通知しない
		_, err = c.Do(context.Background(), &Request{Path: "/api/dashboard"})
		require.ErrorIs(t, err, ErrRefreshFailed)
		assert.Equal(t, int32(2), b.refreshCalls.Load())
		assert.Equal(t, int32(1), c.expired.Load())
	})

	t.Run("リフレッシュの通信エラーもErrRefreshFailedとして扱うこと", func(t *testing.T) {
		t.Parallel()

		b := &authBackend{
			refresh: func(w http.ResponseWriter, _ *http.Request) {
				hj, ok := w.(http.Hijacker)
				if !ok {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				conn, _, err := hj.Hijack()
				if err == nil {
					_ = conn.Close()
				}
			},
			resource: requireFreshCookie,
		}
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)

		_, err := c.Do(context.Background(), &Request{Path: "/api/dashboard"})
		require.ErrorIs(t, err, ErrRefreshFailed)
		assert.Equal(t, 0, StatusCode(err))
		assert.Equal(t, int32(1), c.expired.Load())
	})

	t.Run("再送も401なら通知して諦めること", func(t *testing.T) {
		t.Parallel()

		b := &authBackend{refresh: refreshWithCookie, resource: unauthorized}
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)

		_, err := c.Do(context.Background(), &Request{Path: "/api/dashboard"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrRefreshFailed)
		assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
		assert.Equal(t, int32(1), b.refreshCalls.Load())
		assert.Equal(t, int32(2), b.resourceCalls.Load())
		assert.Equal(t, int32(1), c.expired.Load())
	})

	t.Run("本人確認の再送が401でも通知しないこと", func(t *testing.T) {
		t.Parallel()

		b := &authBackend{refresh: refreshWithCookie, resource: unauthorized}
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)

		var user map[string]any
		err := c.CurrentUser(context.Background(), &user)
		assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
		assert.Equal(t, int32(1), b.refreshCalls.Load())
		assert.Equal(t, int32(0), c.expired.Load())
	})

	t.Run("公開認証ルートの401ではリフレッシュしないこと", func(t *testing.T) {
		t.Parallel()

		b := &authBackend{refresh: refreshWithCookie, resource: unauthorized}
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)

		for _, p := range []string{"/api/auth/login", "/api/auth/register", "/api/auth/oauth/google"} {
			_, err := c.Do(context.Background(), &Request{Method: http.MethodPost, Path: p, Body: []byte(`{}`)})
			assert.Equal(t, http.StatusUnauthorized, StatusCode(err), p)
		}
		assert.Equal(t, int32(0), b.refreshCalls.Load())
		assert.Equal(t, int32(0), c.expired.Load())
	})

	t.Run("SkipAuthRefreshなら401をそのまま返すこと", func(t *testing.T) {
		t.Parallel()

		b := &authBackend{refresh: refreshWithCookie, resource: unauthorized}
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)

		_, err := c.Do(context.Background(), &Request{Path: "/api/dashboard", SkipAuthRefresh: true})
		assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
		assert.Equal(t, int32(0), b.refreshCalls.Load())
	})

	t.Run("401以外のエラーではリフレッシュしないこと", func(t *testing.T) {
		t.Parallel()

		b := &authBackend{
			refresh: refreshWithCookie,
			resource: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
		}
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)

		_, err := c.Do(context.Background(), &Request{Path: "/api/dashboard"})
		assert.Equal(t, http.StatusForbidden, StatusCode(err))
		assert.Equal(t, int32(0), b.refreshCalls.Load())
	})

	t.Run("ログインに成功するとセッション切れ通知がリセットされること", func(t *testing.T) {
		t.Parallel()

		b := &authBackend{
			refresh: unauthorized,
			resource: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/api/auth/login" {
					_, _ = w.Write([]byte(`{"success":true}`))
					return
				}
				unauthorized(w, r)
			},
		}
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)

		_, err := c.Do(context.Background(), &Request{Path: "/api/dashboard"})
		require.ErrorIs(t, err, ErrRefreshFailed)
		require.True(t, c.notifier.Notified())

		require.NoError(t, c.PostJSON(context.Background(), "/api/auth/login", map[string]string{"email": "a@example.com"}, nil))
		assert.False(t, c.notifier.Notified())

		_, err = c.Do(context.Background(), &Request{Path: "/api/dashboard"})
		require.ErrorIs(t, err, ErrRefreshFailed)
		assert.Equal(t, int32(2), c.expired.Load())
	})

	t.Run("ログインに失敗した場合はセッション切れ通知をリセットしないこと", func(t *testing.T) {
		t.Parallel()

		b := &authBackend{refresh: unauthorized, resource: unauthorized}
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)

		_, err := c.Do(context.Background(), &Request{Path: "/api/dashboard"})
		require.ErrorIs(t, err, ErrRefreshFailed)
		require.True(t, c.notifier.Notified())

		resp, err := c.Do(context.Background(), &Request{
			Method:             http.MethodPost,
			Path:               "/api/auth/login",
			Body:               []byte(`{"email":"a@example.com"}`),
			AcceptClientErrors: true,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.True(t, c.notifier.Notified())

		_, err = c.Do(context.Background(), &Request{Path: "/api/dashboard"})
		require.ErrorIs(t, err, ErrRefreshFailed)
		assert.Equal(t, int32(1), c.expired.Load())
	})
}

// stormBackend は最初のn件の古いCookieのリクエストを揃えてから一斉に401を返す。
// リフレッシュは残りのn-1件がキューに入るのを待ってから応答する。
func stormBackend(t *testing.T, c **Client, n int, refresh http.HandlerFunc) *authBackend {
	t.Helper()

	var (
		mu      sync.Mutex
		arrived int
		release = make(chan struct{})
	)
	return &authBackend{
		resource: func(w http.ResponseWriter, r *http.Request) {
			if ck, err := r.Cookie("access_token"); err == nil && ck.Value == "fresh" {
				_, _ = w.Write([]byte(`{"success":true,"data":{"path":"` + r.URL.Path + `"}}`))
				return
			}
			mu.Lock()
			arrived++
			if arrived == n {
				close(release)
			}
			mu.Unlock()
			<-release
			w.WriteHeader(http.StatusUnauthorized)
		},
		refresh: func(w http.ResponseWriter, r *http.Request) {
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				(*c).mu.Lock()
				queued := len((*c).pending)
				(*c).mu.Unlock()
				if queued == n-1 {
					break
				}
				time.Sleep(time.Millisecond)
			}
			refresh(w, r)
		},
	}
}

// TestClient_Do_同時401 は同時に401を受けたリクエストが1回のリフレッシュを共有することを検証する。
func TestClient_Do_同時401(t *testing.T) {
	t.Parallel()

	const n = 8

	t.Run("リフレッシュは1回だけで全リクエストが再送に成功すること", func(t *testing.T) {
		t.Parallel()

		var client *Client
		b := stormBackend(t, &client, n, refreshWithCookie)
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)
		client = c.Client
		setCookie(t, c.Client, "access_token", "stale")

		var g errgroup.Group
		for range n {
			g.Go(func() error {
				_, err := c.Do(context.Background(), &Request{Path: "/api/dashboard"})
				return err
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), b.refreshCalls.Load())
		assert.Equal(t, int32(2*n), b.resourceCalls.Load())
		assert.Equal(t, int32(0), c.expired.Load())
		assert.False(t, c.refreshing)
		assert.Empty(t, c.pending)
	})

	t.Run("リフレッシュが失敗すると全リクエストが失敗し通知は1回だけであること", func(t *testing.T) {
		t.Parallel()

		var client *Client
		b := stormBackend(t, &client, n, unauthorized)
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)
		client = c.Client

		var failed atomic.Int32
		var g errgroup.Group
		for range n {
			g.Go(func() error {
				_, err := c.Do(context.Background(), &Request{Path: "/api/dashboard"})
				if errors.Is(err, ErrRefreshFailed) {
					failed.Add(1)
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(n), failed.Load())
		assert.Equal(t, int32(1), b.refreshCalls.Load())
		assert.Equal(t, int32(n), b.resourceCalls.Load())
		assert.Equal(t, int32(1), c.expired.Load())
	})
}

// TestClient_await はキュー待ちの振る舞いを検証する。
func TestClient_await(t *testing.T) {
	t.Parallel()

	t.Run("待機中にコンテキストが終わるとその理由を返すこと", func(t *testing.T) {
		t.Parallel()

		b := &authBackend{refresh: refreshWithCookie, resource: unauthorized}
		srv := httptest.NewServer(b)
		defer srv.Close()
		c := newTestClient(t, srv)

		// 別のリフレッシュが実行中の状態を作る
		c.mu.Lock()
		c.refreshing = true
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_, err := c.Do(ctx, &Request{Path: "/api/dashboard"})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int32(0), b.refreshCalls.Load())

		c.mu.Lock()
		assert.Len(t, c.pending, 1)
		c.mu.Unlock()

		// 完了後の解放で放置された待機者がブロックしないこと
		c.settle(refreshOutcome{err: errRefreshAborted})
		assert.False(t, c.refreshing)
		assert.Empty(t, c.pending)
	})

	t.Run("リフレッシュが中断されても待機者は解放されること", func(t *testing.T) {
		t.Parallel()

		c, err := New("http://localhost:8080", WithNotifier(session.NewExpiryNotifier()))
		require.NoError(t, err)

		wait := make(chan refreshOutcome, 1)
		c.mu.Lock()
		c.refreshing = true
		c.pending = append(c.pending, wait)
		c.mu.Unlock()

		func() {
			defer func() { _ = recover() }()
			out := refreshOutcome{err: errRefreshAborted}
			defer func() { c.settle(out) }()
			panic("refresh panicked")
		}()

		out := <-wait
		assert.ErrorIs(t, out.err, errRefreshAborted)
		assert.False(t, c.refreshing)
	})
}

// TestResponse_Decode はエンベロープの展開を検証する。
func TestResponse_Decode(t *testing.T) {
	t.Parallel()

	type user struct {
		ID string `json:"id"`
	}

	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "dataフィールドを展開すること", body: `{"success":true,"data":{"id":"u1"}}`, want: "u1"},
		{name: "エンベロープでなければ全体を使うこと", body: `{"id":"u2"}`, want: "u2"},
		{name: "不正なJSONはエラーになること", body: `{"id":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got user
			err := (&Response{Body: []byte(tt.body)}).Decode(&got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

// TestAccessToken はリフレッシュ応答からのトークン抽出を検証する。
func TestAccessToken(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a", accessToken([]byte(`{"data":{"accessToken":"a"}}`)))
	assert.Equal(t, "b", accessToken([]byte(`{"accessToken":"b"}`)))
	assert.Equal(t, "c", accessToken([]byte(`{"access_token":"c"}`)))
	assert.Empty(t, accessToken([]byte(`{"success":true}`)))
	assert.Empty(t, accessToken([]byte(`{"accessToken":1}`)))
}
