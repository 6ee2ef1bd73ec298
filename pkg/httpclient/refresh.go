package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// refreshOutcome はリフレッシュ1回分の結果。待機中のリクエストすべてに同じ値が配られる。
type refreshOutcome struct {
	// token はリフレッシュ応答に含まれていたアクセストークン。なければ空。
	token string
	// err はリフレッシュの失敗理由。成功ならnil。
	err error
}

// recoverUnauthorized は送信エラーから回復を試みる。
// 対象外のリクエスト、401以外、再送済みのリクエストはリフレッシュせずにエラーを返す。
func (c *Client) recoverUnauthorized(ctx context.Context, cl *call, err error) (*Response, error) {
	var httpErr *HTTPError
	if cl.exempt || !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		return nil, err
	}

	if cl.retried {
		// 本人確認の401はGateway側の回復処理の結果なので通知しない
		if cl.route != c.identityRoute {
			c.expire(err)
		}
		return nil, err
	}

	c.mu.Lock()
	if c.refreshing {
		wait := make(chan refreshOutcome, 1)
		c.pending = append(c.pending, wait)
		c.mu.Unlock()
		return c.await(ctx, cl, wait)
	}
	c.refreshing = true
	c.mu.Unlock()

	cl.retried = true
	out := c.refresh(ctx)
	if out.err != nil {
		c.expire(out.err)
		return nil, out.err
	}
	return c.replay(ctx, cl, out)
}

// await は実行中のリフレッシュの完了を待ち、成功すればリクエストを再送する。
func (c *Client) await(ctx context.Context, cl *call, wait <-chan refreshOutcome) (*Response, error) {
	select {
	case out := <-wait:
		if out.err != nil {
			return nil, out.err
		}
		cl.retried = true
		return c.replay(ctx, cl, out)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// replay はリフレッシュ後にリクエストを再送する。再送も失敗した場合はrecoverUnauthorizedへ戻す。
func (c *Client) replay(ctx context.Context, cl *call, out refreshOutcome) (*Response, error) {
	if out.token != "" {
		cl.bearer = out.token
	}
	resp, err := c.send(ctx, cl)
	if err != nil {
		return c.recoverUnauthorized(ctx, cl, err)
	}
	return resp, nil
}

// refresh はリフレッシュを1回実行し、待機中のリクエストへ結果を配る。
// パニックを含むどの経路で抜けても、実行中フラグの解除とキューの解放を行う。
func (c *Client) refresh(ctx context.Context) (out refreshOutcome) {
	out = refreshOutcome{err: errRefreshAborted}
	defer func() { c.settle(out) }()

	token, err := c.callRefresh(ctx)
	if err != nil {
		out = refreshOutcome{err: fmt.Errorf("%w: %w", ErrRefreshFailed, err)}
		return out
	}
	out = refreshOutcome{token: token}
	return out
}

// settle は実行中フラグを解除し、待機中のリクエストへ到着順に結果を配る。
// フラグ解除とキューの取り出しは同じロックの中で行うため、解放後のキューに新しい待機者は入らない。
func (c *Client) settle(out refreshOutcome) {
	c.mu.Lock()
	waiters := c.pending
	c.pending = nil
	c.refreshing = false
	c.mu.Unlock()

	if out.err == nil {
		c.notifier.Reset()
	}
	c.logger.Debug("リフレッシュ待ちのリクエストを解放します",
		zap.Int("waiters", len(waiters)),
		zap.Bool("success", out.err == nil),
	)
	for _, w := range waiters {
		w <- out
	}
}

// callRefresh はリフレッシュエンドポイントを呼び出し、応答に含まれるアクセストークンを返す。
// 呼び出し元のキャンセルに巻き込まれないよう、キャンセルを切り離してタイムアウトだけを設定する。
func (c *Client) callRefresh(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.refreshPath, nil)
	if err != nil {
		return "", fmt.Errorf("リフレッシュリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", c.locale())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("リフレッシュリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("リフレッシュレスポンスの読み取りに失敗: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", newHTTPError(http.MethodPost, c.refreshPath, resp.StatusCode, body)
	}

	c.logger.Info("アクセストークンをリフレッシュしました")
	return accessToken(body), nil
}

// accessToken はリフレッシュ応答からアクセストークンを取り出す。
// {"data":{"accessToken":...}} と {"accessToken":...} の両方を受け付ける。
func accessToken(body []byte) string {
	for _, p := range []string{"data.accessToken", "accessToken", "data.access_token", "access_token"} {
		if v := gjson.GetBytes(body, p); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

// expire はセッション切れを通知する。
func (c *Client) expire(cause error) {
	if c.notifier.Notify() {
		c.logger.Warn("セッションが切れました", zap.Error(cause))
	}
}
