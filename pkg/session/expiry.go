// Package session はセッション切れの通知状態を管理する。
//
// 認証付きリクエスト層がリフレッシュに失敗したときに一度だけ通知を発火し、
// 強制サインアウトなどの処理をアプリケーション側のハンドラに委ねる。
package session

import "sync"

// ExpiryNotifier はセッション切れ通知の発火状態と登録済みハンドラを保持する。
// Resetが呼ばれるまでハンドラは最大1回しか呼ばれない。
type ExpiryNotifier struct {
	mu sync.Mutex
	// notified は現在のセッションで既に通知済みかどうか。
	notified bool
	// pending はハンドラ未登録のまま保留されている通知があるかどうか。
	pending bool
	// handler は通知を受け取るハンドラ。未登録ならnil。
	handler func()
	// generation はRegisterのたびに増え、古い登録解除関数を無効にする。
	generation uint64
}

// NewExpiryNotifier は新しいExpiryNotifierを生成する。
func NewExpiryNotifier() *ExpiryNotifier {
	return &ExpiryNotifier{}
}

// Register はセッション切れハンドラを登録し、登録解除用の関数を返す。
// ハンドラ未登録の間に通知が保留されていた場合、このハンドラへ即座に届ける。
func (n *ExpiryNotifier) Register(handler func()) (unregister func()) {
	n.mu.Lock()
	n.generation++
	gen := n.generation
	n.handler = handler
	deliver := handler != nil && n.pending
	if deliver {
		n.pending = false
	}
	n.mu.Unlock()

	if deliver {
		handler()
	}

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.generation == gen {
			n.handler = nil
		}
	}
}

// Notify はセッション切れを通知する。通知済みなら何もしない。
// ハンドラが未登録なら通知を保留し、次に登録されたハンドラへ届ける。
// この呼び出しで通知状態が変わった場合にtrueを返す。
func (n *ExpiryNotifier) Notify() bool {
	n.mu.Lock()
	if n.notified {
		n.mu.Unlock()
		return false
	}
	n.notified = true
	handler := n.handler
	if handler == nil {
		n.pending = true
	}
	n.mu.Unlock()

	if handler != nil {
		handler()
	}
	return true
}

// Reset は通知済みフラグと保留中の通知をクリアする。
// ログインやリフレッシュに成功したときに呼び出す。
func (n *ExpiryNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = false
	n.pending = false
}

// Notified は現在のセッションで既に通知済みかどうかを返す。
func (n *ExpiryNotifier) Notified() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notified
}

// defaultNotifier はプロセス全体で共有するExpiryNotifier。
var defaultNotifier = NewExpiryNotifier()

// Default はプロセス全体で共有するExpiryNotifierを返す。
func Default() *ExpiryNotifier {
	return defaultNotifier
}

// RegisterExpiredHandler は共有ExpiryNotifierにハンドラを登録する。
func RegisterExpiredHandler(handler func()) (unregister func()) {
	return defaultNotifier.Register(handler)
}

// NotifyExpired は共有ExpiryNotifierでセッション切れを通知する。
func NotifyExpired() bool {
	return defaultNotifier.Notify()
}

// ResetExpiredNotification は共有ExpiryNotifierの通知状態をリセットする。
func ResetExpiredNotification() {
	defaultNotifier.Reset()
}
