package session

import (
	"context"

	"github.com/hitoshi/feereminder/internal/model"
)

// Backend は外部メッセージングクライアントを抽象化する。
// 1つのBackendは1ユーザーの資格情報ディレクトリに紐づく。
type Backend interface {
	// Start はクライアントを起動する。ペアリングコードや接続状態の変化は
	// eventsを通じて非同期に通知される。起動自体に失敗した場合はエラーを返す。
	Start(ctx context.Context, events EventHandler) error

	// Send はaddress宛にbodyを送信する。
	Send(ctx context.Context, address, body string) error

	// Destroy はクライアントを停止し、保持しているリソースを解放する。
	// 資格情報ディレクトリは削除しない。複数回呼ばれてもエラーにしないこと。
	Destroy(ctx context.Context) error
}

// EventHandler はBackendからのライフサイクルイベントを受け取る。
// 各メソッドは任意のgoroutineから呼ばれうる。
type EventHandler interface {
	// OnPairingCode は新しいペアリングコードを受け取ったときに呼ばれる。
	OnPairingCode(code string)
	// OnReady は送信可能になったときに呼ばれる。
	OnReady()
	// OnDisconnected は接続が失われたとき、またはペアリングが失敗したときに呼ばれる。
	OnDisconnected(reason string)
}

// BackendFactory はユーザーと資格情報ディレクトリからBackendを生成する。
type BackendFactory func(owner model.UserIdentity, credentialDir string) (Backend, error)

// Notifier はユーザーのプッシュチャネルへイベントを送る。
// 接続中のチャネルがなければ何もしない。
type Notifier interface {
	Emit(userID, event string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) Emit(string, string, any) {}
