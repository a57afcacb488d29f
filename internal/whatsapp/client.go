// Package whatsapp はwhatsmeowを使用したsession.Backendの実装を提供する。
//
// ペアリング情報はユーザーごとの資格情報ディレクトリ内のSQLiteファイルに保存され、
// プロセス再起動後も再ペアリングなしで接続できる。
package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/hitoshi/feereminder/internal/model"
	"github.com/hitoshi/feereminder/internal/session"
)

// AddressDomain は個人宛アドレスのドメイン部。
const AddressDomain = types.DefaultUserServer

// credentialFile は資格情報ディレクトリ内のSQLiteファイル名。
const credentialFile = "session.db"

var (
	errNotStarted  = errors.New("whatsapp client is not started")
	errNotLoggedIn = errors.New("whatsapp client is not logged in")
)

// NewFactory はユーザーごとにClientを生成するsession.BackendFactoryを返す。
func NewFactory(logger *slog.Logger) session.BackendFactory {
	return func(owner model.UserIdentity, credentialDir string) (session.Backend, error) {
		return NewClient(credentialDir, logger.With(slog.String("user_id", owner.ID))), nil
	}
}

// Client は1ユーザー分のwhatsmeowクライアント。
type Client struct {
	dir    string
	logger *slog.Logger

	mu        sync.Mutex
	container *sqlstore.Container
	cli       *whatsmeow.Client
	handlerID uint32
	cancelQR  context.CancelFunc
	destroyed bool
}

// NewClient はcredentialDirに資格情報を保存するClientを生成する。接続はStartで行う。
func NewClient(credentialDir string, logger *slog.Logger) *Client {
	return &Client{
		dir:    credentialDir,
		logger: logger,
	}
}

// credentialDSN はSQLiteの接続文字列を返す。
func credentialDSN(dir string) string {
	return "file:" + filepath.Join(dir, credentialFile) + "?_foreign_keys=on&_busy_timeout=5000"
}

// Start は資格情報ストアを開いて接続する。未ペアリングの場合はQRコードの発行を開始する。
func (c *Client) Start(ctx context.Context, h session.EventHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return errors.New("whatsapp client already destroyed")
	}

	db, err := sql.Open("sqlite3", credentialDSN(c.dir))
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	waLogger := newLogger(c.logger)
	container := sqlstore.NewWithDB(db, "sqlite3", waLogger.Sub("store"))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to upgrade credential store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return fmt.Errorf("failed to load device: %w", err)
	}

	cli := whatsmeow.NewClient(device, waLogger.Sub("client"))
	cli.EnableAutoReconnect = false
	c.handlerID = cli.AddEventHandler(func(evt any) {
		dispatchEvent(evt, h)
	})
	c.container = container
	c.cli = cli

	if cli.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(ctx)
		qrChan, err := cli.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to open pairing channel: %w", err)
		}
		c.cancelQR = cancel
		go watchPairing(qrChan, h)
	}

	if err := cli.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.logger.Info("whatsapp client started", slog.Bool("paired", cli.Store.ID != nil))
	return nil
}

// Send はaddress（例: 919876543210@s.whatsapp.net）宛にテキストを送信する。
func (c *Client) Send(ctx context.Context, address, body string) error {
	c.mu.Lock()
	cli := c.cli
	c.mu.Unlock()
	if cli == nil {
		return errNotStarted
	}
	if !cli.IsLoggedIn() {
		return errNotLoggedIn
	}

	jid, err := types.ParseJID(address)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}

	_, err = cli.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Destroy は接続を切断し資格情報ストアを閉じる。複数回呼んでも安全。
// ペアリング情報は削除しないため、次回のStartでは再ペアリング不要となる。
func (c *Client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil
	}
	c.destroyed = true

	if c.cancelQR != nil {
		c.cancelQR()
	}
	if c.cli != nil {
		c.cli.RemoveEventHandler(c.handlerID)
		c.cli.Disconnect()
	}
	if c.container != nil {
		if err := c.container.Close(); err != nil {
			return fmt.Errorf("failed to close credential store: %w", err)
		}
	}
	return nil
}

// watchPairing はQRチャネルの項目をセッションイベントに変換する。
// 成功はevents.Connectedで通知されるためここでは扱わない。
func watchPairing(ch <-chan whatsmeow.QRChannelItem, h session.EventHandler) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			h.OnPairingCode(item.Code)
		case whatsmeow.QRChannelSuccess.Event:
		case whatsmeow.QRChannelTimeout.Event:
			h.OnDisconnected("pairing timed out")
		case whatsmeow.QRChannelEventError:
			reason := "pairing failed"
			if item.Error != nil {
				reason += ": " + item.Error.Error()
			}
			h.OnDisconnected(reason)
		default:
			h.OnDisconnected("pairing ended: " + item.Event)
		}
	}
}

// dispatchEvent はwhatsmeowのイベントをセッションイベントに変換する。
func dispatchEvent(evt any, h session.EventHandler) {
	switch e := evt.(type) {
	case *events.Connected:
		h.OnReady()
	case *events.LoggedOut:
		h.OnDisconnected("logged out")
	case *events.StreamReplaced:
		h.OnDisconnected("stream replaced")
	case *events.Disconnected:
		h.OnDisconnected("connection lost")
	case *events.ConnectFailure:
		h.OnDisconnected(fmt.Sprintf("connect failure: %d", e.Reason))
	case *events.TemporaryBan:
		h.OnDisconnected("temporary ban: " + e.String())
	case *events.PairError:
		h.OnDisconnected("pairing failed: " + e.Error.Error())
	}
}

// compile-time interface check
var _ session.Backend = (*Client)(nil)
