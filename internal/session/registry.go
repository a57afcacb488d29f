package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/feereminder/internal/metrics"
	"github.com/hitoshi/feereminder/internal/model"
)

const alreadyConnectedMessage = "Already connected"

// RegistryConfig はRegistryの生成パラメータ。
type RegistryConfig struct {
	// CredentialRoot はユーザーごとの資格情報ディレクトリを作成するルート。
	CredentialRoot string
	Factory        BackendFactory
	Notifier       Notifier
	Logger         *slog.Logger
	Metrics        metrics.MetricsCollector
	// SendTimeout は1通あたりの送信タイムアウト。0以下の場合は呼び出し側のコンテキストに従う。
	SendTimeout time.Duration
}

// Registry はユーザーIDから高々1つの稼働中セッションへの対応を保持する。
// セッションの生成と破棄はすべてRegistryを経由する。
type Registry struct {
	credentialRoot string
	factory        BackendFactory
	notifier       Notifier
	logger         *slog.Logger
	metrics        metrics.MetricsCollector
	sendTimeout    time.Duration

	// baseCtx はセッション起動用のコンテキスト。Shutdownでキャンセルされる。
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	keyLocks map[string]*sync.Mutex
}

// NewRegistry はRegistryを生成する。
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		credentialRoot: cfg.CredentialRoot,
		factory:        cfg.Factory,
		notifier:       cfg.Notifier,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		sendTimeout:    cfg.SendTimeout,
		baseCtx:        ctx,
		cancelBase:     cancel,
		sessions:       make(map[string]*Session),
		keyLocks:       make(map[string]*sync.Mutex),
	}
}

// keyLock はユーザーごとの排他ロックを返す。同一ユーザーへの変更操作は直列化される。
func (r *Registry) keyLock(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.keyLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.keyLocks[userID] = l
	}
	return l
}

// CredentialPath はユーザーの資格情報ディレクトリを返す。
// ユーザーIDがパス要素として不正な場合はエラーを返す。
func (r *Registry) CredentialPath(userID string) (string, error) {
	if userID == "" || userID == "." || userID == ".." ||
		strings.ContainsAny(userID, `/\`) || filepath.Base(userID) != userID {
		return "", fmt.Errorf("invalid user id for credential path: %q", userID)
	}
	return filepath.Join(r.credentialRoot, userID), nil
}

// Get は登録済みのセッションを返す。ブロックしない。
func (r *Registry) Get(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Count は登録済みのセッション数を返す。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Connect はユーザーのセッションを開始する。冪等であり、
//   - 接続済みの場合は "Already connected" を通知して戻る。
//   - 初期化中またはペアリング待ちの場合は直近のペアリングコードを再送して戻る。
//   - それ以外は新しいセッションを登録し、非同期に初期化を開始する。
//
// 初期化の失敗はwhatsappStatusイベントで通知される。
func (r *Registry) Connect(ctx context.Context, owner model.UserIdentity) error {
	lock := r.keyLock(owner.ID)
	lock.Lock()
	defer lock.Unlock()

	if existing, ok := r.Get(owner.ID); ok {
		switch existing.State() {
		case StateReady:
			r.notifier.Emit(owner.ID, model.EventWhatsAppStatus, model.StatusPayload{
				Ready:   true,
				Message: alreadyConnectedMessage,
			})
			return nil
		case StateInitializing, StateAwaitingPairing:
			if code := existing.LastPairingCode(); code != "" {
				r.notifier.Emit(owner.ID, model.EventQRCode, model.QRCodePayload{QRCodeDataURL: code})
			}
			return nil
		default:
			r.removeIfCurrent(existing)
		}
	}

	path, err := r.CredentialPath(owner.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		r.emitInitFailure(owner.ID)
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	backend, err := r.factory(owner, path)
	if err != nil {
		r.emitInitFailure(owner.ID)
		return fmt.Errorf("failed to create backend: %w", err)
	}

	s := newSession(owner, path, backend, r)
	r.mu.Lock()
	r.sessions[owner.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.RecordSessionTransition(string(StateInitializing))
	r.metrics.SetActiveSessions(n)
	r.logger.InfoContext(ctx, "session created",
		slog.String("user_id", owner.ID),
		slog.String("credential_path", path),
	)

	go s.start(r.baseCtx)
	return nil
}

func (r *Registry) emitInitFailure(userID string) {
	r.notifier.Emit(userID, model.EventWhatsAppStatus, model.StatusPayload{
		Ready: false,
		Error: initFailureMessage,
	})
}

// Disconnect はユーザーのセッションを破棄する。
// 破棄に失敗してもRegistryからは必ず除去する。
func (r *Registry) Disconnect(ctx context.Context, userID string) error {
	lock := r.keyLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s, ok := r.Get(userID)
	if !ok {
		return nil
	}

	err := s.destroy(ctx)
	r.removeIfCurrent(s)
	if err != nil {
		r.logger.Warn("session teardown failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	r.notifier.Emit(userID, model.EventWhatsAppStatus, model.StatusPayload{Ready: false})
	return err
}

// DisconnectAll はすべてのセッションを破棄する。個々の失敗では中断せず、
// 終了時にはRegistryは必ず空になる。失敗はまとめて返す。
func (r *Registry) DisconnectAll(ctx context.Context) error {
	var errs []error
	total := 0
	for {
		snapshot := r.snapshot()
		if len(snapshot) == 0 {
			break
		}
		total += len(snapshot)
		for _, s := range snapshot {
			lock := r.keyLock(s.owner.ID)
			lock.Lock()
			if err := s.destroy(ctx); err != nil {
				r.logger.Warn("session teardown failed",
					slog.String("user_id", s.owner.ID),
					slog.String("error", err.Error()),
				)
				errs = append(errs, err)
			}
			r.removeIfCurrent(s)
			lock.Unlock()
		}
	}
	r.metrics.SetActiveSessions(0)

	r.logger.Info("all sessions disconnected",
		slog.Int("count", total),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Shutdown は全セッションを破棄し、以後の非同期起動を止める。
func (r *Registry) Shutdown(ctx context.Context) error {
	err := r.DisconnectAll(ctx)
	r.cancelBase()
	return err
}

// removeIfCurrent はsが現在登録されているセッションである場合のみ除去する。
// 後から登録された新しいセッションを誤って除去しない。
func (r *Registry) removeIfCurrent(s *Session) {
	r.mu.Lock()
	removed := false
	if cur, ok := r.sessions[s.owner.ID]; ok && cur == s {
		delete(r.sessions, s.owner.ID)
		removed = true
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if removed {
		r.metrics.SetActiveSessions(n)
	}
}
