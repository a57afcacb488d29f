// Package session はユーザーごとのメッセージングセッションのライフサイクルを管理する。
//
// 1ユーザーにつき高々1つのSessionがRegistryに登録される。Sessionは外部クライアント
// （Backend）をラップし、ペアリング・接続・切断の状態遷移をプッシュチャネルへ通知する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feereminder/internal/metrics"
	"github.com/hitoshi/feereminder/internal/model"
)

var (
	// ErrSessionNotReady は送信可能なセッションが存在しないことを表す。
	ErrSessionNotReady = errors.New("session is not ready")
	// ErrCampaignInProgress は同じセッションで送信キャンペーンが実行中であることを表す。
	ErrCampaignInProgress = errors.New("campaign already in progress")
	// ErrInvalidTransition は許可されていない状態遷移を表す。
	ErrInvalidTransition = errors.New("invalid session state transition")
)

const initFailureMessage = "Connection failed"

// Session は1ユーザー分の自動化セッション。
type Session struct {
	owner          model.UserIdentity
	credentialPath string
	backend        Backend
	notifier       Notifier
	logger         *slog.Logger
	metrics        metrics.MetricsCollector
	sendTimeout    time.Duration

	// onTerminal はDisconnectedまたは初期化失敗でDestroyedになった直後、
	// イベント送出より前に呼ばれる。Registryからの除去に使用する。
	onTerminal func(*Session)

	cancel   context.CancelFunc
	campaign chan struct{}

	mu       sync.Mutex
	state    State
	lastCode string
}

func newSession(owner model.UserIdentity, credentialPath string, backend Backend, r *Registry) *Session {
	return &Session{
		owner:          owner,
		credentialPath: credentialPath,
		backend:        backend,
		notifier:       r.notifier,
		logger:         r.logger.With(slog.String("user_id", owner.ID)),
		metrics:        r.metrics,
		sendTimeout:    r.sendTimeout,
		onTerminal:     r.removeIfCurrent,
		cancel:         func() {},
		campaign:       make(chan struct{}, 1),
		state:          StateInitializing,
	}
}

// Owner はセッションの所有ユーザーを返す。
func (s *Session) Owner() model.UserIdentity {
	return s.owner
}

// CredentialPath はペアリング情報の保存先ディレクトリを返す。
func (s *Session) CredentialPath() string {
	return s.credentialPath
}

// State は現在の状態を返す。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastPairingCode は直近に提示したペアリングコードのdata URLを返す。
// ペアリング待ちでない場合は空文字列を返す。
func (s *Session) LastPairingCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingPairing {
		return ""
	}
	return s.lastCode
}

// transitionLocked は状態を遷移させる。s.muを保持した状態で呼ぶこと。
func (s *Session) transitionLocked(to State) error {
	if !CanTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	from := s.state
	s.state = to
	s.metrics.RecordSessionTransition(string(to))
	if from != to {
		s.logger.Info("session state changed",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
	}
	return nil
}

// start はBackendを起動する。起動に失敗した場合は初期化失敗として扱う。
func (s *Session) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.backend.Start(ctx, sessionEvents{s}); err != nil {
		s.fail(err.Error())
	}
}

// fail は初期化失敗を処理する。Registryから除去した後にエラーを通知する。
func (s *Session) fail(reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	_ = s.transitionLocked(StateDestroyed)
	s.mu.Unlock()

	s.logger.Warn("session initialization failed", slog.String("reason", reason))
	s.onTerminal(s)
	s.notifier.Emit(s.owner.ID, model.EventWhatsAppStatus, model.StatusPayload{
		Ready: false,
		Error: initFailureMessage,
	})
	go s.release()
}

// release はバックエンドの資源を解放する。エラーはログに残すのみ。
func (s *Session) release() {
	s.stopStart()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.backend.Destroy(ctx); err != nil {
		s.logger.Warn("failed to release backend", slog.String("error", err.Error()))
	}
}

// destroy は明示的な切断でセッションを破棄する。すでに破棄済みの場合は何もしない。
func (s *Session) destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return nil
	}
	_ = s.transitionLocked(StateDestroyed)
	s.mu.Unlock()

	s.stopStart()
	if err := s.backend.Destroy(ctx); err != nil {
		return fmt.Errorf("failed to destroy session for user %s: %w", s.owner.ID, err)
	}
	return nil
}

// stopStart は起動処理に渡したコンテキストをキャンセルする。
func (s *Session) stopStart() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	cancel()
}

// Send はReady状態のセッションでメッセージを1通送信する。
func (s *Session) Send(ctx context.Context, address, body string) error {
	if s.State() != StateReady {
		return ErrSessionNotReady
	}
	if s.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
	}

	start := time.Now()
	err := s.backend.Send(ctx, address, body)
	s.metrics.RecordSendLatency(time.Since(start))
	return err
}

// TryAcquireCampaign は送信キャンペーンの実行権を即時に取得する。
// 実行中のキャンペーンがある場合はErrCampaignInProgressを返す。
func (s *Session) TryAcquireCampaign() (release func(), err error) {
	select {
	case s.campaign <- struct{}{}:
		return s.releaseCampaign, nil
	default:
		return nil, ErrCampaignInProgress
	}
}

// AcquireCampaign は送信キャンペーンの実行権が空くまで待つ。
func (s *Session) AcquireCampaign(ctx context.Context) (release func(), err error) {
	select {
	case s.campaign <- struct{}{}:
		return s.releaseCampaign, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) releaseCampaign() {
	<-s.campaign
}

// sessionEvents はBackendからのイベントをSessionの状態遷移に変換する。
type sessionEvents struct {
	s *Session
}

func (e sessionEvents) OnPairingCode(code string) {
	s := e.s
	dataURL, err := RenderPairingCode(code)
	if err != nil {
		s.logger.Error("failed to render pairing code", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	if err := s.transitionLocked(StateAwaitingPairing); err != nil {
		s.mu.Unlock()
		s.logger.Debug("pairing code ignored", slog.String("state", string(s.State())))
		return
	}
	s.lastCode = dataURL
	s.mu.Unlock()

	s.notifier.Emit(s.owner.ID, model.EventQRCode, model.QRCodePayload{QRCodeDataURL: dataURL})
}

func (e sessionEvents) OnReady() {
	s := e.s
	s.mu.Lock()
	if err := s.transitionLocked(StateReady); err != nil {
		s.mu.Unlock()
		return
	}
	s.lastCode = ""
	s.mu.Unlock()

	s.notifier.Emit(s.owner.ID, model.EventWhatsAppStatus, model.StatusPayload{Ready: true})
}

func (e sessionEvents) OnDisconnected(reason string) {
	s := e.s
	s.mu.Lock()
	switch s.state {
	case StateInitializing, StateAwaitingPairing:
		s.mu.Unlock()
		s.fail(reason)
		return
	case StateReady:
		_ = s.transitionLocked(StateDisconnected)
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		return
	}

	s.logger.Info("session disconnected", slog.String("reason", reason))
	s.onTerminal(s)
	s.notifier.Emit(s.owner.ID, model.EventWhatsAppStatus, model.StatusPayload{Ready: false})
	go s.release()
}
