package pushchannel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/hitoshi/feereminder/internal/middleware"
	"github.com/hitoshi/feereminder/internal/model"
)

const defaultPingInterval = 30 * time.Second

// SessionController はプッシュチャネルから操作するセッション管理。*session.Registryが満たす。
type SessionController interface {
	Connect(ctx context.Context, owner model.UserIdentity) error
	Disconnect(ctx context.Context, userID string) error
}

// HandlerConfig はHandlerの設定。
type HandlerConfig struct {
	// AllowedOrigins は同一オリジン以外に接続を許可するオリジン（例: http://localhost:3000）。
	AllowedOrigins []string
	// PingInterval は死活確認のPing間隔。0の場合は30秒。
	PingInterval time.Duration
}

// Handler はプッシュチャネルのWebSocketエンドポイント。
type Handler struct {
	hub            *Hub
	sessions       SessionController
	verifier       middleware.TokenVerifier
	logger         *slog.Logger
	originPatterns []string
	pingInterval   time.Duration
}

// NewHandler はHandlerを生成する。
func NewHandler(hub *Hub, sessions SessionController, verifier middleware.TokenVerifier, logger *slog.Logger, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	return &Handler{
		hub:            hub,
		sessions:       sessions,
		verifier:       verifier,
		logger:         logger,
		originPatterns: originPatterns(cfg.AllowedOrigins),
		pingInterval:   ping,
	}
}

// originPatterns はオリジンURLをwebsocket.AcceptOptions用のホストパターンに変換する。
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}

// tokenFromRequest はクエリパラメータtoken、なければAuthorizationヘッダーからトークンを取り出す。
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return middleware.BearerToken(r)
}

// ServeHTTP はトークンを検証してからWebSocketへアップグレードする。
// 検証に失敗した場合はアップグレードせずに401を返す。
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.VerifyToken(tokenFromRequest(r))
	if err != nil {
		h.logger.Warn("push channel authentication failed", slog.String("remote_addr", r.RemoteAddr))
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("push channel upgrade failed",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.CloseNow()

	h.serve(r.Context(), conn, identity)
}

func (h *Handler) serve(parent context.Context, conn *websocket.Conn, identity model.UserIdentity) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	logger := h.logger.With(slog.String("user_id", identity.ID))
	c := h.hub.register(identity.ID)
	defer h.hub.unregister(c)
	logger.Info("push channel connected")

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		h.writeLoop(ctx, conn, c, logger)
		cancel()
	}()

	h.readLoop(ctx, conn, identity, logger)
	cancel()
	<-writeDone

	conn.Close(websocket.StatusNormalClosure, "")
	logger.Info("push channel disconnected")
}

// writeLoop は送信キューのフレームを書き出し、定期的にPingを送る。
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, c *client, logger *slog.Logger) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.send:
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				if ctx.Err() == nil {
					logger.Warn("push channel write failed", slog.String("error", err.Error()))
				}
				return
			}
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				logger.Debug("push channel ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// readLoop はクライアントからのイベントを処理する。接続が閉じるまで戻らない。
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, identity model.UserIdentity, logger *slog.Logger) {
	for {
		msgType, msg, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure ||
				status == websocket.StatusGoingAway ||
				status == websocket.StatusNoStatusRcvd ||
				errors.Is(err, context.Canceled) {
				logger.Debug("push channel closed", slog.Int("close_status", int(status)))
			} else {
				logger.Info("push channel read error", slog.String("error", err.Error()))
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			logger.Debug("ignoring malformed push frame", slog.String("error", err.Error()))
			continue
		}
		h.dispatch(ctx, identity, env.Event, logger)
	}
}

func (h *Handler) dispatch(ctx context.Context, identity model.UserIdentity, event string, logger *slog.Logger) {
	switch event {
	case model.EventInitializeWhatsApp:
		if err := h.sessions.Connect(ctx, identity); err != nil {
			logger.Warn("failed to initialize session", slog.String("error", err.Error()))
		}
	case model.EventDisconnectWhatsApp:
		if err := h.sessions.Disconnect(ctx, identity.ID); err != nil {
			logger.Warn("failed to disconnect session", slog.String("error", err.Error()))
		}
	default:
		logger.Debug("ignoring unknown push event", slog.String("event", event))
	}
}
