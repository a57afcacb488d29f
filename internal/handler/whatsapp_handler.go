package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/feereminder/internal/model"
	"github.com/hitoshi/feereminder/internal/session"
)

const stateNotConnected = "not_connected"

// CampaignRunnerInterface は送信ハンドラーが必要とするキャンペーン実行インターフェース。
type CampaignRunnerInterface interface {
	Run(ctx context.Context, user model.UserIdentity) (*model.CampaignOutcome, error)
	SendOne(ctx context.Context, user model.UserIdentity, phone, body string) error
}

// SessionDirectory は稼働中セッションの参照と一括切断を提供する。
type SessionDirectory interface {
	Count() int
	DisconnectAll(ctx context.Context) error
	// State はユーザーのセッション状態を返す。セッションがなければfalseを返す。
	State(userID string) (session.State, bool)
}

// Broadcaster は接続中の全プッシュチャネルへイベントを送る。
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// WhatsAppHandler はリマインダー送信とセッション操作のHTTPハンドラー。
type WhatsAppHandler struct {
	runner      CampaignRunnerInterface
	sessions    SessionDirectory
	broadcaster Broadcaster
}

// NewWhatsAppHandler はWhatsAppHandlerを生成する。
func NewWhatsAppHandler(runner CampaignRunnerInterface, sessions SessionDirectory, broadcaster Broadcaster) *WhatsAppHandler {
	return &WhatsAppHandler{
		runner:      runner,
		sessions:    sessions,
		broadcaster: broadcaster,
	}
}

// sendRemindersResponse はキャンペーン実行結果のAPIレスポンス。
type sendRemindersResponse struct {
	Success   bool                  `json:"success"`
	SentCount int                   `json:"sentCount"`
	Errors    []model.DeliveryError `json:"errors"`
	Message   string                `json:"message"`
}

// sendMessageRequest は任意送信リクエストのボディ。
type sendMessageRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

// statusResponse はセッション状態のAPIレスポンス。
type statusResponse struct {
	Success bool   `json:"success"`
	Ready   bool   `json:"ready"`
	State   string `json:"state"`
}

// SendReminders はユーザーの全生徒へリマインダーを送信する。
// キャンペーンはクライアントの切断では中断せず、最後の生徒まで送信する。
// 止まるのはセッションの破棄かプロセス終了のときのみ。
// POST /api/send-reminders
func (h *WhatsAppHandler) SendReminders(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	outcome, err := h.runner.Run(context.WithoutCancel(r.Context()), identity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sendRemindersResponse{
		Success:   true,
		SentCount: outcome.SentCount,
		Errors:    outcome.Errors,
		Message:   fmt.Sprintf("Sent %d messages with %d errors", outcome.SentCount, len(outcome.Errors)),
	})
}

// DisconnectAll は全ユーザーのセッションを切断し、全チャネルへ切断を通知する。
// 呼び出したユーザーのセッションに限定しない管理操作で、認証済みの全ユーザーに許可している。
// 自分のセッションだけを切るにはプッシュチャネルのdisconnectイベントを使う。
// POST /api/disconnect-whatsapp
func (h *WhatsAppHandler) DisconnectAll(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	if h.sessions.Count() == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewWhatsAppNotConnectedError())
		return
	}

	// 個々の破棄失敗はログのみ。Registryは必ず空になる。
	if err := h.sessions.DisconnectAll(r.Context()); err != nil {
		slog.Warn("some sessions failed to tear down",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
	}
	h.broadcaster.Broadcast(model.EventWhatsAppStatus, model.StatusPayload{Ready: false})

	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "WhatsApp disconnected"})
}

// SendMessage はユーザー自身のセッションから任意の宛先へ1通送信する。
// POST /api/send-message
func (h *WhatsAppHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" || strings.TrimSpace(req.Message) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("phoneNumberとmessageは必須です"))
		return
	}

	if err := h.runner.SendOne(r.Context(), identity, req.PhoneNumber, req.Message); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Message sent successfully"})
}

// Status はユーザーのセッション状態を返す。
// GET /api/whatsapp/status
func (h *WhatsAppHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	resp := statusResponse{Success: true, State: stateNotConnected}
	if state, found := h.sessions.State(identity.ID); found {
		resp.State = string(state)
		resp.Ready = state == session.StateReady
	}
	writeJSON(w, http.StatusOK, resp)
}
