// Package pushchannel はユーザーごとのWebSocketプッシュチャネルを提供する。
//
// サーバーからはqrCode・whatsappStatus・messageStatusイベントを送り、
// クライアントからはinitializeWhatsApp・disconnectWhatsAppイベントを受け付ける。
// すべてのフレームは {"event": <名前>, "data": <ペイロード>} 形式のJSONテキスト。
package pushchannel

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/hitoshi/feereminder/internal/session"
)

// sendBufferSize は接続ごとの送信キューの長さ。
const sendBufferSize = 64

// Envelope はプッシュチャネルのフレーム。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// client は1本のWebSocket接続の送信キュー。
type client struct {
	userID string
	send   chan []byte
}

// Hub はユーザーIDごとに接続中のクライアントを保持し、イベントを配信する。
// 1ユーザーが複数のタブから接続している場合は全接続へ配信する。
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

var _ session.Notifier = (*Hub)(nil)

// NewHub はHubを生成する。
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) register(userID string) *client {
	c := &client{userID: userID, send: make(chan []byte, sendBufferSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

// ConnectionCount はユーザーの接続数を返す。
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Emit はユーザーの全接続へイベントを送る。接続がなければ何もしない。
// 送信キューが詰まっている接続にはフレームを捨てる。
func (h *Hub) Emit(userID, event string, payload any) {
	frame, err := encode(event, payload)
	if err != nil {
		h.logger.Error("failed to encode push event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		h.enqueue(c, event, frame)
	}
}

// Broadcast は接続中の全ユーザーへイベントを送る。
func (h *Hub) Broadcast(event string, payload any) {
	frame, err := encode(event, payload)
	if err != nil {
		h.logger.Error("failed to encode push event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.clients {
		for c := range set {
			h.enqueue(c, event, frame)
		}
	}
}

// enqueue はh.muの読み取りロックを保持した状態で呼ぶこと。
func (h *Hub) enqueue(c *client, event string, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.logger.Warn("push channel buffer full, dropping event",
			slog.String("user_id", c.userID),
			slog.String("event", event),
		)
	}
}

func encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}
