package model

// プッシュチャネルのイベント名。
const (
	EventQRCode         = "qrCode"
	EventWhatsAppStatus = "whatsappStatus"
	EventMessageStatus  = "messageStatus"

	EventInitializeWhatsApp = "initializeWhatsApp"
	EventDisconnectWhatsApp = "disconnectWhatsApp"
)

// QRCodePayload はペアリングコード画像を運ぶqrCodeイベントのペイロード。
type QRCodePayload struct {
	QRCodeDataURL string `json:"qrCodeDataURL"`
}

// StatusPayload は接続状態の変化を通知するwhatsappStatusイベントのペイロード。
type StatusPayload struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MessageStatusPayload は宛先1件の送信結果を通知するmessageStatusイベントのペイロード。
type MessageStatusPayload struct {
	ID     string         `json:"id"`
	Status DeliveryStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
}
