package model

import "time"

// Recipient はリマインダーの送信先（生徒）を表す。
// アップロードしたユーザー（OwnerID）ごとに管理される。
type Recipient struct {
	ID               string
	OwnerID          string
	Name             string
	Phone            string // E.164形式（例: +919876543210）
	Amount           float64
	DueDate          *time.Time
	LastReminderSent *time.Time
	ReminderDate     *time.Time // 手動で指定されたリマインド日
	Sent             bool       // 日次スケジュールで送信済みか
	CreatedAt        time.Time
}

// DueDateString は期日をyyyy-mm-dd形式で返す。未設定の場合は空文字列を返す。
func (r *Recipient) DueDateString() string {
	if r.DueDate == nil {
		return ""
	}
	return r.DueDate.Format(DateLayout)
}

// DateLayout は期日やリマインド日の表記に使用する日付フォーマット。
const DateLayout = "2006-01-02"

// DeliveryStatus は1件の送信結果を表す。
type DeliveryStatus string

const (
	// DeliveryStatusSent は送信成功を表す。
	DeliveryStatusSent DeliveryStatus = "sent"
	// DeliveryStatusFailed は送信失敗を表す。
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// DeliveryResult はキャンペーン内の1件分の送信結果。
type DeliveryResult struct {
	Recipient Recipient
	Status    DeliveryStatus
	Error     string
}

// DeliveryError は送信に失敗した宛先とその理由。
type DeliveryError struct {
	Recipient string `json:"student"`
	Error     string `json:"error"`
}

// CampaignOutcome は1回のキャンペーン実行結果。永続化はしない。
// Resultsの順序は送信対象の取得順と一致する。
type CampaignOutcome struct {
	SentCount int
	Results   []DeliveryResult
	Errors    []DeliveryError
}
