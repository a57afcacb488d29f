package model

import "time"

// DefaultMessageTemplate はユーザーがテンプレートを保存していない場合に使用する本文。
const DefaultMessageTemplate = "Dear {{name}},\n\nThis is a reminder that your fee payment of {{amount}} is pending.\n\nPlease make the payment as soon as possible to avoid any late fees.\n\nRegards,\nSchool Administration"

// MessageTemplate はユーザーごとのリマインダー本文テンプレート。
// {{name}}、{{amount}}、{{dueDate}} のプレースホルダーを含められる。
type MessageTemplate struct {
	UserID    string
	Body      string
	UpdatedAt time.Time
}
