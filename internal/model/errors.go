// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, whatsapp, campaign, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeUsernameTaken        = "USERNAME_TAKEN"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeWhatsAppNotConnected = "WHATSAPP_NOT_CONNECTED"
	ErrCodeCampaignInProgress   = "CAMPAIGN_IN_PROGRESS"
	ErrCodeInvalidSpreadsheet   = "INVALID_SPREADSHEET"
	ErrCodeRecipientNotFound    = "RECIPIENT_NOT_FOUND"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// ユーザーの存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewUsernameTakenError はユーザー名重複エラーを生成する。
func NewUsernameTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeUsernameTaken,
		Message:  "このユーザー名は既に使用されています。",
		Category: "auth",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewWhatsAppNotConnectedError はメッセージングセッション未接続エラーを生成する。
func NewWhatsAppNotConnectedError() *APIError {
	return &APIError{
		Code:     ErrCodeWhatsAppNotConnected,
		Message:  "WhatsAppが接続されていません。",
		Category: "whatsapp",
		Action:   "ダッシュボードからQRコードを読み取り、接続を完了してください。",
	}
}

// NewCampaignInProgressError は送信キャンペーン実行中エラーを生成する。
func NewCampaignInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeCampaignInProgress,
		Message:  "別の送信処理が実行中です。",
		Category: "campaign",
		Action:   "実行中の送信が完了してから再度お試しください。",
	}
}

// NewInvalidSpreadsheetError はスプレッドシートの内容不正エラーを生成する。
func NewInvalidSpreadsheetError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSpreadsheet,
		Message:  fmt.Sprintf("スプレッドシートを読み込めませんでした: %s", reason),
		Category: "validation",
		Action:   "Name、Phone、Amount、DueDate列を含むExcelファイルをアップロードしてください。",
	}
}

// NewRecipientNotFoundError は送信先未検出エラーを生成する。
func NewRecipientNotFoundError(recipientID string) *APIError {
	return &APIError{
		Code:     ErrCodeRecipientNotFound,
		Message:  fmt.Sprintf("指定された生徒が見つかりません: %s", recipientID),
		Category: "validation",
		Action:   "生徒一覧を再読み込みしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
