package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/feereminder/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスのボディ。
// ダッシュボードはcategoryで表示を切り替え、actionをそのまま案内文に使う。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse はAPIErrorを統一フォーマットで書き込む。
// 認証ミドルウェア、レート制限、ハンドラーの全エラー応答がここを通る。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部エラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
