package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feereminder/internal/auth"
	"github.com/hitoshi/feereminder/internal/campaign"
	"github.com/hitoshi/feereminder/internal/middleware"
	"github.com/hitoshi/feereminder/internal/model"
	"github.com/hitoshi/feereminder/internal/session"
)

// successResponse は本文を持たない成功レスポンス。
type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// decodeJSONBody はリクエストボディをdstにデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return false
	}
	return true
}

// identityOrUnauthorized はコンテキストから認証済みユーザーを取り出す。
// 存在しない場合は401を書き込みfalseを返す。
func identityOrUnauthorized(w http.ResponseWriter, r *http.Request) (model.UserIdentity, bool) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return model.UserIdentity{}, false
	}
	return identity, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotReady):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewWhatsAppNotConnectedError())
		return
	case errors.Is(err, session.ErrCampaignInProgress):
		writeAPIErrorResponse(w, http.StatusConflict, model.NewCampaignInProgressError())
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
		return
	case errors.Is(err, campaign.ErrInvalidPhone):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("電話番号が不正です"))
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidSpreadsheet, model.ErrCodeWhatsAppNotConnected:
		return http.StatusBadRequest
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeUsernameTaken, model.ErrCodeCampaignInProgress:
		return http.StatusConflict
	case model.ErrCodeRecipientNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
