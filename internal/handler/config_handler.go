package handler

import (
	"context"
	"net/http"
)

// TemplateServiceInterface はテンプレート設定ハンドラーが必要とするサービスインターフェース。
type TemplateServiceInterface interface {
	GetTemplate(ctx context.Context, userID string) (string, error)
	UpdateTemplate(ctx context.Context, userID, body string) (string, error)
}

// ConfigHandler はメッセージテンプレート設定のHTTPハンドラー。
type ConfigHandler struct {
	service TemplateServiceInterface
}

// NewConfigHandler はConfigHandlerを生成する。
func NewConfigHandler(service TemplateServiceInterface) *ConfigHandler {
	return &ConfigHandler{service: service}
}

// configRequest はテンプレート更新リクエストのボディ。
type configRequest struct {
	MessageTemplate string `json:"messageTemplate"`
}

// configResponse はテンプレート設定のAPIレスポンス。
type configResponse struct {
	Success         bool   `json:"success"`
	MessageTemplate string `json:"messageTemplate"`
	Message         string `json:"message,omitempty"`
}

// GetConfig は現在のメッセージテンプレートを返す。
// GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	tmpl, err := h.service.GetTemplate(r.Context(), identity.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, configResponse{Success: true, MessageTemplate: tmpl})
}

// UpdateConfig はメッセージテンプレートを更新する。
// PUT /api/config
func (h *ConfigHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req configRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	saved, err := h.service.UpdateTemplate(r.Context(), identity.ID, req.MessageTemplate)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, configResponse{
		Success:         true,
		MessageTemplate: saved,
		Message:         "Template updated successfully",
	})
}
