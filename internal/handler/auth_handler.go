// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/feereminder/internal/auth"
	"github.com/hitoshi/feereminder/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, username, password string) (*model.User, error)
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
	GetCurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandler はユーザー登録・ログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// credentialsRequest は登録・ログインリクエストのボディ。
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse はログイン成功時のレスポンス。
type loginResponse struct {
	Success   bool         `json:"success"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      userResponse `json:"user"`
	Message   string       `json:"message"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Register はユーザーを登録する。
// POST /api/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if _, err := h.service.Register(r.Context(), req.Username, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, successResponse{Success: true, Message: "Registration successful."})
}

// Login はユーザー名とパスワードを検証し、アクセストークンを発行する。
// POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		User:      userResponse{ID: result.User.ID, Username: result.User.Handle},
		Message:   "Login successful",
	})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), identity.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Username: user.Username})
}
