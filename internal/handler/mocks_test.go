package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hitoshi/feereminder/internal/auth"
	"github.com/hitoshi/feereminder/internal/middleware"
	"github.com/hitoshi/feereminder/internal/model"
	"github.com/hitoshi/feereminder/internal/session"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	registerFn       func(ctx context.Context, username, password string) (*model.User, error)
	loginFn          func(ctx context.Context, username, password string) (*auth.LoginResult, error)
	getCurrentUserFn func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, username, password string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, username, password)
	}
	return &model.User{ID: "user-1", Username: username}, nil
}

func (m *mockAuthService) Login(ctx context.Context, username, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, username, password)
	}
	return nil, auth.ErrInvalidCredentials
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, userID)
	}
	return nil, model.NewUserNotFoundError()
}

// mockRecipientService はRecipientServiceInterfaceのモック実装。
type mockRecipientService struct {
	importFn           func(ctx context.Context, ownerID string, r io.Reader) ([]*model.Recipient, error)
	listFn             func(ctx context.Context, ownerID string) ([]*model.Recipient, error)
	scheduleReminderFn func(ctx context.Context, ownerID, recipientID, date string) error
}

func (m *mockRecipientService) Import(ctx context.Context, ownerID string, r io.Reader) ([]*model.Recipient, error) {
	if m.importFn != nil {
		return m.importFn(ctx, ownerID, r)
	}
	return nil, nil
}

func (m *mockRecipientService) List(ctx context.Context, ownerID string) ([]*model.Recipient, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockRecipientService) ScheduleReminder(ctx context.Context, ownerID, recipientID, date string) error {
	if m.scheduleReminderFn != nil {
		return m.scheduleReminderFn(ctx, ownerID, recipientID, date)
	}
	return nil
}

// mockTemplateService はTemplateServiceInterfaceのモック実装。
type mockTemplateService struct {
	getTemplateFn    func(ctx context.Context, userID string) (string, error)
	updateTemplateFn func(ctx context.Context, userID, body string) (string, error)
}

func (m *mockTemplateService) GetTemplate(ctx context.Context, userID string) (string, error) {
	if m.getTemplateFn != nil {
		return m.getTemplateFn(ctx, userID)
	}
	return model.DefaultMessageTemplate, nil
}

func (m *mockTemplateService) UpdateTemplate(ctx context.Context, userID, body string) (string, error) {
	if m.updateTemplateFn != nil {
		return m.updateTemplateFn(ctx, userID, body)
	}
	return body, nil
}

// mockCampaignRunner はCampaignRunnerInterfaceのモック実装。
type mockCampaignRunner struct {
	runFn     func(ctx context.Context, user model.UserIdentity) (*model.CampaignOutcome, error)
	sendOneFn func(ctx context.Context, user model.UserIdentity, phone, body string) error
}

func (m *mockCampaignRunner) Run(ctx context.Context, user model.UserIdentity) (*model.CampaignOutcome, error) {
	if m.runFn != nil {
		return m.runFn(ctx, user)
	}
	return &model.CampaignOutcome{Errors: []model.DeliveryError{}}, nil
}

func (m *mockCampaignRunner) SendOne(ctx context.Context, user model.UserIdentity, phone, body string) error {
	if m.sendOneFn != nil {
		return m.sendOneFn(ctx, user, phone, body)
	}
	return nil
}

// mockSessionDirectory はSessionDirectoryのモック実装。
type mockSessionDirectory struct {
	countFn         func() int
	disconnectAllFn func(ctx context.Context) error
	stateFn         func(userID string) (session.State, bool)
}

func (m *mockSessionDirectory) Count() int {
	if m.countFn != nil {
		return m.countFn()
	}
	return 0
}

func (m *mockSessionDirectory) DisconnectAll(ctx context.Context) error {
	if m.disconnectAllFn != nil {
		return m.disconnectAllFn(ctx)
	}
	return nil
}

func (m *mockSessionDirectory) State(userID string) (session.State, bool) {
	if m.stateFn != nil {
		return m.stateFn(userID)
	}
	return "", false
}

// broadcastCall はBroadcastの呼び出し記録。
type broadcastCall struct {
	event   string
	payload any
}

// recordingBroadcaster はBroadcastの呼び出しを記録するBroadcaster。
type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (b *recordingBroadcaster) Broadcast(event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{event: event, payload: payload})
}

func (b *recordingBroadcaster) snapshot() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcastCall(nil), b.calls...)
}

// mockTokenVerifier はmiddleware.TokenVerifierのモック実装。
type mockTokenVerifier struct {
	tokens map[string]model.UserIdentity
}

func (m *mockTokenVerifier) VerifyToken(token string) (model.UserIdentity, error) {
	if identity, ok := m.tokens[token]; ok {
		return identity, nil
	}
	return model.UserIdentity{}, auth.ErrInvalidToken
}

// --- テストヘルパー ---

var testIdentity = model.UserIdentity{ID: "user-123", Handle: "alice"}

// withIdentity はテスト用にリクエストコンテキストに認証済みユーザーを注入するヘルパー。
func withIdentity(r *http.Request, identity model.UserIdentity) *http.Request {
	return r.WithContext(middleware.ContextWithIdentity(r.Context(), identity))
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディをdstにデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
}
