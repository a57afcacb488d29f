package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/feereminder/internal/model"
	"github.com/hitoshi/feereminder/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn       func(ctx context.Context, id string) (*model.User, error)
	findByUsernameFn func(ctx context.Context, username string) (*model.User, error)
	createFn         func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func newTestService(repo *mockUserRepo) *Service {
	return NewService(repo, NewTokenIssuer("test-secret", time.Hour), ServiceConfig{BcryptCost: bcrypt.MinCost})
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword failed: %v", err)
	}
	return string(hash)
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %q, want %q", apiErr.Code, code)
	}
}

// --- Register ---

// TestService_Register はパスワードがハッシュ化されて保存されることを検証する。
func TestService_Register(t *testing.T) {
	var created *model.User
	svc := newTestService(&mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			created = user
			return nil
		},
	})

	user, err := svc.Register(context.Background(), "  admin  ", "correct-horse")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if created == nil {
		t.Fatal("Create was not called")
	}
	if user.ID == "" || user.ID != created.ID {
		t.Errorf("ID = %q, created ID = %q", user.ID, created.ID)
	}
	if created.Username != "admin" {
		t.Errorf("Username = %q, want %q", created.Username, "admin")
	}
	if created.PasswordHash == "correct-horse" {
		t.Error("password must not be stored in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("correct-horse")); err != nil {
		t.Errorf("stored hash does not match password: %v", err)
	}
}

func TestService_Register_DuplicateUsername(t *testing.T) {
	svc := newTestService(&mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			return repository.ErrDuplicateUsername
		},
	})

	_, err := svc.Register(context.Background(), "admin", "correct-horse")
	assertAPIErrorCode(t, err, model.ErrCodeUsernameTaken)
}

func TestService_Register_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "ユーザー名が空", username: " ", password: "correct-horse"},
		{name: "パスワードが空", username: "admin", password: ""},
		{name: "パスワードが短い", username: "admin", password: "short"},
		{name: "パスワードが長すぎる", username: "admin", password: strings.Repeat("p", 73)},
		{name: "ユーザー名が長すぎる", username: strings.Repeat("u", 65), password: "correct-horse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(&mockUserRepo{
				createFn: func(ctx context.Context, user *model.User) error {
					t.Error("Create should not be called")
					return nil
				},
			})
			_, err := svc.Register(context.Background(), tt.username, tt.password)
			assertAPIErrorCode(t, err, model.ErrCodeInvalidRequest)
		})
	}
}

func TestService_Register_RepoError(t *testing.T) {
	dbErr := errors.New("db down")
	svc := newTestService(&mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			return dbErr
		},
	})

	if _, err := svc.Register(context.Background(), "admin", "correct-horse"); !errors.Is(err, dbErr) {
		t.Errorf("expected wrapped db error, got %v", err)
	}
}

// --- Login ---

// TestService_Login は正しい認証情報で検証可能なトークンが発行されることを検証する。
func TestService_Login(t *testing.T) {
	hash := hashPassword(t, "correct-horse")
	svc := newTestService(&mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*model.User, error) {
			if username != "admin" {
				return nil, nil
			}
			return &model.User{ID: "user-1", Username: "admin", PasswordHash: hash}, nil
		},
	})

	result, err := svc.Login(context.Background(), "admin", "correct-horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.Token == "" {
		t.Fatal("token should not be empty")
	}
	if result.User.ID != "user-1" || result.User.Handle != "admin" {
		t.Errorf("unexpected user: %+v", result.User)
	}

	identity, err := svc.VerifyToken(result.Token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if identity.ID != "user-1" {
		t.Errorf("identity.ID = %q, want %q", identity.ID, "user-1")
	}
}

// TestService_Login_InvalidCredentials はユーザー不在とパスワード不一致を区別しないことを検証する。
func TestService_Login_InvalidCredentials(t *testing.T) {
	hash := hashPassword(t, "correct-horse")
	svc := newTestService(&mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*model.User, error) {
			if username != "admin" {
				return nil, nil
			}
			return &model.User{ID: "user-1", Username: "admin", PasswordHash: hash}, nil
		},
	})

	if _, err := svc.Login(context.Background(), "admin", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_Login_RepoError(t *testing.T) {
	dbErr := errors.New("db down")
	svc := newTestService(&mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*model.User, error) {
			return nil, dbErr
		},
	})

	_, err := svc.Login(context.Background(), "admin", "correct-horse")
	if !errors.Is(err, dbErr) {
		t.Errorf("expected wrapped db error, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Error("db failure must not be reported as invalid credentials")
	}
}

// --- GetCurrentUser ---

func TestService_GetCurrentUser(t *testing.T) {
	svc := newTestService(&mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == "user-1" {
				return &model.User{ID: "user-1", Username: "admin"}, nil
			}
			return nil, nil
		},
	})

	user, err := svc.GetCurrentUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetCurrentUser failed: %v", err)
	}
	if user.Username != "admin" {
		t.Errorf("Username = %q, want %q", user.Username, "admin")
	}

	_, err = svc.GetCurrentUser(context.Background(), "user-404")
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
}
