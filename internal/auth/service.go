// Package auth はユーザー登録・パスワード認証・アクセストークンの発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/feereminder/internal/model"
	"github.com/hitoshi/feereminder/internal/repository"
)

const (
	minPasswordLength = 8
	maxUsernameLength = 64
	// bcryptは72バイトを超える入力を拒否する。
	maxPasswordBytes = 72
)

// ErrInvalidCredentials はユーザー名またはパスワードの不一致を表す。
var ErrInvalidCredentials = errors.New("invalid credentials")

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	BcryptCost int
}

// LoginResult はログイン成功時に返すトークンとユーザー情報。
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      model.UserIdentity
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	tokens   *TokenIssuer
	cost     int
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, tokens *TokenIssuer, config ServiceConfig) *Service {
	cost := config.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		userRepo: userRepo,
		tokens:   tokens,
		cost:     cost,
		now:      time.Now,
	}
}

// Register はユーザーを登録する。ユーザー名が使用済みの場合はUSERNAME_TAKENを返す。
func (s *Service) Register(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			return nil, model.NewUsernameTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

// Login はユーザー名とパスワードを検証してアクセストークンを発行する。
// ユーザーが存在しない場合もパスワード不一致と同じErrInvalidCredentialsを返す。
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.userRepo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	identity := user.Identity()
	token, expiresAt, err := s.tokens.Issue(identity)
	if err != nil {
		return nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: identity}, nil
}

// GetCurrentUser はユーザーIDからユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// VerifyToken はアクセストークンを検証する。
func (s *Service) VerifyToken(token string) (model.UserIdentity, error) {
	return s.tokens.Verify(token)
}

func validateCredentials(username, password string) error {
	if username == "" || password == "" {
		return model.NewInvalidRequestError("usernameとpasswordは必須です")
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return model.NewInvalidRequestError(fmt.Sprintf("usernameは%d文字以内で指定してください", maxUsernameLength))
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return model.NewInvalidRequestError(fmt.Sprintf("passwordは%d文字以上で指定してください", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return model.NewInvalidRequestError(fmt.Sprintf("passwordは%dバイト以内で指定してください", maxPasswordBytes))
	}
	return nil
}
