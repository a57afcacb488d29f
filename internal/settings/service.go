// Package settings はユーザーごとのメッセージテンプレート設定を提供する。
package settings

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/feereminder/internal/model"
	"github.com/hitoshi/feereminder/internal/repository"
	"github.com/hitoshi/feereminder/internal/security"
)

// MaxTemplateLength はテンプレート本文の最大文字数。
const MaxTemplateLength = 4096

// Service はメッセージテンプレートの参照と更新を提供する。
type Service struct {
	repo      repository.TemplateRepository
	sanitizer security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.TemplateRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// GetTemplate はユーザーのテンプレート本文を返す。未保存の場合は既定の本文を返す。
func (s *Service) GetTemplate(ctx context.Context, userID string) (string, error) {
	tmpl, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to find message template: %w", err)
	}
	if tmpl == nil || tmpl.Body == "" {
		return model.DefaultMessageTemplate, nil
	}
	return tmpl.Body, nil
}

// UpdateTemplate はマークアップを除去した本文を保存し、保存した本文を返す。
func (s *Service) UpdateTemplate(ctx context.Context, userID, body string) (string, error) {
	clean := s.sanitizer.Sanitize(body)
	if clean == "" {
		return "", model.NewInvalidRequestError("messageTemplateは必須です")
	}
	if utf8.RuneCountInString(clean) > MaxTemplateLength {
		return "", model.NewInvalidRequestError(fmt.Sprintf("messageTemplateは%d文字以内で指定してください", MaxTemplateLength))
	}

	tmpl := &model.MessageTemplate{
		UserID:    userID,
		Body:      clean,
		UpdatedAt: s.now(),
	}
	if err := s.repo.Upsert(ctx, tmpl); err != nil {
		return "", fmt.Errorf("failed to save message template: %w", err)
	}
	return clean, nil
}
