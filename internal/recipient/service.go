package recipient

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feereminder/internal/model"
	"github.com/hitoshi/feereminder/internal/repository"
)

// Service は送信先一覧の取り込み・参照・リマインド日設定を提供する。
type Service struct {
	repo     repository.RecipientRepository
	importer *Importer
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.RecipientRepository, importer *Importer) *Service {
	return &Service{
		repo:     repo,
		importer: importer,
		now:      time.Now,
	}
}

// Import はExcelファイルを読み取り、ユーザーの送信先一覧を丸ごと置き換える。
// ファイルが不正な場合は既存の一覧を変更しない。
func (s *Service) Import(ctx context.Context, ownerID string, r io.Reader) ([]*model.Recipient, error) {
	rows, err := s.importer.Parse(r)
	if err != nil {
		return nil, err
	}

	now := s.now()
	recipients := make([]*model.Recipient, 0, len(rows))
	for _, row := range rows {
		recipients = append(recipients, &model.Recipient{
			ID:        uuid.New().String(),
			OwnerID:   ownerID,
			Name:      row.Name,
			Phone:     row.Phone,
			Amount:    row.Amount,
			DueDate:   row.DueDate,
			CreatedAt: now,
		})
	}

	if err := s.repo.ReplaceAll(ctx, ownerID, recipients); err != nil {
		return nil, fmt.Errorf("failed to replace recipients: %w", err)
	}
	return recipients, nil
}

// List はユーザーの送信先一覧を返す。
func (s *Service) List(ctx context.Context, ownerID string) ([]*model.Recipient, error) {
	recipients, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recipients, nil
}

// ScheduleReminder は送信先のリマインド日を設定し、日次送信の対象に戻す。
// dateはyyyy-mm-dd形式。
func (s *Service) ScheduleReminder(ctx context.Context, ownerID, recipientID, date string) error {
	if recipientID == "" {
		return model.NewInvalidRequestError("studentIdは必須です")
	}
	day, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return model.NewInvalidRequestError("dateはyyyy-mm-dd形式で指定してください")
	}

	ok, err := s.repo.SetReminderDate(ctx, ownerID, recipientID, day)
	if err != nil {
		return fmt.Errorf("failed to schedule reminder: %w", err)
	}
	if !ok {
		return model.NewRecipientNotFoundError(recipientID)
	}
	return nil
}
