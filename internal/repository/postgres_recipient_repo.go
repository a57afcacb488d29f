package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/feereminder/internal/model"
)

// recipientColumns はrecipientsテーブルのSELECT列。scanRecipientと順序を合わせる。
const recipientColumns = `id, owner_id, name, phone, amount, due_date, last_reminder_sent, reminder_date, sent, created_at`

// PostgresRecipientRepo はPostgreSQLを使用した送信先リポジトリ。
type PostgresRecipientRepo struct {
	db *sql.DB
}

// NewPostgresRecipientRepo はPostgresRecipientRepoを生成する。
func NewPostgresRecipientRepo(db *sql.DB) *PostgresRecipientRepo {
	return &PostgresRecipientRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (*model.Recipient, error) {
	rec := &model.Recipient{}
	var dueDate, lastSent, reminderDate sql.NullTime
	if err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.Name, &rec.Phone, &rec.Amount,
		&dueDate, &lastSent, &reminderDate, &rec.Sent, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.DueDate = nullTimePtr(dueDate)
	rec.LastReminderSent = nullTimePtr(lastSent)
	rec.ReminderDate = nullTimePtr(reminderDate)
	return rec, nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(model.DateLayout)
}

func (r *PostgresRecipientRepo) queryList(ctx context.Context, query string, args ...any) ([]*model.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []*model.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recipients, nil
}

// ListByOwner はユーザーの送信先一覧をアップロード時の行順で返す。
func (r *PostgresRecipientRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Recipient, error) {
	recipients, err := r.queryList(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE owner_id = $1 ORDER BY position`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recipients, nil
}

// ReplaceAll はユーザーの送信先を同一トランザクションで入れ替える。
// スライスの順序がpositionとして保存される。
func (r *PostgresRecipientRepo) ReplaceAll(ctx context.Context, ownerID string, recipients []*model.Recipient) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipients WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("failed to delete recipients: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO recipients (id, owner_id, position, name, phone, amount, due_date, reminder_date, sent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare recipient insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range recipients {
		if _, err := stmt.ExecContext(ctx,
			rec.ID, ownerID, i, rec.Name, rec.Phone, rec.Amount,
			dateArg(rec.DueDate), dateArg(rec.ReminderDate), rec.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert recipient %q: %w", rec.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkReminderSent は電話番号が一致する送信先の最終送信日時を更新する。
func (r *PostgresRecipientRepo) MarkReminderSent(ctx context.Context, ownerID, phone string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recipients SET last_reminder_sent = $3 WHERE owner_id = $1 AND phone = $2`,
		ownerID, phone, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update last reminder sent: %w", err)
	}
	return nil
}

// ListDueForReminder はdayにリマインド対象となる未送信の送信先を返す。
// ユーザーごとにまとめ、各ユーザー内はアップロード時の行順で返す。
func (r *PostgresRecipientRepo) ListDueForReminder(ctx context.Context, day time.Time, leadDays int) ([]*model.Recipient, error) {
	recipients, err := r.queryList(ctx,
		`SELECT `+recipientColumns+` FROM recipients
		 WHERE sent = FALSE
		   AND COALESCE(reminder_date, due_date + $2::int) = $1::date
		 ORDER BY owner_id, position`,
		day.Format(model.DateLayout), leadDays,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due recipients: %w", err)
	}
	return recipients, nil
}

// MarkScheduledSent は日次送信の送信済みフラグと最終送信日時を更新する。
func (r *PostgresRecipientRepo) MarkScheduledSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE recipients SET sent = TRUE, last_reminder_sent = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark recipient sent: %w", err)
	}
	return nil
}

// SetReminderDate はリマインド日を設定し、送信済みフラグを戻す。
func (r *PostgresRecipientRepo) SetReminderDate(ctx context.Context, ownerID, id string, day time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE recipients SET reminder_date = $3, sent = FALSE WHERE owner_id = $1 AND id = $2`,
		ownerID, id, day.Format(model.DateLayout),
	)
	if err != nil {
		return false, fmt.Errorf("failed to set reminder date: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ RecipientRepository = (*PostgresRecipientRepo)(nil)
