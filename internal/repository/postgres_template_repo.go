package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/feereminder/internal/model"
)

// PostgresTemplateRepo はPostgreSQLを使用したメッセージテンプレートリポジトリ。
type PostgresTemplateRepo struct {
	db *sql.DB
}

// NewPostgresTemplateRepo はPostgresTemplateRepoを生成する。
func NewPostgresTemplateRepo(db *sql.DB) *PostgresTemplateRepo {
	return &PostgresTemplateRepo{db: db}
}

// FindByUserID はユーザーのテンプレートを取得する。未保存の場合はnilを返す。
func (r *PostgresTemplateRepo) FindByUserID(ctx context.Context, userID string) (*model.MessageTemplate, error) {
	tmpl := &model.MessageTemplate{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, body, updated_at FROM message_templates WHERE user_id = $1`,
		userID,
	).Scan(&tmpl.UserID, &tmpl.Body, &tmpl.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message template: %w", err)
	}
	return tmpl, nil
}

// Upsert はテンプレートを作成または更新する。
func (r *PostgresTemplateRepo) Upsert(ctx context.Context, tmpl *model.MessageTemplate) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_templates (user_id, body, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		tmpl.UserID, tmpl.Body, tmpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message template: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TemplateRepository = (*PostgresTemplateRepo)(nil)
