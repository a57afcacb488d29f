// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/feereminder/internal/model"
)

// ErrDuplicateUsername はユーザー名の一意制約違反を表す。
var ErrDuplicateUsername = errors.New("username already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。ユーザー名が重複する場合はErrDuplicateUsernameを返す。
	Create(ctx context.Context, user *model.User) error
}

// RecipientRepository は送信先（生徒）データの永続化インターフェース。
// 一覧系のメソッドはアップロード時の行順で返す。
type RecipientRepository interface {
	// ListByOwner はユーザーの送信先一覧を返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Recipient, error)

	// ReplaceAll はユーザーの送信先を同一トランザクションで入れ替える。
	ReplaceAll(ctx context.Context, ownerID string, recipients []*model.Recipient) error

	// MarkReminderSent は電話番号が一致する送信先の最終送信日時を更新する。
	MarkReminderSent(ctx context.Context, ownerID, phone string, at time.Time) error

	// ListDueForReminder はdayにリマインド対象となる未送信の送信先を全ユーザー分返す。
	// リマインド日はreminder_date、未設定ならdue_date + leadDaysとする。
	ListDueForReminder(ctx context.Context, day time.Time, leadDays int) ([]*model.Recipient, error)

	// MarkScheduledSent は日次送信の送信済みフラグと最終送信日時を更新する。
	MarkScheduledSent(ctx context.Context, id string, at time.Time) error

	// SetReminderDate はリマインド日を設定し、送信済みフラグを戻す。
	// 対象が存在しない場合はfalseを返す。
	SetReminderDate(ctx context.Context, ownerID, id string, day time.Time) (bool, error)
}

// TemplateRepository はメッセージテンプレートの永続化インターフェース。
type TemplateRepository interface {
	// FindByUserID はユーザーのテンプレートを取得する。未保存の場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.MessageTemplate, error)

	// Upsert はテンプレートを作成または更新する。
	Upsert(ctx context.Context, tmpl *model.MessageTemplate) error
}
