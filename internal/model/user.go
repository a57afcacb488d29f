// Package model はドメインモデルを定義する。
package model

import "time"

// User はダッシュボードを利用する管理者ユーザーを表す。
// パスワードハッシュは認証サービスのみが参照する。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserIdentity は認証済みユーザーの識別情報を表す。
// 登録時に発行され、以後変更されない。セッション管理はこの値を参照のみする。
type UserIdentity struct {
	ID     string // 不変の一意識別子
	Handle string // ユーザー名または電話番号
}

// Identity はUserからUserIdentityを取り出す。
func (u *User) Identity() UserIdentity {
	return UserIdentity{ID: u.ID, Handle: u.Username}
}
