// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザー入力（メッセージテンプレートや生徒名）からマークアップを除去する。
// 送信本文はプレーンテキストとして扱われるため、タグは一切通さない。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト化のインターフェース。
type TextSanitizer interface {
	// Sanitize はタグを除去したプレーンテキストを返す。
	// 改行やプレースホルダー（{{name}}など）はそのまま残す。
	Sanitize(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyを使用したTextSanitizerの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エスケープされた文字を元に戻す。
// StrictPolicyは&や'をエンティティ化するため、WhatsAppで表示される本文に合わせて復元する。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
