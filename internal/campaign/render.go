package campaign

import (
	"strconv"
	"strings"

	"github.com/hitoshi/feereminder/internal/model"
)

// RenderTemplate はテンプレート中の {{name}}、{{amount}}、{{dueDate}} を送信先の値で置換する。
// 未知のプレースホルダーはそのまま残す。
func RenderTemplate(tmpl string, rec *model.Recipient) string {
	return strings.NewReplacer(
		"{{name}}", rec.Name,
		"{{amount}}", FormatAmount(rec.Amount),
		"{{dueDate}}", rec.DueDateString(),
	).Replace(tmpl)
}

// FormatAmount は金額を余分な0を付けずに文字列化する（500 -> "500", 500.5 -> "500.5"）。
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// NormalizeAddress は電話番号から数字以外を除去し、@domainを付与した送信先アドレスを返す。
// 数字が1つも含まれない場合は空文字列を返す。
func NormalizeAddress(phone, domain string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String() + "@" + domain
}
