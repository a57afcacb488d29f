// Package recipient は送信先（生徒）一覧の取り込みと管理を提供する。
package recipient

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"

	"github.com/hitoshi/feereminder/internal/model"
	"github.com/hitoshi/feereminder/internal/security"
)

// localNumberMaxDigits 以下の桁数の電話番号には既定の国番号を付与する。
const localNumberMaxDigits = 10

// 読み取り可能な期日の書式。日付セルはシリアル値として別途解釈する。
var dueDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
}

// Row は取り込み対象の1行。検証タグで必須項目と書式を定義する。
type Row struct {
	Name    string  `validate:"required,max=200"`
	Phone   string  `validate:"required,e164"`
	Amount  float64 `validate:"gte=0"`
	DueDate *time.Time
}

// Importer はExcelファイルから送信先一覧を読み取る。
type Importer struct {
	validate    *validator.Validate
	sanitizer   security.TextSanitizer
	countryCode string
}

// NewImporter はImporterを生成する。countryCodeは国番号（数字のみ、例: "91"）。
func NewImporter(countryCode string, sanitizer security.TextSanitizer) *Importer {
	return &Importer{
		validate:    validator.New(),
		sanitizer:   sanitizer,
		countryCode: strings.TrimPrefix(countryCode, "+"),
	}
}

type columns struct {
	name, phone, amount, dueDate int
}

// Parse は先頭シートを読み取り、Name・Phone・Amount・DueDate列から行を組み立てる。
// 1行でも不正な行があれば*model.APIErrorを返す。
func (im *Importer) Parse(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, model.NewInvalidSpreadsheetError("Excelファイルとして読み込めません")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, model.NewInvalidSpreadsheetError("シートがありません")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, model.NewInvalidSpreadsheetError("ヘッダー行がありません")
	}

	cols, err := findColumns(rows[0])
	if err != nil {
		return nil, err
	}

	var result []Row
	for i, cells := range rows[1:] {
		if isBlank(cells) {
			continue
		}
		line := i + 2
		row, err := im.parseRow(cells, cols)
		if err != nil {
			return nil, model.NewInvalidSpreadsheetError(fmt.Sprintf("%d行目: %v", line, err))
		}
		if err := im.validate.Struct(row); err != nil {
			return nil, model.NewInvalidSpreadsheetError(fmt.Sprintf("%d行目（%s）: %s", line, row.Name, describeValidation(err)))
		}
		result = append(result, row)
	}

	if len(result) == 0 {
		return nil, model.NewInvalidSpreadsheetError("データ行がありません")
	}
	return result, nil
}

func findColumns(header []string) (columns, error) {
	cols := columns{name: -1, phone: -1, amount: -1, dueDate: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "name":
			cols.name = i
		case "phone":
			cols.phone = i
		case "amount":
			cols.amount = i
		case "duedate", "due date":
			cols.dueDate = i
		}
	}
	var missing []string
	if cols.name < 0 {
		missing = append(missing, "Name")
	}
	if cols.phone < 0 {
		missing = append(missing, "Phone")
	}
	if cols.amount < 0 {
		missing = append(missing, "Amount")
	}
	if len(missing) > 0 {
		return cols, model.NewInvalidSpreadsheetError("列がありません: " + strings.Join(missing, ", "))
	}
	return cols, nil
}

func (im *Importer) parseRow(cells []string, cols columns) (Row, error) {
	row := Row{
		Name:  im.sanitizer.Sanitize(cell(cells, cols.name)),
		Phone: NormalizePhone(cell(cells, cols.phone), im.countryCode),
	}

	rawAmount := strings.ReplaceAll(cell(cells, cols.amount), ",", "")
	if rawAmount == "" {
		return row, errors.New("Amountが空です")
	}
	amount, err := strconv.ParseFloat(rawAmount, 64)
	if err != nil {
		return row, fmt.Errorf("Amountが数値ではありません: %q", rawAmount)
	}
	row.Amount = amount

	if cols.dueDate >= 0 {
		due, err := ParseDueDate(cell(cells, cols.dueDate))
		if err != nil {
			return row, err
		}
		row.DueDate = due
	}
	return row, nil
}

// NormalizePhone は数字以外を除去して先頭に+を付ける。
// 桁数が国内番号相当の場合はcountryCodeを前置する。数字がなければ空文字列を返す。
func NormalizePhone(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")
	if digits == "" {
		return ""
	}
	if len(digits) <= localNumberMaxDigits && countryCode != "" {
		digits = countryCode + digits
	}
	return "+" + digits
}

// ParseDueDate は期日セルを解釈する。空の場合はnilを返す。
// 日付セルのシリアル値と、dueDateLayoutsの文字列表記を受け付ける。
func ParseDueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return nil, fmt.Errorf("DueDateを日付として解釈できません: %q", raw)
		}
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &d, nil
	}
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("DueDateを日付として解釈できません: %q", raw)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+"は必須です")
		case "e164":
			msgs = append(msgs, fmt.Sprintf("Phoneの形式が不正です: %v", fe.Value()))
		case "gte":
			msgs = append(msgs, "Amountは0以上である必要があります")
		default:
			msgs = append(msgs, fmt.Sprintf("%sが不正です", fe.Field()))
		}
	}
	return strings.Join(msgs, "、")
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
