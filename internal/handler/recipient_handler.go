package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/feereminder/internal/model"
)

const uploadFieldName = "excelFile"

// RecipientServiceInterface は生徒（送信先）ハンドラーが必要とするサービスインターフェース。
type RecipientServiceInterface interface {
	// Import はスプレッドシートを解析し、ユーザーの送信先を置き換える。
	Import(ctx context.Context, ownerID string, r io.Reader) ([]*model.Recipient, error)
	List(ctx context.Context, ownerID string) ([]*model.Recipient, error)
	ScheduleReminder(ctx context.Context, ownerID, recipientID, date string) error
}

// RecipientHandler は生徒一覧のアップロード・取得・リマインド日指定のHTTPハンドラー。
type RecipientHandler struct {
	service       RecipientServiceInterface
	maxUploadSize int64
}

// NewRecipientHandler はRecipientHandlerを生成する。
func NewRecipientHandler(service RecipientServiceInterface, maxUploadSize int64) *RecipientHandler {
	return &RecipientHandler{
		service:       service,
		maxUploadSize: maxUploadSize,
	}
}

// studentResponse は生徒情報のAPIレスポンス。
type studentResponse struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Phone            string     `json:"phone"`
	Amount           float64    `json:"amount"`
	DueDate          string     `json:"dueDate"`
	LastReminderSent *time.Time `json:"lastReminderSent,omitempty"`
	ReminderDate     string     `json:"reminderDate,omitempty"`
	Sent             bool       `json:"sent"`
}

// studentsResponse は生徒一覧のAPIレスポンス。
type studentsResponse struct {
	Success  bool              `json:"success"`
	Message  string            `json:"message,omitempty"`
	Students []studentResponse `json:"students"`
}

// scheduleReminderRequest はリマインド日指定リクエストのボディ。
type scheduleReminderRequest struct {
	StudentID string `json:"studentId"`
	Date      string `json:"date"`
}

// UploadExcel はスプレッドシートを取り込み、生徒一覧を置き換える。
// POST /api/upload-excel
func (h *RecipientHandler) UploadExcel(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	file, _, err := r.FormFile(uploadFieldName)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewInvalidRequestError("ファイルサイズが上限を超えています"))
		case errors.Is(err, http.ErrMissingFile):
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("ファイルがアップロードされていません"))
		default:
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("マルチパートフォームの解析に失敗しました"))
		}
		return
	}
	defer file.Close()

	recipients, err := h.service.Import(r.Context(), identity.ID, file)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("spreadsheet imported",
		slog.String("user_id", identity.ID),
		slog.Int("recipients", len(recipients)),
	)
	writeJSON(w, http.StatusOK, studentsResponse{
		Success:  true,
		Message:  "File uploaded successfully",
		Students: toStudentResponses(recipients),
	})
}

// ListStudents はユーザーの生徒一覧を返す。
// GET /api/students
func (h *RecipientHandler) ListStudents(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	recipients, err := h.service.List(r.Context(), identity.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, studentsResponse{
		Success:  true,
		Students: toStudentResponses(recipients),
	})
}

// ScheduleReminder は生徒のリマインド日を指定し、送信済みフラグを戻す。
// POST /api/schedule-reminder
func (h *RecipientHandler) ScheduleReminder(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	var req scheduleReminderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.service.ScheduleReminder(r.Context(), identity.ID, req.StudentID, req.Date); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// toStudentResponses はmodel.RecipientのスライスをAPIレスポンスに変換する。
func toStudentResponses(recipients []*model.Recipient) []studentResponse {
	result := make([]studentResponse, 0, len(recipients))
	for _, rec := range recipients {
		resp := studentResponse{
			ID:               rec.ID,
			Name:             rec.Name,
			Phone:            rec.Phone,
			Amount:           rec.Amount,
			DueDate:          rec.DueDateString(),
			LastReminderSent: rec.LastReminderSent,
			Sent:             rec.Sent,
		}
		if rec.ReminderDate != nil {
			resp.ReminderDate = rec.ReminderDate.Format(model.DateLayout)
		}
		result = append(result, resp)
	}
	return result
}
