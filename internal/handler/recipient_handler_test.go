package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/feereminder/internal/model"
)

const testMaxUpload = 1 << 20

// newUploadRequest はexcelFileフィールドにcontentを持つマルチパートリクエストを生成する。
func newUploadRequest(t *testing.T, field string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "students.xlsx")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(content)
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/upload-excel", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return withIdentity(req, testIdentity)
}

func sampleRecipients() []*model.Recipient {
	due := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	remind := time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC)
	return []*model.Recipient{
		{ID: "r1", OwnerID: testIdentity.ID, Name: "Asha", Phone: "+919876543210", Amount: 1500, DueDate: &due},
		{ID: "r2", OwnerID: testIdentity.ID, Name: "Ravi", Phone: "+919812345678", Amount: 0, ReminderDate: &remind, Sent: true},
	}
}

// TestRecipientHandler_UploadExcel_Success はアップロードしたファイルがサービスに渡され、一覧が返ることを検証する。
func TestRecipientHandler_UploadExcel_Success(t *testing.T) {
	var gotOwner string
	var gotContent []byte
	h := NewRecipientHandler(&mockRecipientService{
		importFn: func(ctx context.Context, ownerID string, r io.Reader) ([]*model.Recipient, error) {
			gotOwner = ownerID
			gotContent, _ = io.ReadAll(r)
			return sampleRecipients(), nil
		},
	}, testMaxUpload)

	w := httptest.NewRecorder()
	h.UploadExcel(w, newUploadRequest(t, uploadFieldName, []byte("xlsx-bytes")))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if gotOwner != testIdentity.ID {
		t.Errorf("ownerID = %q, want %q", gotOwner, testIdentity.ID)
	}
	if string(gotContent) != "xlsx-bytes" {
		t.Errorf("content = %q, want %q", gotContent, "xlsx-bytes")
	}

	var body studentsResponse
	decodeBody(t, w, &body)
	if !body.Success || len(body.Students) != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.Students[0].DueDate != "2026-03-31" {
		t.Errorf("dueDate = %q, want %q", body.Students[0].DueDate, "2026-03-31")
	}
	if body.Students[1].ReminderDate != "2026-04-05" || !body.Students[1].Sent {
		t.Errorf("students[1] = %+v", body.Students[1])
	}
}

// TestRecipientHandler_UploadExcel_MissingFile はファイルフィールドがない場合に400を返すことを検証する。
func TestRecipientHandler_UploadExcel_MissingFile(t *testing.T) {
	called := false
	h := NewRecipientHandler(&mockRecipientService{
		importFn: func(ctx context.Context, ownerID string, r io.Reader) ([]*model.Recipient, error) {
			called = true
			return nil, nil
		},
	}, testMaxUpload)

	w := httptest.NewRecorder()
	h.UploadExcel(w, newUploadRequest(t, "otherField", []byte("data")))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if called {
		t.Error("Import should not be called without a file")
	}
}

// TestRecipientHandler_UploadExcel_TooLarge は上限を超えるアップロードを拒否することを検証する。
func TestRecipientHandler_UploadExcel_TooLarge(t *testing.T) {
	called := false
	h := NewRecipientHandler(&mockRecipientService{
		importFn: func(ctx context.Context, ownerID string, r io.Reader) ([]*model.Recipient, error) {
			called = true
			return nil, nil
		},
	}, 64)

	w := httptest.NewRecorder()
	h.UploadExcel(w, newUploadRequest(t, uploadFieldName, bytes.Repeat([]byte("x"), 4096)))

	if w.Code == http.StatusOK {
		t.Fatalf("status = %d, want an error status", w.Code)
	}
	if called {
		t.Error("Import should not be called for an oversized upload")
	}
}

// TestRecipientHandler_UploadExcel_InvalidSpreadsheet は内容不正のファイルで400を返すことを検証する。
func TestRecipientHandler_UploadExcel_InvalidSpreadsheet(t *testing.T) {
	h := NewRecipientHandler(&mockRecipientService{
		importFn: func(ctx context.Context, ownerID string, r io.Reader) ([]*model.Recipient, error) {
			return nil, model.NewInvalidSpreadsheetError("2行目: Amountが空です")
		},
	}, testMaxUpload)

	w := httptest.NewRecorder()
	h.UploadExcel(w, newUploadRequest(t, uploadFieldName, []byte("bad")))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	resp := parseAPIErrorResponse(t, w)
	if resp["code"] != model.ErrCodeInvalidSpreadsheet {
		t.Errorf("code = %q, want %q", resp["code"], model.ErrCodeInvalidSpreadsheet)
	}
	if !strings.Contains(resp["message"], "2行目") {
		t.Errorf("message = %q, want row number", resp["message"])
	}
}

// TestRecipientHandler_ListStudents は生徒一覧を返すことを検証する。
func TestRecipientHandler_ListStudents(t *testing.T) {
	h := NewRecipientHandler(&mockRecipientService{
		listFn: func(ctx context.Context, ownerID string) ([]*model.Recipient, error) {
			if ownerID != testIdentity.ID {
				t.Errorf("ownerID = %q, want %q", ownerID, testIdentity.ID)
			}
			return sampleRecipients(), nil
		},
	}, testMaxUpload)

	w := httptest.NewRecorder()
	h.ListStudents(w, withIdentity(httptest.NewRequest(http.MethodGet, "/api/students", nil), testIdentity))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body studentsResponse
	decodeBody(t, w, &body)
	if len(body.Students) != 2 || body.Students[0].Name != "Asha" || body.Students[0].Phone != "+919876543210" {
		t.Errorf("students = %+v", body.Students)
	}
}

// TestRecipientHandler_ListStudents_Empty は生徒がいない場合に空配列を返すことを検証する。
func TestRecipientHandler_ListStudents_Empty(t *testing.T) {
	h := NewRecipientHandler(&mockRecipientService{}, testMaxUpload)

	w := httptest.NewRecorder()
	h.ListStudents(w, withIdentity(httptest.NewRequest(http.MethodGet, "/api/students", nil), testIdentity))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"students":[]`) {
		t.Errorf("body = %s, want empty students array", w.Body.String())
	}
}

// TestRecipientHandler_ScheduleReminder はリクエストの内容がサービスに渡ることを検証する。
func TestRecipientHandler_ScheduleReminder(t *testing.T) {
	var gotID, gotDate string
	h := NewRecipientHandler(&mockRecipientService{
		scheduleReminderFn: func(ctx context.Context, ownerID, recipientID, date string) error {
			gotID, gotDate = recipientID, date
			return nil
		},
	}, testMaxUpload)

	req := httptest.NewRequest(http.MethodPost, "/api/schedule-reminder", strings.NewReader(`{"studentId":"r1","date":"2026-04-05"}`))
	w := httptest.NewRecorder()
	h.ScheduleReminder(w, withIdentity(req, testIdentity))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotID != "r1" || gotDate != "2026-04-05" {
		t.Errorf("ScheduleReminder called with (%q, %q)", gotID, gotDate)
	}
}

// TestRecipientHandler_ScheduleReminder_NotFound は他ユーザーまたは存在しない生徒で404を返すことを検証する。
func TestRecipientHandler_ScheduleReminder_NotFound(t *testing.T) {
	h := NewRecipientHandler(&mockRecipientService{
		scheduleReminderFn: func(ctx context.Context, ownerID, recipientID, date string) error {
			return model.NewRecipientNotFoundError(recipientID)
		},
	}, testMaxUpload)

	req := httptest.NewRequest(http.MethodPost, "/api/schedule-reminder", strings.NewReader(`{"studentId":"missing","date":"2026-04-05"}`))
	w := httptest.NewRecorder()
	h.ScheduleReminder(w, withIdentity(req, testIdentity))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
