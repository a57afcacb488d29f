package repository

import (
	"testing"
	"time"

	"github.com/hitoshi/feereminder/internal/model"
)

const (
	ownerA = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	ownerB = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
)

func newRecipient(id, name, phone, due string) *model.Recipient {
	rec := &model.Recipient{
		ID:        id,
		Name:      name,
		Phone:     phone,
		Amount:    1500,
		CreatedAt: time.Now().UTC(),
	}
	if due != "" {
		rec.DueDate = datePtr(due)
	}
	return rec
}

func TestPostgresRecipientRepo_ReplaceAll_PreservesOrder(t *testing.T) {
	db := setupTestDB(t)
	createTestUser(t, db, ownerA, "alice")
	repo := NewPostgresRecipientRepo(db)

	first := []*model.Recipient{
		newRecipient("10000000-0000-0000-0000-000000000001", "Old", "+911111111111", ""),
	}
	if err := repo.ReplaceAll(t.Context(), ownerA, first); err != nil {
		t.Fatalf("ReplaceAll returned error: %v", err)
	}

	second := []*model.Recipient{
		newRecipient("20000000-0000-0000-0000-000000000002", "Zara", "+919876543210", "2026-10-01"),
		newRecipient("20000000-0000-0000-0000-000000000001", "Asha", "+919876543211", ""),
	}
	if err := repo.ReplaceAll(t.Context(), ownerA, second); err != nil {
		t.Fatalf("ReplaceAll returned error: %v", err)
	}

	got, err := repo.ListByOwner(t.Context(), ownerA)
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Name != "Zara" || got[1].Name != "Asha" {
		t.Errorf("order = [%s %s], want [Zara Asha]", got[0].Name, got[1].Name)
	}
	if got[0].DueDateString() != "2026-10-01" {
		t.Errorf("DueDate = %q, want 2026-10-01", got[0].DueDateString())
	}
	if got[1].DueDate != nil {
		t.Errorf("DueDate should be nil, got %v", got[1].DueDate)
	}
}

func TestPostgresRecipientRepo_MarkReminderSent_ByPhone(t *testing.T) {
	db := setupTestDB(t)
	createTestUser(t, db, ownerA, "alice")
	repo := NewPostgresRecipientRepo(db)

	recs := []*model.Recipient{
		newRecipient("30000000-0000-0000-0000-000000000001", "Asha", "+919876543210", ""),
		newRecipient("30000000-0000-0000-0000-000000000002", "Ben", "+919876543211", ""),
	}
	if err := repo.ReplaceAll(t.Context(), ownerA, recs); err != nil {
		t.Fatalf("ReplaceAll returned error: %v", err)
	}

	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	if err := repo.MarkReminderSent(t.Context(), ownerA, "+919876543210", at); err != nil {
		t.Fatalf("MarkReminderSent returned error: %v", err)
	}

	got, err := repo.ListByOwner(t.Context(), ownerA)
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if got[0].LastReminderSent == nil || !got[0].LastReminderSent.Equal(at) {
		t.Errorf("LastReminderSent = %v, want %v", got[0].LastReminderSent, at)
	}
	if got[1].LastReminderSent != nil {
		t.Errorf("unrelated recipient should not be updated, got %v", got[1].LastReminderSent)
	}
}

func TestPostgresRecipientRepo_ListDueForReminder(t *testing.T) {
	db := setupTestDB(t)
	createTestUser(t, db, ownerA, "alice")
	createTestUser(t, db, ownerB, "bob")
	repo := NewPostgresRecipientRepo(db)

	today := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

	dueByLead := newRecipient("40000000-0000-0000-0000-000000000001", "Lead", "+911000000001", "2026-10-16")
	notDue := newRecipient("40000000-0000-0000-0000-000000000002", "Later", "+911000000002", "2026-10-17")
	override := newRecipient("40000000-0000-0000-0000-000000000003", "Override", "+911000000003", "2026-01-01")
	override.ReminderDate = datePtr("2026-10-18")
	if err := repo.ReplaceAll(t.Context(), ownerA, []*model.Recipient{dueByLead, notDue, override}); err != nil {
		t.Fatalf("ReplaceAll returned error: %v", err)
	}

	other := newRecipient("40000000-0000-0000-0000-000000000004", "Other", "+911000000004", "2026-10-16")
	if err := repo.ReplaceAll(t.Context(), ownerB, []*model.Recipient{other}); err != nil {
		t.Fatalf("ReplaceAll returned error: %v", err)
	}
	if err := repo.MarkScheduledSent(t.Context(), other.ID, today); err != nil {
		t.Fatalf("MarkScheduledSent returned error: %v", err)
	}

	due, err := repo.ListDueForReminder(t.Context(), today, 2)
	if err != nil {
		t.Fatalf("ListDueForReminder returned error: %v", err)
	}

	var names []string
	for _, r := range due {
		names = append(names, r.Name)
	}
	if len(names) != 2 || names[0] != "Lead" || names[1] != "Override" {
		t.Errorf("due = %v, want [Lead Override]", names)
	}
}

func TestPostgresRecipientRepo_SetReminderDate_ResetsSent(t *testing.T) {
	db := setupTestDB(t)
	createTestUser(t, db, ownerA, "alice")
	repo := NewPostgresRecipientRepo(db)

	rec := newRecipient("50000000-0000-0000-0000-000000000001", "Asha", "+919876543210", "2026-10-01")
	if err := repo.ReplaceAll(t.Context(), ownerA, []*model.Recipient{rec}); err != nil {
		t.Fatalf("ReplaceAll returned error: %v", err)
	}
	if err := repo.MarkScheduledSent(t.Context(), rec.ID, time.Now()); err != nil {
		t.Fatalf("MarkScheduledSent returned error: %v", err)
	}

	ok, err := repo.SetReminderDate(t.Context(), ownerA, rec.ID, *datePtr("2026-11-01"))
	if err != nil {
		t.Fatalf("SetReminderDate returned error: %v", err)
	}
	if !ok {
		t.Fatal("SetReminderDate should report the recipient as updated")
	}

	list, err := repo.ListByOwner(t.Context(), ownerA)
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(list))
	}
	got := list[0]
	if got.Sent {
		t.Error("Sent should be reset to false")
	}
	if got.ReminderDate == nil || got.ReminderDate.Format(model.DateLayout) != "2026-11-01" {
		t.Errorf("ReminderDate = %v, want 2026-11-01", got.ReminderDate)
	}

	ok, err = repo.SetReminderDate(t.Context(), ownerB, rec.ID, *datePtr("2026-11-01"))
	if err != nil {
		t.Fatalf("SetReminderDate returned error: %v", err)
	}
	if ok {
		t.Error("another owner's recipient must not be updated")
	}
}
