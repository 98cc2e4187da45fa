package store

import (
	"testing"
	"time"

	"github.com/calebmorrow/hearthside/internal/database"
)

func setupDeletionTestDB(t *testing.T) (*DeletionStore, *UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewDeletionStore(db), NewUserStore(db)
}

func TestDeletionCreate(t *testing.T) {
	ds, us := setupDeletionTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "hash")

	d, err := ds.Create(u.ID, u.Email, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("create deletion: %v", err)
	}
	if d.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", d.Email, "alice@example.com")
	}
	if d.WarningSentAt != nil {
		t.Error("expected warning_sent_at nil on create")
	}

	until := time.Until(d.PermanentDeletionAt)
	if until < 29*24*time.Hour || until > 31*24*time.Hour {
		t.Errorf("deadline %v from now, want ~30 days", until)
	}
}

func TestDeletionOnePerUser(t *testing.T) {
	ds, us := setupDeletionTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "hash")

	if _, err := ds.Create(u.ID, u.Email, 30*24*time.Hour); err != nil {
		t.Fatalf("create deletion: %v", err)
	}
	if _, err := ds.Create(u.ID, u.Email, 30*24*time.Hour); err == nil {
		t.Fatal("expected error for second deletion request, got nil")
	}
}

func TestDeletionCancel(t *testing.T) {
	ds, us := setupDeletionTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "hash")
	ds.Create(u.ID, u.Email, 30*24*time.Hour)

	if err := ds.CancelByUserID(u.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	d, err := ds.GetByUserID(u.ID)
	if err != nil {
		t.Fatalf("get after cancel: %v", err)
	}
	if d != nil {
		t.Error("expected nil after cancel")
	}
}

func TestDeletionListDueForWarning(t *testing.T) {
	ds, us := setupDeletionTestDB(t)

	soon, _ := us.Create("soon@example.com", "Soon", "hash")
	far, _ := us.Create("far@example.com", "Far", "hash")

	// Deadline in 3 days: inside the 5-day warning window.
	if _, err := ds.Create(soon.ID, soon.Email, 3*24*time.Hour); err != nil {
		t.Fatalf("create deletion: %v", err)
	}
	// Deadline in 20 days: not yet.
	if _, err := ds.Create(far.ID, far.Email, 20*24*time.Hour); err != nil {
		t.Fatalf("create deletion: %v", err)
	}

	due, err := ds.ListDueForWarning(5 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("list due for warning: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d due warnings, want 1", len(due))
	}
	if due[0].Email != "soon@example.com" {
		t.Errorf("email = %q, want %q", due[0].Email, "soon@example.com")
	}
}

func TestDeletionWarningIdempotent(t *testing.T) {
	ds, us := setupDeletionTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "hash")
	d, _ := ds.Create(u.ID, u.Email, 3*24*time.Hour)

	if err := ds.MarkWarningSent(d.ID); err != nil {
		t.Fatalf("mark warning sent: %v", err)
	}

	// A second sweep must not pick the row up again.
	due, err := ds.ListDueForWarning(5 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("list due for warning: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("got %d due warnings after marking sent, want 0", len(due))
	}
}

func TestDeletionListDueForPurge(t *testing.T) {
	ds, us := setupDeletionTestDB(t)

	overdue, _ := us.Create("overdue@example.com", "Overdue", "hash")
	pending, _ := us.Create("pending@example.com", "Pending", "hash")

	d, _ := ds.Create(overdue.ID, overdue.Email, 30*24*time.Hour)
	ds.Create(pending.ID, pending.Email, 30*24*time.Hour)

	// Nothing past the deadline yet.
	due, err := ds.ListDueForPurge()
	if err != nil {
		t.Fatalf("list due for purge: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("got %d due purges, want 0", len(due))
	}

	// Push one row past its deadline.
	if _, err := ds.db.Exec(
		`UPDATE deleted_accounts SET permanent_deletion_at = datetime('now', '-1 hour') WHERE id = ?`, d.ID,
	); err != nil {
		t.Fatalf("age deadline: %v", err)
	}

	due, err = ds.ListDueForPurge()
	if err != nil {
		t.Fatalf("list due for purge: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d due purges, want 1", len(due))
	}
	if due[0].Email != "overdue@example.com" {
		t.Errorf("email = %q, want %q", due[0].Email, "overdue@example.com")
	}
}

func TestDeletionExpiredRowNotWarned(t *testing.T) {
	ds, us := setupDeletionTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "hash")
	d, _ := ds.Create(u.ID, u.Email, 30*24*time.Hour)

	// Past-deadline rows belong to the purge phase, not the warning phase.
	if _, err := ds.db.Exec(
		`UPDATE deleted_accounts SET permanent_deletion_at = datetime('now', '-1 hour') WHERE id = ?`, d.ID,
	); err != nil {
		t.Fatalf("age deadline: %v", err)
	}

	due, err := ds.ListDueForWarning(5 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("list due for warning: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("got %d due warnings for expired row, want 0", len(due))
	}
}

func TestDeletionDeleteRow(t *testing.T) {
	ds, us := setupDeletionTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "hash")
	d, _ := ds.Create(u.ID, u.Email, 30*24*time.Hour)

	if err := ds.Delete(d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := ds.GetByUserID(u.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}
