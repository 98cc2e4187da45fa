package deletion

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/calebmorrow/hearthside/internal/database"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
)

type mockMailer struct {
	mu          sync.Mutex
	warnings    []string
	farewells   []string
	warnErr     error
	farewellErr error
}

func (m *mockMailer) SendDeletionWarning(_ context.Context, toEmail string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.warnErr != nil {
		return m.warnErr
	}
	m.warnings = append(m.warnings, toEmail)
	return nil
}

func (m *mockMailer) SendFarewell(_ context.Context, toEmail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.farewellErr != nil {
		return m.farewellErr
	}
	m.farewells = append(m.farewells, toEmail)
	return nil
}

type mockNotifier struct {
	mu     sync.Mutex
	warned []int64
}

func (m *mockNotifier) NotifyDeletionWarning(userID int64, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warned = append(m.warned, userID)
}

type sweeperFixture struct {
	db        *sql.DB
	sweeper   *Sweeper
	deletions *store.DeletionStore
	users     *store.UserStore
	spaces    *store.SpaceStore
	tasks     *store.TaskStore
	messages  *store.MessageStore
	mailer    *mockMailer
	notifier  *mockNotifier
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &sweeperFixture{
		db:        db,
		deletions: store.NewDeletionStore(db),
		users:     store.NewUserStore(db),
		spaces:    store.NewSpaceStore(db),
		tasks:     store.NewTaskStore(db),
		messages:  store.NewMessageStore(db),
		mailer:    &mockMailer{},
		notifier:  &mockNotifier{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.sweeper = NewSweeper(db, f.deletions, f.spaces, f.mailer, f.notifier, DefaultWarningLead, logger)
	return f
}

func (f *sweeperFixture) createUser(t *testing.T, email, name string) *model.User {
	t.Helper()
	u, err := f.users.Create(email, name, "")
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func (f *sweeperFixture) createSpace(t *testing.T, name string, memberIDs ...int64) *model.Space {
	t.Helper()
	sp, err := f.spaces.Create(name)
	if err != nil {
		t.Fatalf("create space %s: %v", name, err)
	}
	for i, id := range memberIDs {
		role := model.RoleMember
		if i == 0 {
			role = model.RoleAdmin
		}
		if _, err := f.spaces.AddMember(sp.ID, id, role); err != nil {
			t.Fatalf("add member %d: %v", id, err)
		}
	}
	return sp
}

func TestSweepWarningIdempotent(t *testing.T) {
	f := newSweeperFixture(t)
	u := f.createUser(t, "bob@example.com", "Bob")

	// Deadline inside the 5 day warning lead.
	if _, err := f.deletions.Create(u.ID, u.Email, 2*24*time.Hour); err != nil {
		t.Fatalf("create deletion: %v", err)
	}

	res, err := f.sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Warned != 1 {
		t.Fatalf("warned = %d, want 1", res.Warned)
	}
	if len(f.mailer.warnings) != 1 || f.mailer.warnings[0] != "bob@example.com" {
		t.Errorf("warning emails = %v, want [bob@example.com]", f.mailer.warnings)
	}
	if len(f.notifier.warned) != 1 || f.notifier.warned[0] != u.ID {
		t.Errorf("push warnings = %v, want [%d]", f.notifier.warned, u.ID)
	}

	acct, err := f.deletions.GetByUserID(u.ID)
	if err != nil {
		t.Fatalf("get deletion: %v", err)
	}
	if acct.WarningSentAt == nil {
		t.Error("warning_sent_at not stamped")
	}

	// Second run finds nothing to warn.
	res, err = f.sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Warned != 0 {
		t.Errorf("second sweep warned = %d, want 0", res.Warned)
	}
	if len(f.mailer.warnings) != 1 {
		t.Errorf("warning emails after second sweep = %d, want 1", len(f.mailer.warnings))
	}
}

func TestSweepWarningNotYetDue(t *testing.T) {
	f := newSweeperFixture(t)
	u := f.createUser(t, "bob@example.com", "Bob")

	// 20 days out: well before the warning window opens.
	if _, err := f.deletions.Create(u.ID, u.Email, 20*24*time.Hour); err != nil {
		t.Fatalf("create deletion: %v", err)
	}

	res, err := f.sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Warned != 0 || res.Purged != 0 {
		t.Errorf("sweep = %+v, want nothing due", res)
	}
}

func TestSweepWarningEmailFailureRetries(t *testing.T) {
	f := newSweeperFixture(t)
	u := f.createUser(t, "bob@example.com", "Bob")
	f.deletions.Create(u.ID, u.Email, 2*24*time.Hour)

	f.mailer.warnErr = errors.New("postmark down")
	res, err := f.sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Warned != 0 {
		t.Errorf("warned = %d, want 0 when email fails", res.Warned)
	}
	acct, _ := f.deletions.GetByUserID(u.ID)
	if acct.WarningSentAt != nil {
		t.Error("warning_sent_at stamped despite email failure")
	}

	// Email service recovers; next sweep warns.
	f.mailer.warnErr = nil
	res, err = f.sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Warned != 1 {
		t.Errorf("warned after recovery = %d, want 1", res.Warned)
	}
}

func TestSweepPurge(t *testing.T) {
	f := newSweeperFixture(t)
	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")

	// Bob's own space, and a shared space he participates in.
	bobSpace := f.createSpace(t, "Bob's Place", bob.ID)
	shared := f.createSpace(t, "Morrow Family", alice.ID, bob.ID)

	if _, err := f.tasks.Create(bobSpace.ID, nil, "Pack boxes", "", nil, nil, model.PriorityNormal, ""); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := f.messages.Create(shared.ID, bob.ID, "see you all"); err != nil {
		t.Fatalf("create bob message: %v", err)
	}
	if _, err := f.messages.Create(shared.ID, alice.ID, "bye bob"); err != nil {
		t.Fatalf("create alice message: %v", err)
	}

	// Deadline already passed.
	if _, err := f.deletions.Create(bob.ID, bob.Email, -time.Hour); err != nil {
		t.Fatalf("create deletion: %v", err)
	}

	res, err := f.sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Purged != 1 {
		t.Fatalf("purged = %d, want 1", res.Purged)
	}

	// Bob is gone, along with his solely-owned space and its content.
	if u, _ := f.users.GetByID(bob.ID); u != nil {
		t.Error("bob's user row survived the purge")
	}
	if sp, _ := f.spaces.GetByID(bobSpace.ID); sp != nil {
		t.Error("bob's space survived the purge")
	}
	var taskCount int
	f.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE space_id = ?`, bobSpace.ID).Scan(&taskCount)
	if taskCount != 0 {
		t.Errorf("tasks in purged space = %d, want 0", taskCount)
	}

	// The shared space and Alice's data are untouched; Bob's rows in it are
	// gone.
	if sp, _ := f.spaces.GetByID(shared.ID); sp == nil {
		t.Fatal("shared space was purged")
	}
	msgs, err := f.messages.List(shared.ID, 0, 50)
	if err != nil {
		t.Fatalf("list shared messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "bye bob" {
		t.Errorf("shared messages after purge = %v, want only alice's", msgs)
	}
	if member, _ := f.spaces.GetMember(shared.ID, bob.ID); member != nil {
		t.Error("bob still a member of the shared space")
	}

	if len(f.mailer.farewells) != 1 || f.mailer.farewells[0] != "bob@example.com" {
		t.Errorf("farewells = %v, want [bob@example.com]", f.mailer.farewells)
	}

	// Running again purges nothing and sends nothing.
	res, err = f.sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Purged != 0 {
		t.Errorf("second sweep purged = %d, want 0", res.Purged)
	}
	if len(f.mailer.farewells) != 1 {
		t.Errorf("farewells after second sweep = %d, want 1", len(f.mailer.farewells))
	}
}

func TestSweepPurgeFarewellFailureStillPurges(t *testing.T) {
	f := newSweeperFixture(t)
	bob := f.createUser(t, "bob@example.com", "Bob")
	f.createSpace(t, "Bob's Place", bob.ID)
	f.deletions.Create(bob.ID, bob.Email, -time.Hour)

	f.mailer.farewellErr = errors.New("postmark down")
	res, err := f.sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Purged != 1 {
		t.Errorf("purged = %d, want 1 despite farewell failure", res.Purged)
	}
	if acct, _ := f.deletions.GetByUserID(bob.ID); acct != nil {
		t.Error("deletion record survived the purge")
	}
}

func TestSweepCanceledDeletionUntouched(t *testing.T) {
	f := newSweeperFixture(t)
	bob := f.createUser(t, "bob@example.com", "Bob")
	f.createSpace(t, "Bob's Place", bob.ID)

	f.deletions.Create(bob.ID, bob.Email, -time.Hour)
	if err := f.deletions.CancelByUserID(bob.ID); err != nil {
		t.Fatalf("cancel deletion: %v", err)
	}

	res, err := f.sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Purged != 0 {
		t.Errorf("purged = %d, want 0 after cancel", res.Purged)
	}
	if u, _ := f.users.GetByID(bob.ID); u == nil {
		t.Error("user purged after canceling deletion")
	}
}
