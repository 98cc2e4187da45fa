package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/calebmorrow/hearthside/internal/database"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(string(data))),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

type exportFixture struct {
	manager *Manager
	mock    *mockS3Client
	exports *store.ExportStore
	db      *sql.DB
	userID  int64
	spaceID int64
}

func newExportFixture(t *testing.T) *exportFixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	spaces := store.NewSpaceStore(db)
	u, err := users.Create("alice@example.com", "Alice", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	sp, err := spaces.Create("Morrow Family")
	if err != nil {
		t.Fatalf("create space: %v", err)
	}
	if _, err := spaces.AddMember(sp.ID, u.ID, model.RoleAdmin); err != nil {
		t.Fatalf("add member: %v", err)
	}

	// A little of everything, so the archive has content to verify.
	tasks := store.NewTaskStore(db)
	if _, err := tasks.Create(sp.ID, nil, "Water plants", "", nil, nil, model.PriorityNormal, ""); err != nil {
		t.Fatalf("create task: %v", err)
	}
	messages := store.NewMessageStore(db)
	if _, err := messages.Create(sp.ID, u.ID, "hello from the board"); err != nil {
		t.Fatalf("create message: %v", err)
	}
	events := store.NewEventStore(db)
	start := time.Date(2026, 3, 20, 18, 0, 0, 0, time.UTC)
	if _, err := events.Create(sp.ID, "Dinner", "", start, start.Add(time.Hour), false, nil, ""); err != nil {
		t.Fatalf("create event: %v", err)
	}

	exports := store.NewExportStore(db)
	mock := newMockS3()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := NewManager(Config{
		S3:         S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
		Passphrase: "export-secret",
	}, exports, Stores{
		Spaces:   spaces,
		Tasks:    tasks,
		Projects: store.NewProjectStore(db),
		Goals:    store.NewGoalStore(db),
		Budgets:  store.NewBudgetStore(db),
		Vendors:  store.NewVendorStore(db),
		Meals:    store.NewMealStore(db),
		Messages: messages,
		Events:   events,
	}, logger)
	m.client = mock

	return &exportFixture{manager: m, mock: mock, exports: exports, db: db, userID: u.ID, spaceID: sp.ID}
}

// waitForStatus polls the export row until it reaches the wanted status.
func waitForStatus(t *testing.T, exports *store.ExportStore, id, spaceID int64, want model.ExportStatus) *model.SpaceExport {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := exports.GetByID(id, spaceID)
		if err != nil {
			t.Fatalf("get export: %v", err)
		}
		if rec != nil && rec.Status == want {
			return rec
		}
		if rec != nil && rec.Status == model.ExportStatusFailed {
			t.Fatalf("export failed: %s", rec.ErrorMessage)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("export %d never reached status %s", id, want)
	return nil
}

func TestRequestNotConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(Config{}, nil, Stores{}, logger)

	if m.Enabled() {
		t.Error("manager without S3 config should be disabled")
	}
	if _, err := m.Request(1, 1); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("request = %v, want ErrNotConfigured", err)
	}
}

func TestExportRoundTrip(t *testing.T) {
	f := newExportFixture(t)

	rec, err := f.manager.Request(f.spaceID, f.userID)
	if err != nil {
		t.Fatalf("request export: %v", err)
	}

	done := waitForStatus(t, f.exports, rec.ID, f.spaceID, model.ExportStatusCompleted)
	if done.S3Key == "" {
		t.Fatal("completed export has no s3 key")
	}
	if !f.mock.has(done.S3Key) {
		t.Fatalf("object %s not uploaded", done.S3Key)
	}
	if done.SizeBytes == 0 {
		t.Error("completed export has zero size")
	}

	// The stored object decrypts back into the archive.
	body, size, filename, err := f.manager.Download(context.Background(), rec.ID, f.spaceID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer body.Close()
	sealed, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if int64(len(sealed)) != size {
		t.Errorf("download size = %d, want %d", len(sealed), size)
	}
	if filename != done.Filename {
		t.Errorf("filename = %q, want %q", filename, done.Filename)
	}

	plain, err := Decrypt(sealed, "export-secret")
	if err != nil {
		t.Fatalf("decrypt export: %v", err)
	}
	var arch archive
	if err := json.Unmarshal(plain, &arch); err != nil {
		t.Fatalf("unmarshal archive: %v", err)
	}

	if arch.Space == nil || arch.Space.Name != "Morrow Family" {
		t.Error("archive missing space")
	}
	if len(arch.Members) != 1 {
		t.Errorf("archive members = %d, want 1", len(arch.Members))
	}
	if len(arch.Tasks) != 1 || arch.Tasks[0].Title != "Water plants" {
		t.Error("archive missing task")
	}
	if len(arch.Messages) != 1 || arch.Messages[0].Body != "hello from the board" {
		t.Error("archive missing message")
	}
	if len(arch.Events) != 1 || arch.Events[0].Title != "Dinner" {
		t.Error("archive missing event")
	}
}

func TestRequestWhilePending(t *testing.T) {
	f := newExportFixture(t)

	// Park a pending row so the second request hits the guard.
	if _, err := f.exports.Create(f.spaceID, f.userID, "stuck.json.enc"); err != nil {
		t.Fatalf("create export row: %v", err)
	}

	if _, err := f.manager.Request(f.spaceID, f.userID); !errors.Is(err, ErrExportPending) {
		t.Errorf("request = %v, want ErrExportPending", err)
	}
}

func TestDownloadIncomplete(t *testing.T) {
	f := newExportFixture(t)

	rec, err := f.exports.Create(f.spaceID, f.userID, "pending.json.enc")
	if err != nil {
		t.Fatalf("create export row: %v", err)
	}

	if _, _, _, err := f.manager.Download(context.Background(), rec.ID, f.spaceID); !errors.Is(err, ErrNotFound) {
		t.Errorf("download pending export = %v, want ErrNotFound", err)
	}
}

func TestDeleteExport(t *testing.T) {
	f := newExportFixture(t)

	rec, err := f.manager.Request(f.spaceID, f.userID)
	if err != nil {
		t.Fatalf("request export: %v", err)
	}
	done := waitForStatus(t, f.exports, rec.ID, f.spaceID, model.ExportStatusCompleted)

	if err := f.manager.Delete(context.Background(), rec.ID, f.spaceID); err != nil {
		t.Fatalf("delete export: %v", err)
	}
	if f.mock.has(done.S3Key) {
		t.Error("object still in storage after delete")
	}
	got, err := f.exports.GetByID(rec.ID, f.spaceID)
	if err != nil {
		t.Fatalf("get export: %v", err)
	}
	if got != nil {
		t.Error("export row still present after delete")
	}

	if err := f.manager.Delete(context.Background(), rec.ID, f.spaceID); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete unknown export = %v, want ErrNotFound", err)
	}
}

func TestCleanupRetention(t *testing.T) {
	f := newExportFixture(t)

	rec, err := f.manager.Request(f.spaceID, f.userID)
	if err != nil {
		t.Fatalf("request export: %v", err)
	}
	done := waitForStatus(t, f.exports, rec.ID, f.spaceID, model.ExportStatusCompleted)

	// Age the row past the 30 day default retention.
	old := time.Now().UTC().AddDate(0, 0, -45)
	if _, err := f.db.Exec(`UPDATE space_exports SET created_at = ? WHERE id = ?`, old, rec.ID); err != nil {
		t.Fatalf("backdate export: %v", err)
	}

	if err := f.manager.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if f.mock.has(done.S3Key) {
		t.Error("object still in storage after retention cleanup")
	}
	got, err := f.exports.GetByID(rec.ID, f.spaceID)
	if err != nil {
		t.Fatalf("get export: %v", err)
	}
	if got != nil {
		t.Error("export row survived retention cleanup")
	}
}
