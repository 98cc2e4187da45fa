package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
)

var (
	// ErrNotConfigured is returned when S3 credentials are missing.
	ErrNotConfigured = errors.New("export not configured")
	// ErrExportPending is returned when the space already has an export in
	// flight.
	ErrExportPending = errors.New("export already in progress")
	// ErrNotFound is returned for unknown or incomplete exports.
	ErrNotFound = errors.New("export not found")
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds export manager configuration.
type Config struct {
	S3            S3Config
	Passphrase    string
	RetentionDays int
}

// Stores bundles the read side of every space-scoped record type that goes
// into an export archive.
type Stores struct {
	Spaces   *store.SpaceStore
	Tasks    *store.TaskStore
	Projects *store.ProjectStore
	Goals    *store.GoalStore
	Budgets  *store.BudgetStore
	Vendors  *store.VendorStore
	Meals    *store.MealStore
	Messages *store.MessageStore
	Events   *store.EventStore
}

// archive is the decrypted shape of an export file.
type archive struct {
	ExportedAt time.Time                 `json:"exported_at"`
	Space      *model.Space              `json:"space"`
	Members    []model.SpaceMemberDetail `json:"members"`
	Tasks      []model.Task              `json:"tasks"`
	Projects   []model.ProjectSummary    `json:"projects"`
	Goals      []model.Goal              `json:"goals"`
	Categories []model.BudgetCategory    `json:"budget_categories"`
	Expenses   []model.Expense           `json:"expenses"`
	Vendors    []model.Vendor            `json:"vendors"`
	Meals      []model.MealEntry         `json:"meals"`
	Messages   []model.MessageDetail     `json:"messages"`
	Events     []model.CalendarEvent     `json:"events"`
}

// Manager produces encrypted space exports and stores them in S3-compatible
// storage. Exports run asynchronously; progress lands on the space_exports
// row.
type Manager struct {
	cfg     Config
	exports *store.ExportStore
	data    Stores
	client  s3Client
	logger  *slog.Logger
}

// NewManager creates an export manager. With incomplete S3 credentials the
// manager starts disabled and every Request fails with ErrNotConfigured.
func NewManager(cfg Config, exports *store.ExportStore, data Stores, logger *slog.Logger) *Manager {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	m := &Manager{
		cfg:     cfg,
		exports: exports,
		data:    data,
		logger:  logger.With("component", "export"),
	}
	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		m.client = newS3Client(cfg.S3)
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether exports can run.
func (m *Manager) Enabled() bool {
	return m.client != nil
}

// Request creates an export record and starts the archive build in the
// background. One export at a time per space.
func (m *Manager) Request(spaceID, requestedBy int64) (*model.SpaceExport, error) {
	if m.client == nil {
		return nil, ErrNotConfigured
	}

	pending, err := m.exports.HasPending(spaceID)
	if err != nil {
		return nil, fmt.Errorf("check pending exports: %w", err)
	}
	if pending {
		return nil, ErrExportPending
	}

	filename := fmt.Sprintf("hearthside-export-%s.json.enc", time.Now().UTC().Format("2006-01-02T150405Z"))
	record, err := m.exports.Create(spaceID, requestedBy, filename)
	if err != nil {
		return nil, fmt.Errorf("create export record: %w", err)
	}

	// Detached from the request context: the caller gets the record back
	// immediately and polls status.
	go m.run(context.Background(), record)

	return record, nil
}

func (m *Manager) run(ctx context.Context, record *model.SpaceExport) {
	fail := func(stage string, err error) {
		m.logger.Error("export failed", "export_id", record.ID, "stage", stage, "error", err)
		if uerr := m.exports.UpdateStatus(record.ID, model.ExportStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("mark export failed", "export_id", record.ID, "error", uerr)
		}
	}

	if err := m.exports.UpdateStatus(record.ID, model.ExportStatusUploading, ""); err != nil {
		fail("status", err)
		return
	}

	arch, err := m.buildArchive(record.SpaceID)
	if err != nil {
		fail("gather", err)
		return
	}

	plain, err := json.MarshalIndent(arch, "", "  ")
	if err != nil {
		fail("marshal", err)
		return
	}

	sealed, err := Encrypt(plain, m.cfg.Passphrase)
	if err != nil {
		fail("encrypt", err)
		return
	}

	s3Key := fmt.Sprintf("exports/%d/%s", record.SpaceID, record.Filename)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(s3Key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		fail("upload", err)
		return
	}

	if err := m.exports.UpdateCompleted(record.ID, int64(len(sealed)), s3Key); err != nil {
		fail("complete", err)
		return
	}

	m.logger.Info("export complete", "export_id", record.ID, "space_id", record.SpaceID, "bytes", len(sealed))
}

// buildArchive reads every record type the space owns.
func (m *Manager) buildArchive(spaceID int64) (*archive, error) {
	// Open-ended windows for the range-queried stores.
	var (
		earliest = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		latest   = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
	)

	space, err := m.data.Spaces.GetByID(spaceID)
	if err != nil {
		return nil, fmt.Errorf("space: %w", err)
	}
	members, err := m.data.Spaces.ListMembers(spaceID)
	if err != nil {
		return nil, fmt.Errorf("members: %w", err)
	}
	tasks, err := m.data.Tasks.List(spaceID)
	if err != nil {
		return nil, fmt.Errorf("tasks: %w", err)
	}
	projects, err := m.data.Projects.List(spaceID)
	if err != nil {
		return nil, fmt.Errorf("projects: %w", err)
	}
	goals, err := m.data.Goals.List(spaceID)
	if err != nil {
		return nil, fmt.Errorf("goals: %w", err)
	}
	categories, err := m.data.Budgets.ListCategories(spaceID)
	if err != nil {
		return nil, fmt.Errorf("budget categories: %w", err)
	}
	expenses, err := m.data.Budgets.ListExpenses(spaceID, earliest, latest)
	if err != nil {
		return nil, fmt.Errorf("expenses: %w", err)
	}
	vendors, err := m.data.Vendors.List(spaceID)
	if err != nil {
		return nil, fmt.Errorf("vendors: %w", err)
	}
	meals, err := m.data.Meals.ListByDateRange(spaceID, earliest.Format("2006-01-02"), latest.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("meals: %w", err)
	}
	messages, err := m.allMessages(spaceID)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	events, err := m.data.Events.ListByDateRange(spaceID, earliest, latest)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}

	return &archive{
		ExportedAt: time.Now().UTC(),
		Space:      space,
		Members:    members,
		Tasks:      tasks,
		Projects:   projects,
		Goals:      goals,
		Categories: categories,
		Expenses:   expenses,
		Vendors:    vendors,
		Meals:      meals,
		Messages:   messages,
		Events:     events,
	}, nil
}

// allMessages walks the cursor-paged message list to the beginning.
func (m *Manager) allMessages(spaceID int64) ([]model.MessageDetail, error) {
	var all []model.MessageDetail
	var beforeID int64
	for {
		page, err := m.data.Messages.List(spaceID, beforeID, 200)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		beforeID = page[len(page)-1].ID
	}
}

// Download streams a completed export. Returns the body, its size, and the
// filename to serve it under.
func (m *Manager) Download(ctx context.Context, id, spaceID int64) (io.ReadCloser, int64, string, error) {
	if m.client == nil {
		return nil, 0, "", ErrNotConfigured
	}

	record, err := m.exports.GetByID(id, spaceID)
	if err != nil {
		return nil, 0, "", fmt.Errorf("get export: %w", err)
	}
	if record == nil || record.Status != model.ExportStatusCompleted {
		return nil, 0, "", ErrNotFound
	}

	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(record.S3Key),
	})
	if err != nil {
		return nil, 0, "", fmt.Errorf("download from s3: %w", err)
	}

	return result.Body, record.SizeBytes, record.Filename, nil
}

// Delete removes an export record and its object.
func (m *Manager) Delete(ctx context.Context, id, spaceID int64) error {
	record, err := m.exports.GetByID(id, spaceID)
	if err != nil {
		return fmt.Errorf("get export: %w", err)
	}
	if record == nil {
		return ErrNotFound
	}

	if record.S3Key != "" && m.client != nil {
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(record.S3Key),
		}); err != nil {
			m.logger.Error("delete export object", "key", record.S3Key, "error", err)
		}
	}

	return m.exports.Delete(record.ID)
}

// Cleanup removes exports past the retention window, objects included.
func (m *Manager) Cleanup(ctx context.Context) error {
	before := time.Now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	keys, err := m.exports.DeleteOlderThan(before)
	if err != nil {
		return fmt.Errorf("delete old exports: %w", err)
	}

	if m.client == nil {
		return nil
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Error("delete export object", "key", key, "error", err)
		}
	}
	return nil
}
