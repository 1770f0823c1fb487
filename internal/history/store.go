// Package history keeps a SQLite ledger of finished model downloads.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"whisper-desk/internal/models"
)

const defaultListLimit = 50

// Record is one finished download.
type Record struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	SessionID     string    `gorm:"uniqueIndex;not null" json:"sessionId"`
	ModelID       string    `gorm:"index;not null" json:"modelId"`
	Outcome       string    `gorm:"not null" json:"outcome"`
	BytesReceived int64     `json:"bytesReceived"`
	SizeBytes     int64     `json:"sizeBytes,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `gorm:"index" json:"finishedAt"`
}

// TableName keeps the table name stable if Record is renamed.
func (Record) TableName() string {
	return "downloads"
}

// Duration is how long the session ran.
func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists download records. It implements models.Recorder.
type Store struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Open creates or migrates the ledger at path.
func Open(path string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Add stores one finished session.
func (s *Store) Add(ctx context.Context, report models.DownloadReport) error {
	rec := Record{
		SessionID:     report.SessionID,
		ModelID:       report.ModelID,
		Outcome:       string(report.Outcome.Kind),
		BytesReceived: report.BytesReceived,
		SizeBytes:     report.Outcome.SizeBytes,
		Reason:        report.Outcome.Reason,
		StartedAt:     report.StartedAt.UTC(),
		FinishedAt:    report.FinishedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert download record: %w", err)
	}
	return nil
}

// List returns the most recent records first. A non-positive limit uses a
// default page size. An empty modelID lists every model.
func (s *Store) List(ctx context.Context, modelID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := s.db.WithContext(ctx).Order("finished_at DESC").Order("id DESC").Limit(limit)
	if modelID != "" {
		q = q.Where("model_id = ?", modelID)
	}
	var out []Record
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list download records: %w", err)
	}
	return out, nil
}

// DownloadStarted is a no-op; only terminal outcomes are recorded.
func (s *Store) DownloadStarted(string) {}

// DownloadFinished records report, logging rather than returning failures.
func (s *Store) DownloadFinished(report models.DownloadReport) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Add(ctx, report); err != nil {
		s.log.WithError(err).WithField("model", report.ModelID).Warn("record download history")
	}
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
