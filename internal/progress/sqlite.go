package progress

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// unitRow is the gorm model backing SQLiteStore. The (job, stage, unit)
// triple is the upsert key.
type unitRow struct {
	ID        uint   `gorm:"primaryKey"`
	JobID     string `gorm:"uniqueIndex:idx_job_stage_unit;size:64"`
	Stage     string `gorm:"uniqueIndex:idx_job_stage_unit;size:16"`
	Unit      int    `gorm:"uniqueIndex:idx_job_stage_unit"`
	UnitEnd   int
	Status    string `gorm:"size:16"`
	Payload   []byte
	Failure   string
	Retries   int
	UpdatedAt time.Time
}

func (unitRow) TableName() string { return "progress_records" }

// SQLiteStore persists progress in an embedded SQLite database, one row per
// unit and stage. SQLite's transactional writes give per-unit atomicity
// without an external server.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open progress database: %w", err)
	}

	if err := db.AutoMigrate(&unitRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate progress schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load returns all records for a job identity.
func (s *SQLiteStore) Load(ctx context.Context, jobID string) (map[UnitKey]Record, error) {
	var rows []unitRow
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	records := make(map[UnitKey]Record, len(rows))
	for _, row := range rows {
		rec := normalize(Record{
			Stage:     Stage(row.Stage),
			Unit:      row.Unit,
			UnitEnd:   row.UnitEnd,
			Status:    Status(row.Status),
			Payload:   row.Payload,
			Failure:   row.Failure,
			Retries:   row.Retries,
			UpdatedAt: row.UpdatedAt,
		})
		records[rec.Key()] = rec
	}
	return records, nil
}

// Upsert durably writes one unit's record, replacing any prior row for the
// same (job, stage, unit).
func (s *SQLiteStore) Upsert(ctx context.Context, jobID string, rec Record) error {
	row := unitRow{
		JobID:     jobID,
		Stage:     string(rec.Stage),
		Unit:      rec.Unit,
		UnitEnd:   rec.UnitEnd,
		Status:    string(rec.Status),
		Payload:   rec.Payload,
		Failure:   rec.Failure,
		Retries:   rec.Retries,
		UpdatedAt: rec.UpdatedAt,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}, {Name: "stage"}, {Name: "unit"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"unit_end", "status", "payload", "failure", "retries", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert progress: %w", err)
	}
	return nil
}

// IsComplete reports whether the unit's stored record is complete.
func (s *SQLiteStore) IsComplete(ctx context.Context, jobID string, key UnitKey) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&unitRow{}).
		Where("job_id = ? AND stage = ? AND unit = ? AND status = ?",
			jobID, string(key.Stage), key.Unit, string(StatusComplete)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check progress: %w", err)
	}
	return count > 0, nil
}

// Clear removes every record for the job identity.
func (s *SQLiteStore) Clear(ctx context.Context, jobID string) error {
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&unitRow{}).Error; err != nil {
		return fmt.Errorf("failed to clear progress: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
