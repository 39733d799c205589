package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"proctor-stream/internal/model"
)

// logRow is the relational shape of a log record.
type logRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"size:64;not null;index:idx_logs_user_time,priority:1"`
	Log       string    `gorm:"size:1000"`
	EventType string    `gorm:"size:100;not null"`
	Timestamp time.Time `gorm:"not null;index:idx_logs_user_time,priority:2"`
}

func (logRow) TableName() string { return "logs" }

// SQLStore keeps log records in a relational database through GORM.
type SQLStore struct {
	db *gorm.DB
}

var _ LogStore = (*SQLStore)(nil)

// OpenPostgres connects to dsn and migrates the logs table.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewSQLStore(db)
}

func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&logRow{}); err != nil {
		return nil, fmt.Errorf("migrate logs: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Append(ctx context.Context, userID string, records []model.LogRecord) ([]model.LogRecord, error) {
	if err := validateBatch(userID, records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([]logRow, len(records))
	for i, r := range records {
		rows[i] = logRow{UserID: userID, Log: r.Detail, EventType: r.Kind, Timestamp: r.Timestamp.UTC()}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	stored := make([]model.LogRecord, len(rows))
	for i, row := range rows {
		stored[i] = rowToRecord(row)
	}
	return stored, nil
}

func (s *SQLStore) Query(ctx context.Context, userID string) ([]model.LogRecord, error) {
	var rows []logRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]model.LogRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, rowToRecord(row))
	}
	return records, nil
}

func (s *SQLStore) DeleteAll(ctx context.Context, userID string) (int, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&logRow{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rowToRecord(row logRow) model.LogRecord {
	return model.LogRecord{
		ID:        row.ID,
		UserID:    row.UserID,
		Kind:      row.EventType,
		Detail:    row.Log,
		Timestamp: row.Timestamp,
	}
}
