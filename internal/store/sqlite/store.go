package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ibharvest/internal/store"
	"ibharvest/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SqliteStore is the gorm-backed fetch log.
type SqliteStore struct {
	db *gorm.DB
}

var _ store.FetchLog = (*SqliteStore)(nil)

func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}

	return newSqliteStore(db)
}

func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	return newSqliteStore(db)
}

func newSqliteStore(db *gorm.DB) (*SqliteStore, error) {
	models := []interface{}{
		&model.FetchRecordModel{},
		&model.GatewayErrorModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return &SqliteStore{db: db}, nil
}

// Record upserts rec on its batch identity.
func (s *SqliteStore) Record(ctx context.Context, rec *model.FetchRecordModel) error {
	if rec == nil {
		return nil
	}
	rec.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))
	if rec.CreatedAtUnix == 0 {
		rec.CreatedAtUnix = time.Now().UnixMilli()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "session_date"}, {Name: "rth"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"run_id", "request_id", "local_symbol", "con_id", "bars", "status",
			"destination", "error_message", "contract_json", "waited_ms", "created_at",
		}),
	}).Create(rec).Error
}

func (s *SqliteStore) Completed(ctx context.Context, key store.BatchKey) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&model.FetchRecordModel{}).
		Where("symbol = ? AND session_date = ? AND rth = ? AND bars > 0",
			strings.ToUpper(key.Symbol), key.DateString(), key.RegularHoursOnly).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListRun returns the records written by run, oldest first.
func (s *SqliteStore) ListRun(ctx context.Context, runID string) ([]model.FetchRecordModel, error) {
	var out []model.FetchRecordModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	for i := range out {
		out[i].CreatedAt = time.UnixMilli(out[i].CreatedAtUnix)
	}
	return out, nil
}

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
