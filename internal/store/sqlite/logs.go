package sqlite

import (
	"context"
	"time"

	"ibharvest/internal/store/model"
)

func (s *SqliteStore) RecordError(ctx context.Context, rec *model.GatewayErrorModel) error {
	if rec == nil {
		return nil
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *SqliteStore) ListErrors(ctx context.Context, runID string, limit int) ([]model.GatewayErrorModel, error) {
	var logs []model.GatewayErrorModel
	q := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
