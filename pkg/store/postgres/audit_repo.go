package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/crewboard/crewboard/pkg/model"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entries []*model.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(entries, 100).Error
}

func (r *AuditRepository) List(ctx context.Context, orderID string, limit int) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	query := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("timestamp DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&entries).Error
	return entries, err
}

func (r *AuditRepository) DeleteOld(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.AuditEntry{}).Error
}

func (r *AuditRepository) Close() error {
	// GORM owns the connection pool; the Store closes it.
	return nil
}
