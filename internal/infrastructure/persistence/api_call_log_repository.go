package persistence

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/persistence/models"
)

// GormAPICallLogRepository implements fiscal.APICallLogRepository using
// GORM. The audit trail is write-once: rows are created and read, never
// touched again.
type GormAPICallLogRepository struct {
	db *gorm.DB
}

// NewGormAPICallLogRepository creates a new GormAPICallLogRepository
func NewGormAPICallLogRepository(db *gorm.DB) *GormAPICallLogRepository {
	return &GormAPICallLogRepository{db: db}
}

// Create writes one audit row
func (r *GormAPICallLogRepository) Create(ctx context.Context, log *fiscal.APICallLog) error {
	model := &models.APICallLogModel{}
	model.FromDomain(log)
	return r.db.WithContext(ctx).Create(model).Error
}

// ListByInvoice returns the audit rows for an invoice, oldest first
func (r *GormAPICallLogRepository) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]fiscal.APICallLog, error) {
	var rows []models.APICallLogModel
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	logs := make([]fiscal.APICallLog, 0, len(rows))
	for i := range rows {
		logs = append(logs, *rows[i].ToDomain())
	}
	return logs, nil
}

// CountByBackend counts audit rows for a tenant and backend
func (r *GormAPICallLogRepository) CountByBackend(ctx context.Context, tenantID uuid.UUID, backend string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.APICallLogModel{}).
		Where("tenant_id = ? AND backend = ?", tenantID, backend).
		Count(&count).Error
	return count, err
}
