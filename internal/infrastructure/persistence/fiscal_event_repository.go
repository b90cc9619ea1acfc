package persistence

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/persistence/models"
)

// GormFiscalEventRepository implements fiscal.FiscalEventRepository using
// GORM. The interface is append-only; no update or delete exists here.
type GormFiscalEventRepository struct {
	db *gorm.DB
}

// NewGormFiscalEventRepository creates a new GormFiscalEventRepository
func NewGormFiscalEventRepository(db *gorm.DB) *GormFiscalEventRepository {
	return &GormFiscalEventRepository{db: db}
}

// Append writes one lifecycle event
func (r *GormFiscalEventRepository) Append(ctx context.Context, event *fiscal.FiscalEvent) error {
	model := &models.FiscalEventModel{}
	model.FromDomain(event)
	return r.db.WithContext(ctx).Create(model).Error
}

// ListByInvoice returns the lifecycle trail for an invoice, oldest first
func (r *GormFiscalEventRepository) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]fiscal.FiscalEvent, error) {
	var rows []models.FiscalEventModel
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]fiscal.FiscalEvent, 0, len(rows))
	for i := range rows {
		events = append(events, *rows[i].ToDomain())
	}
	return events, nil
}

// CountByInvoiceAndType counts events of one type for an invoice
func (r *GormFiscalEventRepository) CountByInvoiceAndType(ctx context.Context, invoiceID uuid.UUID, eventType fiscal.EventType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.FiscalEventModel{}).
		Where("invoice_id = ? AND type = ?", invoiceID, eventType).
		Count(&count).Error
	return count, err
}
