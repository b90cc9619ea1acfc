package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/domain/shared"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/persistence/models"
)

// GormInvoiceRepository implements fiscal.InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// Save persists an invoice, inserting or updating by primary key
func (r *GormInvoiceRepository) Save(ctx context.Context, invoice *fiscal.Invoice) error {
	model := models.InvoiceModelFromDomain(invoice)
	return r.db.WithContext(ctx).Save(model).Error
}

// FindByID finds an invoice by its ID
func (r *GormInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*fiscal.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIDForTenant finds an invoice by ID within a tenant
func (r *GormInvoiceRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*fiscal.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByProtocol finds an invoice by the provider-assigned protocol within
// a tenant
func (r *GormInvoiceRepository) FindByProtocol(ctx context.Context, tenantID uuid.UUID, protocol string) (*fiscal.Invoice, error) {
	if protocol == "" {
		return nil, shared.NewDomainError("INVALID_PROTOCOL", "Protocol cannot be empty")
	}
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND protocol = ?", tenantID, protocol).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIdempotencyKey finds an invoice by its idempotency key within a
// tenant
func (r *GormInvoiceRepository) FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key uuid.UUID) (*fiscal.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindStuckSubmitting lists invoices that have sat in SUBMITTING since
// before the cutoff, oldest first. The reconciliation poller feeds on this.
func (r *GormInvoiceRepository) FindStuckSubmitting(ctx context.Context, updatedBefore time.Time, limit int) ([]fiscal.Invoice, error) {
	var rows []models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", fiscal.StatusSubmitting, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	invoices := make([]fiscal.Invoice, 0, len(rows))
	for i := range rows {
		invoices = append(invoices, *rows[i].ToDomain())
	}
	return invoices, nil
}

// NextRPSNumber returns the next provisional receipt number for a tenant
// and series
func (r *GormInvoiceRepository) NextRPSNumber(ctx context.Context, tenantID uuid.UUID, series string) (int64, error) {
	var max int64
	err := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Where("tenant_id = ? AND rps_series = ?", tenantID, series).
		Select("COALESCE(MAX(rps_number), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// TransitionStatus loads the invoice, applies the mutation and writes it
// back guarded by the expected source statuses. When the guard no longer
// matches at write time the update is dropped and the stored row returned
// untouched, so a slower reconciliation path can never overwrite a newer
// terminal state.
func (r *GormInvoiceRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []fiscal.Status, apply func(*fiscal.Invoice) error) (*fiscal.Invoice, bool, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, shared.ErrNotFound
		}
		return nil, false, err
	}

	invoice := model.ToDomain()
	if !statusIn(invoice.Status, from) {
		return invoice, false, nil
	}

	if err := apply(invoice); err != nil {
		return nil, false, err
	}
	invoice.UpdatedAt = time.Now()

	updated := models.InvoiceModelFromDomain(invoice)
	result := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Select("*").
		Omit("id", "created_at").
		Updates(updated)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		// Lost the race; report whatever is stored now.
		current, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}
	return invoice, true, nil
}

func statusIn(status fiscal.Status, set []fiscal.Status) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func statusStrings(set []fiscal.Status) []string {
	out := make([]string, 0, len(set))
	for _, s := range set {
		out = append(out, string(s))
	}
	return out
}
