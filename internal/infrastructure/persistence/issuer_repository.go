package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/domain/shared"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/persistence/models"
)

// GormIssuerRepository implements fiscal.IssuerRepository using GORM
type GormIssuerRepository struct {
	db *gorm.DB
}

// NewGormIssuerRepository creates a new GormIssuerRepository
func NewGormIssuerRepository(db *gorm.DB) *GormIssuerRepository {
	return &GormIssuerRepository{db: db}
}

// FindByTenant returns the registration data for a tenant
func (r *GormIssuerRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*fiscal.Issuer, error) {
	var model models.IssuerModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save persists the registration data for a tenant
func (r *GormIssuerRepository) Save(ctx context.Context, issuer *fiscal.Issuer) error {
	model := &models.IssuerModel{}
	model.FromDomain(issuer)
	return r.db.WithContext(ctx).Save(model).Error
}
