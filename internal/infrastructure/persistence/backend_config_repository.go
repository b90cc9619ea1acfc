package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/caixadigital/nfse-gateway/internal/domain/fiscal"
	"github.com/caixadigital/nfse-gateway/internal/domain/shared"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/persistence/models"
	"github.com/caixadigital/nfse-gateway/internal/infrastructure/secrets"
)

// GormBackendConfigRepository implements fiscal.BackendConfigRepository
// using GORM. Credential fields are encrypted before they reach the table
// and decrypted on the way out; ciphertext never leaves this type.
type GormBackendConfigRepository struct {
	db        *gorm.DB
	encryptor *secrets.Encryptor
}

// NewGormBackendConfigRepository creates a new GormBackendConfigRepository
func NewGormBackendConfigRepository(db *gorm.DB, encryptor *secrets.Encryptor) *GormBackendConfigRepository {
	return &GormBackendConfigRepository{db: db, encryptor: encryptor}
}

// Save persists a tenant configuration with credentials encrypted at rest
func (r *GormBackendConfigRepository) Save(ctx context.Context, config *fiscal.BackendConfig) error {
	model := &models.BackendConfigModel{}
	model.FromDomain(config)

	var err error
	if model.APIToken, err = r.encryptor.Encrypt(config.APIToken); err != nil {
		return err
	}
	if model.APISecret, err = r.encryptor.Encrypt(config.APISecret); err != nil {
		return err
	}
	if model.CertificatePassphrase, err = r.encryptor.Encrypt(config.CertificatePassphrase); err != nil {
		return err
	}
	if len(config.CertificateP12) > 0 {
		ciphertext, err := r.encryptor.EncryptBytes(config.CertificateP12)
		if err != nil {
			return err
		}
		model.CertificateP12 = []byte(ciphertext)
	}

	return r.db.WithContext(ctx).Save(model).Error
}

// FindByTenant returns the configuration for a tenant with credentials
// decrypted
func (r *GormBackendConfigRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*fiscal.BackendConfig, error) {
	var model models.BackendConfigModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return r.decrypt(&model)
}

// FindByWebhookToken resolves the tenant configuration that owns an inbound
// callback token
func (r *GormBackendConfigRepository) FindByWebhookToken(ctx context.Context, token string) (*fiscal.BackendConfig, error) {
	if token == "" {
		return nil, shared.ErrNotFound
	}
	var model models.BackendConfigModel
	if err := r.db.WithContext(ctx).
		Where("webhook_token = ?", token).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return r.decrypt(&model)
}

func (r *GormBackendConfigRepository) decrypt(model *models.BackendConfigModel) (*fiscal.BackendConfig, error) {
	config := model.ToDomain()

	var err error
	if config.APIToken, err = r.encryptor.Decrypt(model.APIToken); err != nil {
		return nil, err
	}
	if config.APISecret, err = r.encryptor.Decrypt(model.APISecret); err != nil {
		return nil, err
	}
	if config.CertificatePassphrase, err = r.encryptor.Decrypt(model.CertificatePassphrase); err != nil {
		return nil, err
	}
	if len(model.CertificateP12) > 0 {
		if config.CertificateP12, err = r.encryptor.DecryptBytes(string(model.CertificateP12)); err != nil {
			return nil, err
		}
	}
	return config, nil
}
