package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"razorpay-link-service/internal/models"
)

// CredentialStore holds the per-mode credential sets.
type CredentialStore interface {
	// Get returns the credential set for mode, or
	// models.ErrCredentialsNotConfigured if none exists.
	Get(ctx context.Context, mode models.Mode) (*models.CredentialSet, error)
	Save(ctx context.Context, creds *models.CredentialSet) error
	// Clear destroys the credential set for mode (disconnect).
	Clear(ctx context.Context, mode models.Mode) error
}

// CredentialRepository is the gorm-backed CredentialStore.
type CredentialRepository struct {
	db *gorm.DB
}

var _ CredentialStore = (*CredentialRepository)(nil)

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Get(ctx context.Context, mode models.Mode) (*models.CredentialSet, error) {
	var creds models.CredentialSet
	err := r.db.WithContext(ctx).Where("mode = ?", mode).First(&creds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrCredentialsNotConfigured
	}
	if err != nil {
		return nil, err
	}
	return &creds, nil
}

func (r *CredentialRepository) Save(ctx context.Context, creds *models.CredentialSet) error {
	creds.UpdatedAt = time.Now()
	var existing models.CredentialSet
	err := r.db.WithContext(ctx).Where("mode = ?", creds.Mode).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.WithContext(ctx).Create(creds).Error
	}
	if err != nil {
		return err
	}
	creds.ID = existing.ID
	return r.db.WithContext(ctx).Save(creds).Error
}

func (r *CredentialRepository) Clear(ctx context.Context, mode models.Mode) error {
	return r.db.WithContext(ctx).Where("mode = ?", mode).Delete(&models.CredentialSet{}).Error
}
