package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/customeros/dmarcwatch/internal/models"
)

// ThirdPartySenderRepository defines the interface for sender pattern
// data operations
type ThirdPartySenderRepository interface {
	Create(ctx context.Context, sender *models.ThirdPartySender) error
	GetByID(ctx context.Context, id string) (*models.ThirdPartySender, error)
	List(ctx context.Context) ([]models.ThirdPartySender, error)
	FindEnabled(ctx context.Context) ([]models.ThirdPartySender, error)
	Update(ctx context.Context, sender *models.ThirdPartySender) error
	Delete(ctx context.Context, id string) error
}

// GormThirdPartySenderRepository implements ThirdPartySenderRepository using GORM
type GormThirdPartySenderRepository struct {
	db *gorm.DB
}

func NewThirdPartySenderRepository(db *gorm.DB) ThirdPartySenderRepository {
	return &GormThirdPartySenderRepository{db: db}
}

func (r *GormThirdPartySenderRepository) Create(ctx context.Context, sender *models.ThirdPartySender) error {
	if sender == nil {
		return ErrInvalidInput
	}

	sender.CreatedAt = time.Now()
	sender.UpdatedAt = time.Now()

	return r.db.WithContext(ctx).Create(sender).Error
}

func (r *GormThirdPartySenderRepository) GetByID(ctx context.Context, id string) (*models.ThirdPartySender, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}

	var sender models.ThirdPartySender
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&sender)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSenderNotFound
		}
		return nil, result.Error
	}

	return &sender, nil
}

func (r *GormThirdPartySenderRepository) List(ctx context.Context) ([]models.ThirdPartySender, error) {
	var senders []models.ThirdPartySender
	result := r.db.WithContext(ctx).Order("name ASC").Find(&senders)
	if result.Error != nil {
		return nil, result.Error
	}

	return senders, nil
}

func (r *GormThirdPartySenderRepository) FindEnabled(ctx context.Context) ([]models.ThirdPartySender, error) {
	var senders []models.ThirdPartySender
	result := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("name ASC").
		Find(&senders)
	if result.Error != nil {
		return nil, result.Error
	}

	return senders, nil
}

func (r *GormThirdPartySenderRepository) Update(ctx context.Context, sender *models.ThirdPartySender) error {
	if sender == nil || sender.ID == "" {
		return ErrInvalidInput
	}

	sender.UpdatedAt = time.Now()

	result := r.db.WithContext(ctx).Model(&models.ThirdPartySender{}).
		Where("id = ?", sender.ID).
		Updates(map[string]interface{}{
			"name":         sender.Name,
			"dkim_pattern": sender.DkimPattern,
			"spf_pattern":  sender.SpfPattern,
			"enabled":      sender.Enabled,
			"updated_at":   sender.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSenderNotFound
	}

	return nil
}

func (r *GormThirdPartySenderRepository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidInput
	}

	result := r.db.WithContext(ctx).Delete(&models.ThirdPartySender{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSenderNotFound
	}

	return nil
}
