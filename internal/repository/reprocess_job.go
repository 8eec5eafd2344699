package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/customeros/dmarcwatch/internal/enum"
	"github.com/customeros/dmarcwatch/internal/models"
)

// ReprocessJobRepository defines the interface for reprocess job data
// operations
type ReprocessJobRepository interface {
	Create(ctx context.Context, job *models.ReprocessJob) error
	GetByID(ctx context.Context, id string) (*models.ReprocessJob, error)
	GetRunning(ctx context.Context) (*models.ReprocessJob, error)
	UpdateProgress(ctx context.Context, id string, processed, forwarded, notForwarded, unknown int64) error
	SetStatus(ctx context.Context, id string, status enum.JobStatus, errorMessage string) error
}

// GormReprocessJobRepository implements ReprocessJobRepository using GORM
type GormReprocessJobRepository struct {
	db *gorm.DB
}

func NewReprocessJobRepository(db *gorm.DB) ReprocessJobRepository {
	return &GormReprocessJobRepository{db: db}
}

func (r *GormReprocessJobRepository) Create(ctx context.Context, job *models.ReprocessJob) error {
	if job == nil {
		return ErrInvalidInput
	}

	job.CreatedAt = time.Now()
	job.UpdatedAt = time.Now()

	return r.db.WithContext(ctx).Create(job).Error
}

func (r *GormReprocessJobRepository) GetByID(ctx context.Context, id string) (*models.ReprocessJob, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}

	var job models.ReprocessJob
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, result.Error
	}

	return &job, nil
}

// GetRunning returns the running job, or nil when none is running.
func (r *GormReprocessJobRepository) GetRunning(ctx context.Context) (*models.ReprocessJob, error) {
	var job models.ReprocessJob
	result := r.db.WithContext(ctx).
		Where("status = ?", enum.JobStatusRunning).
		Order("created_at DESC").
		First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}

	return &job, nil
}

func (r *GormReprocessJobRepository) UpdateProgress(ctx context.Context, id string, processed, forwarded, notForwarded, unknown int64) error {
	if id == "" {
		return ErrInvalidInput
	}

	result := r.db.WithContext(ctx).Model(&models.ReprocessJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_records":   processed,
			"forwarded_count":     forwarded,
			"not_forwarded_count": notForwarded,
			"unknown_count":       unknown,
			"updated_at":          time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}

	return nil
}

func (r *GormReprocessJobRepository) SetStatus(ctx context.Context, id string, status enum.JobStatus, errorMessage string) error {
	if id == "" {
		return ErrInvalidInput
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}
	switch status {
	case enum.JobStatusRunning:
		updates["started_at"] = now
	case enum.JobStatusCompleted, enum.JobStatusFailed, enum.JobStatusCancelled:
		updates["completed_at"] = now
	}

	result := r.db.WithContext(ctx).Model(&models.ReprocessJob{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}

	return nil
}
