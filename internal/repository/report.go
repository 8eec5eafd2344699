package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/customeros/dmarcwatch/internal/models"
)

// ReportRepository defines the interface for report data operations
type ReportRepository interface {
	Upsert(ctx context.Context, report *models.Report) (created bool, err error)
	GetByID(ctx context.Context, id string) (*models.Report, error)
	GetByReportID(ctx context.Context, reportID string) (*models.Report, error)
	List(ctx context.Context, limit, offset int) ([]models.Report, int64, error)
}

// GormReportRepository implements ReportRepository using GORM
type GormReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) ReportRepository {
	return &GormReportRepository{db: db}
}

// Upsert creates the report or, when a row with the same feed report_id
// already exists, updates it in place. Re-uploading a report is idempotent.
func (r *GormReportRepository) Upsert(ctx context.Context, report *models.Report) (bool, error) {
	if report == nil || report.ReportID == "" {
		return false, ErrInvalidInput
	}

	var existing models.Report
	result := r.db.WithContext(ctx).Where("report_id = ?", report.ReportID).First(&existing)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			report.CreatedAt = time.Now()
			report.UpdatedAt = time.Now()
			return true, r.db.WithContext(ctx).Create(report).Error
		}
		return false, result.Error
	}

	report.ID = existing.ID
	report.CreatedAt = existing.CreatedAt
	report.UpdatedAt = time.Now()

	updateResult := r.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"org_name":         report.OrgName,
			"email":            report.Email,
			"policy_domain":    report.PolicyDomain,
			"policy_published": report.PolicyPublished,
			"begin_at":         report.BeginAt,
			"end_at":           report.EndAt,
			"raw_xml":          report.RawXML,
			"updated_at":       report.UpdatedAt,
		})

	return false, updateResult.Error
}

func (r *GormReportRepository) GetByID(ctx context.Context, id string) (*models.Report, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}

	var report models.Report
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&report)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, result.Error
	}

	return &report, nil
}

func (r *GormReportRepository) GetByReportID(ctx context.Context, reportID string) (*models.Report, error) {
	if reportID == "" {
		return nil, ErrInvalidInput
	}

	var report models.Report
	result := r.db.WithContext(ctx).Where("report_id = ?", reportID).First(&report)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, result.Error
	}

	return &report, nil
}

func (r *GormReportRepository) List(ctx context.Context, limit, offset int) ([]models.Report, int64, error) {
	var reports []models.Report
	var totalCount int64

	if err := r.db.WithContext(ctx).Model(&models.Report{}).Count(&totalCount).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 25
	}

	result := r.db.WithContext(ctx).
		Order("begin_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&reports)
	if result.Error != nil {
		return nil, 0, result.Error
	}

	return reports, totalCount, nil
}
