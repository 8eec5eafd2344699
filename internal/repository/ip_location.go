package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/customeros/dmarcwatch/internal/models"
)

// IPLocationRepository defines the interface for the durable geolocation
// cache
type IPLocationRepository interface {
	GetByIP(ctx context.Context, ip string) (*models.IPLocation, error)
	Upsert(ctx context.Context, loc *models.IPLocation) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// GormIPLocationRepository implements IPLocationRepository using GORM
type GormIPLocationRepository struct {
	db *gorm.DB
}

func NewIPLocationRepository(db *gorm.DB) IPLocationRepository {
	return &GormIPLocationRepository{db: db}
}

// GetByIP returns the cached row for ip, or nil when none exists.
func (r *GormIPLocationRepository) GetByIP(ctx context.Context, ip string) (*models.IPLocation, error) {
	if ip == "" {
		return nil, ErrInvalidInput
	}

	var loc models.IPLocation
	result := r.db.WithContext(ctx).Where("ip = ?", ip).First(&loc)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}

	return &loc, nil
}

func (r *GormIPLocationRepository) Upsert(ctx context.Context, loc *models.IPLocation) error {
	if loc == nil || loc.IP == "" {
		return ErrInvalidInput
	}

	var existing models.IPLocation
	result := r.db.WithContext(ctx).Where("ip = ?", loc.IP).First(&existing)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return r.db.WithContext(ctx).Create(loc).Error
		}
		return result.Error
	}

	loc.ID = existing.ID
	return r.db.WithContext(ctx).Model(&models.IPLocation{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"country":      loc.Country,
			"country_code": loc.CountryCode,
			"city":         loc.City,
			"latitude":     loc.Latitude,
			"longitude":    loc.Longitude,
			"isp":          loc.ISP,
			"org":          loc.Org,
			"no_data":      loc.NoData,
			"provider":     loc.Provider,
			"checked_at":   loc.CheckedAt,
		}).Error
}

// DeleteOlderThan drops cache rows whose last check predates cutoff.
func (r *GormIPLocationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("checked_at < ?", cutoff).
		Delete(&models.IPLocation{})
	return result.RowsAffected, result.Error
}
