package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/customeros/dmarcwatch/interfaces"
	"github.com/customeros/dmarcwatch/internal/enum"
	"github.com/customeros/dmarcwatch/internal/models"
)

// RecordRepository defines the interface for record data operations,
// including the bulk surfaces consumed by the enrichment queue and the
// reprocessing orchestrator.
type RecordRepository interface {
	ReplaceForReport(ctx context.Context, reportID string, records []*models.Record) error
	GetByID(ctx context.Context, id string) (*models.Record, error)
	ListByReport(ctx context.Context, reportID string) ([]models.Record, error)

	// reprocessing
	ListIDsForReprocess(ctx context.Context) ([]string, error)
	LoadBatchWithChildren(ctx context.Context, ids []string) ([]models.Record, error)
	UpdateForwarding(ctx context.Context, id string, forwarded *bool, reason *string, reprocessed bool) error
	ResetReprocessedFlags(ctx context.Context) error
	CountAll(ctx context.Context) (int64, error)
	CountPendingReprocess(ctx context.Context) (int64, error)

	// geolocation enrichment
	PendingGeoByIP(ctx context.Context) (map[string][]string, error)
	UpdateGeoStatus(ctx context.Context, ids []string, status enum.GeoStatus) error
	UpdateGeoResult(ctx context.Context, ids []string, loc *interfaces.GeoLocation) error
}

// GormRecordRepository implements RecordRepository using GORM
type GormRecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) RecordRepository {
	return &GormRecordRepository{db: db}
}

// ReplaceForReport deletes the report's existing records (and children)
// and inserts the new set, so a re-uploaded report never duplicates rows.
func (r *GormRecordRepository) ReplaceForReport(ctx context.Context, reportID string, records []*models.Record) error {
	if reportID == "" {
		return ErrInvalidInput
	}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
		}
	}()

	var existingIDs []string
	if err := tx.Model(&models.Record{}).
		Where("report_id = ?", reportID).
		Pluck("id", &existingIDs).Error; err != nil {
		tx.Rollback()
		return err
	}

	if len(existingIDs) > 0 {
		if err := tx.Where("record_id IN ?", existingIDs).Delete(&models.RecordAuthResult{}).Error; err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Where("record_id IN ?", existingIDs).Delete(&models.RecordOverrideReason{}).Error; err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Where("report_id = ?", reportID).Delete(&models.Record{}).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	now := time.Now()
	for _, rec := range records {
		rec.ReportID = reportID
		rec.CreatedAt = now
		rec.UpdatedAt = now
		if err := tx.Create(rec).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

func (r *GormRecordRepository) GetByID(ctx context.Context, id string) (*models.Record, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}

	var record models.Record
	result := r.db.WithContext(ctx).
		Preload("AuthResults").
		Preload("OverrideReasons").
		Where("id = ?", id).
		First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}

	return &record, nil
}

func (r *GormRecordRepository) ListByReport(ctx context.Context, reportID string) ([]models.Record, error) {
	if reportID == "" {
		return nil, ErrInvalidInput
	}

	var records []models.Record
	result := r.db.WithContext(ctx).
		Preload("AuthResults").
		Preload("OverrideReasons").
		Where("report_id = ?", reportID).
		Order("id ASC").
		Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}

	return records, nil
}

// ListIDsForReprocess returns the ids of records not yet reprocessed, in
// deterministic order so concurrent workers can take contiguous chunks.
func (r *GormRecordRepository) ListIDsForReprocess(ctx context.Context) ([]string, error) {
	var ids []string
	result := r.db.WithContext(ctx).Model(&models.Record{}).
		Where("reprocessed = ?", false).
		Order("id ASC").
		Pluck("id", &ids)
	if result.Error != nil {
		return nil, result.Error
	}
	return ids, nil
}

func (r *GormRecordRepository) LoadBatchWithChildren(ctx context.Context, ids []string) ([]models.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var records []models.Record
	result := r.db.WithContext(ctx).
		Preload("AuthResults").
		Preload("OverrideReasons").
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}

	return records, nil
}

func (r *GormRecordRepository) UpdateForwarding(ctx context.Context, id string, forwarded *bool, reason *string, reprocessed bool) error {
	if id == "" {
		return ErrInvalidInput
	}

	result := r.db.WithContext(ctx).Model(&models.Record{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"forwarded":        forwarded,
			"forwarded_reason": reason,
			"reprocessed":      reprocessed,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}

	return nil
}

func (r *GormRecordRepository) ResetReprocessedFlags(ctx context.Context) error {
	return r.db.WithContext(ctx).Model(&models.Record{}).
		Where("reprocessed = ?", true).
		Update("reprocessed", false).
		Error
}

func (r *GormRecordRepository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Record{}).Count(&count).Error
	return count, err
}

func (r *GormRecordRepository) CountPendingReprocess(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Record{}).
		Where("reprocessed = ?", false).
		Count(&count).
		Error
	return count, err
}

// PendingGeoByIP groups records still waiting for geolocation by source
// IP so the queue performs one lookup per IP.
func (r *GormRecordRepository) PendingGeoByIP(ctx context.Context) (map[string][]string, error) {
	type row struct {
		ID       string
		SourceIP string
	}

	var rows []row
	result := r.db.WithContext(ctx).Model(&models.Record{}).
		Select("id", "source_ip").
		Where("geo_status = ? AND source_ip <> ''", enum.GeoStatusPending).
		Order("id ASC").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}

	byIP := make(map[string][]string, len(rows))
	for _, rw := range rows {
		byIP[rw.SourceIP] = append(byIP[rw.SourceIP], rw.ID)
	}
	return byIP, nil
}

// UpdateGeoStatus moves records through the lookup lifecycle. Entering
// `processing` counts as a new attempt.
func (r *GormRecordRepository) UpdateGeoStatus(ctx context.Context, ids []string, status enum.GeoStatus) error {
	if len(ids) == 0 {
		return nil
	}

	updates := map[string]interface{}{
		"geo_status": status,
		"updated_at": time.Now(),
	}
	if status == enum.GeoStatusProcessing {
		updates["geo_attempts"] = gorm.Expr("geo_attempts + 1")
	}

	return r.db.WithContext(ctx).Model(&models.Record{}).
		Where("id IN ?", ids).
		Updates(updates).
		Error
}

// UpdateGeoResult writes resolved geodata to all dependent records and
// completes their lookup. A nil loc completes with empty geodata (the
// provider had no data for the IP).
func (r *GormRecordRepository) UpdateGeoResult(ctx context.Context, ids []string, loc *interfaces.GeoLocation) error {
	if len(ids) == 0 {
		return nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"geo_status":     enum.GeoStatusCompleted,
		"geo_checked_at": now,
		"updated_at":     now,
	}
	if loc != nil {
		updates["country"] = loc.Country
		updates["country_code"] = loc.CountryCode
		updates["city"] = loc.City
		updates["latitude"] = loc.Latitude
		updates["longitude"] = loc.Longitude
		updates["isp"] = loc.ISP
		updates["org"] = loc.Org
	}

	return r.db.WithContext(ctx).Model(&models.Record{}).
		Where("id IN ?", ids).
		Updates(updates).
		Error
}
