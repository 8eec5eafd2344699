package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/dmarcwatch/internal/enum"
	"github.com/customeros/dmarcwatch/internal/utils"
)

// ReprocessJob tracks one bulk re-classification run. At most one job may
// be running at a time.
type ReprocessJob struct {
	ID                string         `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Status            enum.JobStatus `gorm:"column:status;type:varchar(20);index" json:"status"`
	TotalRecords      int64          `gorm:"column:total_records;type:bigint" json:"totalRecords"`
	ProcessedRecords  int64          `gorm:"column:processed_records;type:bigint" json:"processedRecords"`
	ForwardedCount    int64          `gorm:"column:forwarded_count;type:bigint" json:"forwardedCount"`
	NotForwardedCount int64          `gorm:"column:not_forwarded_count;type:bigint" json:"notForwardedCount"`
	UnknownCount      int64          `gorm:"column:unknown_count;type:bigint" json:"unknownCount"`
	ErrorMessage      string         `gorm:"column:error_message;type:text" json:"errorMessage"`
	StartedAt         *time.Time     `gorm:"column:started_at;type:timestamp" json:"startedAt"`
	CompletedAt       *time.Time     `gorm:"column:completed_at;type:timestamp" json:"completedAt"`
	CreatedAt         time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (ReprocessJob) TableName() string {
	return "reprocess_jobs"
}

func (m *ReprocessJob) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("job", 16)
	}
	return nil
}
