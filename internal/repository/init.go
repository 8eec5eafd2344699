package repository

import (
	"gorm.io/gorm"

	"github.com/customeros/dmarcwatch/internal/models"
)

type Repositories struct {
	ReportRepository           ReportRepository
	RecordRepository           RecordRepository
	ThirdPartySenderRepository ThirdPartySenderRepository
	IPLocationRepository       IPLocationRepository
	ReprocessJobRepository     ReprocessJobRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		ReportRepository:           NewReportRepository(db),
		RecordRepository:           NewRecordRepository(db),
		ThirdPartySenderRepository: NewThirdPartySenderRepository(db),
		IPLocationRepository:       NewIPLocationRepository(db),
		ReprocessJobRepository:     NewReprocessJobRepository(db),
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Report{},
		&models.Record{},
		&models.RecordAuthResult{},
		&models.RecordOverrideReason{},
		&models.ThirdPartySender{},
		&models.IPLocation{},
		&models.ReprocessJob{},
	)
}
