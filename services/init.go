package services

import (
	"github.com/customeros/dmarcwatch/config"
	"github.com/customeros/dmarcwatch/interfaces"
	"github.com/customeros/dmarcwatch/internal/logger"
	"github.com/customeros/dmarcwatch/internal/repository"
	"github.com/customeros/dmarcwatch/services/classifier"
	"github.com/customeros/dmarcwatch/services/dmarc"
	"github.com/customeros/dmarcwatch/services/geolocation"
	"github.com/customeros/dmarcwatch/services/reprocess"
	"github.com/customeros/dmarcwatch/services/senders"
)

type Services struct {
	SenderService      interfaces.SenderService
	ClassifierService  *classifier.Service
	GeolocationService interfaces.GeolocationService
	IngestionService   interfaces.IngestionService
	ReprocessService   interfaces.ReprocessService
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) *Services {
	senderService := senders.NewSenderService(repos.ThirdPartySenderRepository, log)
	classifierService := classifier.NewClassifierService(senderService, log)
	geolocationService := geolocation.NewGeolocationService(
		cfg.GeolocationConfig,
		log,
		repos.RecordRepository,
		repos.IPLocationRepository,
	)

	return &Services{
		SenderService:      senderService,
		ClassifierService:  classifierService,
		GeolocationService: geolocationService,
		IngestionService: dmarc.NewIngestionService(
			log,
			repos.ReportRepository,
			repos.RecordRepository,
			classifierService,
			geolocationService,
		),
		ReprocessService: reprocess.NewReprocessService(
			cfg.ReprocessConfig,
			log,
			repos.ReprocessJobRepository,
			repos.RecordRepository,
			classifierService,
		),
	}
}
