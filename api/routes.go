package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/dmarcwatch/api/handlers"
	"github.com/customeros/dmarcwatch/api/middleware"
	"github.com/customeros/dmarcwatch/internal/repository"
	"github.com/customeros/dmarcwatch/internal/tracing"
	"github.com/customeros/dmarcwatch/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	// health endpoint stays outside the keyed group
	r.GET("/health", handlers.HealthCheck)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-DMARCWATCH-API-KEY",
		ValidAPIKey: apikey,
	})

	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.TracingMiddleware())
	{
		reports := api.Group("/reports")
		{
			reports.POST("", handlers.UploadReport(s.IngestionService))
			reports.GET("", handlers.ListReports(repos.ReportRepository))
			reports.GET("/:id", handlers.GetReport(repos.ReportRepository, repos.RecordRepository))
		}

		senders := api.Group("/senders")
		{
			senders.GET("", handlers.ListSenders(s.SenderService))
			senders.POST("", handlers.CreateSender(s.SenderService))
			senders.GET("/:id", handlers.GetSender(s.SenderService))
			senders.PUT("/:id", handlers.UpdateSender(s.SenderService))
			senders.DELETE("/:id", handlers.DeleteSender(s.SenderService))
		}

		geolocation := api.Group("/geolocation")
		{
			geolocation.GET("/stats", handlers.GeolocationStats(s.GeolocationService))
			geolocation.POST("/backfill", handlers.GeolocationBackfill(s.GeolocationService))
			geolocation.POST("/clear", handlers.GeolocationClear(s.GeolocationService))
			geolocation.PUT("/mode", handlers.GeolocationMode(s.GeolocationService))
		}

		reprocess := api.Group("/reprocess")
		{
			reprocess.POST("", handlers.StartReprocess(s.ReprocessService))
			reprocess.GET("/current", handlers.CurrentReprocessJob(s.ReprocessService))
			reprocess.GET("/:id", handlers.GetReprocessJob(s.ReprocessService))
			reprocess.POST("/:id/cancel", handlers.CancelReprocessJob(s.ReprocessService))
		}
	}
}
