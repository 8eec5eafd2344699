package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/dmarcwatch/interfaces"
	"github.com/customeros/dmarcwatch/internal/tracing"
)

// GeolocationStats returns the enrichment queue snapshot.
func GeolocationStats(geoService interfaces.GeolocationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, geoService.Stats())
	}
}

// GeolocationBackfill enqueues every record still waiting for
// geolocation.
func GeolocationBackfill(geoService interfaces.GeolocationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GeolocationBackfill", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		queued, err := geoService.ScanUnresolved(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"queuedIps": queued})
	}
}

// GeolocationClear drops all queued lookups.
func GeolocationClear(geoService interfaces.GeolocationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		geoService.Clear()
		c.JSON(http.StatusOK, gin.H{"status": "queue cleared"})
	}
}

type geolocationModeRequest struct {
	Sync *bool `json:"sync" binding:"required"`
}

// GeolocationMode toggles between queued and inline lookups.
func GeolocationMode(geoService interfaces.GeolocationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req geolocationModeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		geoService.SetSyncMode(*req.Sync)
		c.JSON(http.StatusOK, gin.H{"syncMode": geoService.SyncMode()})
	}
}
