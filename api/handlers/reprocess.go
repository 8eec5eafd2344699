package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/dmarcwatch/interfaces"
	"github.com/customeros/dmarcwatch/internal/tracing"
)

// StartReprocess launches a bulk re-classification job. When a job is
// already running it is returned unchanged.
func StartReprocess(reprocessService interfaces.ReprocessService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "StartReprocess", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		job, err := reprocessService.StartJob(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		tracing.TagEntity(span, job.ID)
		c.JSON(http.StatusAccepted, job)
	}
}

// GetReprocessJob returns one job by id.
func GetReprocessJob(reprocessService interfaces.ReprocessService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetReprocessJob", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		job, err := reprocessService.GetJob(ctx, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, job)
	}
}

// CurrentReprocessJob returns the running job, or 404 when none runs.
func CurrentReprocessJob(reprocessService interfaces.ReprocessService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "CurrentReprocessJob", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		job, err := reprocessService.CurrentJob(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}
		if job == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no running job"})
			return
		}

		c.JSON(http.StatusOK, job)
	}
}

// CancelReprocessJob requests cancellation of a running job.
func CancelReprocessJob(reprocessService interfaces.ReprocessService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "CancelReprocessJob", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagEntity(span, id)

		job, err := reprocessService.RequestCancel(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, job)
	}
}
