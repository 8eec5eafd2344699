package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/dmarcwatch/interfaces"
	"github.com/customeros/dmarcwatch/internal/models"
	"github.com/customeros/dmarcwatch/internal/tracing"
)

type senderRequest struct {
	Name        string `json:"name" binding:"required"`
	DkimPattern string `json:"dkimPattern"`
	SpfPattern  string `json:"spfPattern"`
	Enabled     *bool  `json:"enabled"`
}

// ListSenders returns the full third-party sender registry.
func ListSenders(senderService interfaces.SenderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListSenders", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		items, err := senderService.List(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"senders": items})
	}
}

// GetSender returns one registered sender.
func GetSender(senderService interfaces.SenderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetSender", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		sender, err := senderService.GetByID(ctx, c.Param("id"))
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, sender)
	}
}

// CreateSender registers a sender. Patterns are validated as regular
// expressions before anything is stored.
func CreateSender(senderService interfaces.SenderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "CreateSender", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req senderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sender := &models.ThirdPartySender{
			Name:        req.Name,
			DkimPattern: req.DkimPattern,
			SpfPattern:  req.SpfPattern,
			Enabled:     req.Enabled == nil || *req.Enabled,
		}
		if err := senderService.Create(ctx, sender); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		tracing.TagEntity(span, sender.ID)
		c.JSON(http.StatusCreated, sender)
	}
}

// UpdateSender replaces a sender's fields.
func UpdateSender(senderService interfaces.SenderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "UpdateSender", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagEntity(span, id)

		var req senderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sender := &models.ThirdPartySender{
			ID:          id,
			Name:        req.Name,
			DkimPattern: req.DkimPattern,
			SpfPattern:  req.SpfPattern,
			Enabled:     req.Enabled == nil || *req.Enabled,
		}
		if err := senderService.Update(ctx, sender); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, sender)
	}
}

// DeleteSender removes a sender from the registry.
func DeleteSender(senderService interfaces.SenderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DeleteSender", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagEntity(span, id)

		if err := senderService.Delete(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "sender removed", "id": id})
	}
}
