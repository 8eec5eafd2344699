package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/customeros/dmarcwatch/interfaces"
	er "github.com/customeros/dmarcwatch/internal/errors"
	"github.com/customeros/dmarcwatch/internal/repository"
	"github.com/customeros/dmarcwatch/internal/tracing"
)

// maxUploadBytes caps a single report upload at 32 MiB.
const maxUploadBytes = 32 << 20

// UploadReport ingests one aggregate report. The payload is either a
// multipart form with a "file" part or the raw bytes with an optional
// ?filename= hint.
func UploadReport(ingestion interfaces.IngestionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "UploadReport", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		data, filename, err := readUpload(c)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		report, err := ingestion.Ingest(ctx, data, filename)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		tracing.TagEntity(span, report.ID)
		c.JSON(http.StatusCreated, report)
	}
}

func readUpload(c *gin.Context) ([]byte, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			return nil, "", errors.Wrap(err, "opening uploaded file")
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return nil, "", errors.Wrap(err, "reading uploaded file")
		}
		return data, file.Filename, nil
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, "", errors.Wrap(err, "reading request body")
	}
	if len(data) == 0 {
		return nil, "", er.ErrEmptyInput
	}
	return data, c.Query("filename"), nil
}

// GetReport returns one report with its records.
func GetReport(reports repository.ReportRepository, records repository.RecordRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetReport", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagEntity(span, id)

		report, err := reports.GetByID(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		recs, err := records.ListByReport(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"report":  report,
			"records": recs,
		})
	}
}

// ListReports returns reports newest first, paginated.
func ListReports(reports repository.ReportRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListReports", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		items, total, err := reports.List(ctx, limit, offset)
		if err != nil {
			tracing.TraceErr(span, err)
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"reports": items,
			"total":   total,
		})
	}
}
