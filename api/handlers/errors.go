package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	er "github.com/customeros/dmarcwatch/internal/errors"
	"github.com/customeros/dmarcwatch/internal/repository"
)

// respondError maps domain errors onto HTTP statuses: bad input is the
// caller's fault, missing rows are 404, everything else is a 500.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case er.IsBadInput(err) || errors.Is(err, repository.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrReportNotFound),
		errors.Is(err, repository.ErrRecordNotFound),
		errors.Is(err, repository.ErrSenderNotFound),
		errors.Is(err, repository.ErrJobNotFound),
		errors.Is(err, er.ErrJobNotFound):
		status = http.StatusNotFound
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
