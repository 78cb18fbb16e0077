package restservice

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"argela.com/bpsim/datamodel"
)

// Returns the HTTP status corresponding to the error.
func errorStatus(err error) int {
	var (
		validationErr *datamodel.ValidationError
		exhaustedErr  *datamodel.ResourceExhaustedError
		duplicateErr  *datamodel.DuplicateIdentityError
		conflictErr   *datamodel.ConflictingOperationError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &exhaustedErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &duplicateErr), errors.As(err, &conflictErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Responds with the error. The unexpected errors are logged.
func abortWithError(c *gin.Context, err error) {
	status := errorStatus(err)
	response := datamodel.ErrorResponse{Error: err.Error()}
	var validationErr *datamodel.ValidationError
	if errors.As(err, &validationErr) {
		response.Field = validationErr.Field
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.AbortWithStatusJSON(status, response)
}

// Responds with the validation error of the request body or query.
func abortWithBadRequest(c *gin.Context, field string, err error) {
	abortWithError(c, errors.WithStack(datamodel.NewValidationError(field, "%s", err.Error())))
}
