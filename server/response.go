package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/nodegraph/continuous"
	nerrors "github.com/kbukum/nodegraph/errors"
)

// DataResponse is the standard success envelope.
type DataResponse struct {
	Data any `json:"data"`
}

// StatusFor maps an error category onto an HTTP status.
func StatusFor(category nerrors.Category) int {
	switch category {
	case nerrors.CategoryValidation:
		return http.StatusBadRequest
	case nerrors.CategoryStructural:
		return http.StatusUnprocessableEntity
	case nerrors.CategoryCapabilityDenied:
		return http.StatusForbidden
	case nerrors.CategoryTimeout:
		return http.StatusGatewayTimeout
	case nerrors.CategoryResourceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithError writes err as an ErrorResponse. Execution errors keep
// their category; lifecycle conflicts answer 409; anything else is an
// EXECUTION_FAILURE.
func RespondWithError(c *gin.Context, err error) {
	if errors.Is(err, continuous.ErrRunning) || errors.Is(err, continuous.ErrStopping) {
		conflict := nerrors.New(nerrors.CategoryValidation, err.Error())
		if errors.Is(err, continuous.ErrStopping) {
			conflict.Retryable = true
			conflict.Hint = "Wait for the node to reach stopped, then start it again."
		}
		c.AbortWithStatusJSON(http.StatusConflict, conflict.ToResponse())
		return
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		tooLarge := nerrors.ResourceExhausted("request body", maxBytes.Limit)
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, tooLarge.ToResponse())
		return
	}
	execErr := nerrors.From(err)
	c.AbortWithStatusJSON(StatusFor(execErr.Category), execErr.ToResponse())
}

// RespondOK sends a 200 response wrapping data.
func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, DataResponse{Data: data})
}

// RespondAccepted sends a 202 response wrapping data.
func RespondAccepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, DataResponse{Data: data})
}

// RespondNoContent sends a 204 with no body.
func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, nerrors.New(nerrors.CategoryValidation, "No such route.").
		WithDetail("path", c.Request.URL.Path).ToResponse())
}

func methodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, nerrors.New(nerrors.CategoryValidation, "Method not allowed.").
		WithDetail("method", c.Request.Method).ToResponse())
}
