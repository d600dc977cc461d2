package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/incidentops/iats/pkg/normalize"
	"github.com/incidentops/iats/pkg/store"
)

// stateConflictError is an illegal lifecycle transition observed under the
// incident's row lock.
type stateConflictError struct {
	msg string
}

func (e *stateConflictError) Error() string { return e.msg }

// writeError maps domain errors to HTTP responses. Anything unrecognized is
// a 500 with the detail kept out of the body.
func writeError(c *gin.Context, err error) {
	var normErr *normalize.Error
	if errors.As(err, &normErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": normErr.Error()})
		return
	}
	var conflict *stateConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}

	slog.Error("Unexpected handler error", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
