package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
	"github.com/moyoez/localvault/upload"
)

// statusFor maps domain errors onto HTTP status codes. Anything unknown is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidName),
		errors.Is(err, types.ErrInvalidUploadID),
		errors.Is(err, types.ErrInvalidChunkIndex),
		errors.Is(err, types.ErrNoFiles),
		errors.Is(err, types.ErrTooManyFiles):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrChunkTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, types.ErrPasswordRequired),
		errors.Is(err, types.ErrInvalidPassword):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrPathOutsideRoot),
		errors.Is(err, types.ErrTokenInvalid):
		return http.StatusForbidden
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrAlreadyExists),
		errors.Is(err, types.ErrSessionBusy),
		errors.Is(err, types.ErrIncompleteUpload):
		return http.StatusConflict
	case errors.Is(err, types.ErrUnsatisfiableRange):
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes the JSON error body for err. Server faults are logged with tag and
// reported with a generic message; client faults echo the error.
func abortWithError(c *gin.Context, tag string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		tool.DefaultLogger.Errorf("[%s] %v", tag, err)
		c.AbortWithStatusJSON(status, tool.FastReturnError("Internal server error"))
		return
	}
	tool.DefaultLogger.Debugf("[%s] %d: %v", tag, status, err)

	var missing *upload.MissingChunksError
	if errors.As(err, &missing) {
		c.AbortWithStatusJSON(status, tool.FastReturnErrorWithData(err.Error(), map[string]any{
			"missingChunks": missing.Missing,
			"totalChunks":   missing.Total,
		}))
		return
	}
	if errors.Is(err, types.ErrAlreadyExists) {
		c.AbortWithStatusJSON(status, tool.FastReturnErrorWithData(err.Error(), map[string]any{"exists": true}))
		return
	}
	c.AbortWithStatusJSON(status, tool.FastReturnError(err.Error()))
}
