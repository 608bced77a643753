package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/chrischoy/MediaWhisperer/middleware"
	"github.com/chrischoy/MediaWhisperer/pkg/logger"
	"github.com/chrischoy/MediaWhisperer/service"
	"github.com/gin-gonic/gin"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrNotReady),
		errors.Is(err, service.ErrUpstreamFetch),
		errors.Is(err, service.ErrEmailTaken):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError aborts the request with the status matching err. Internal
// errors are logged and reported without detail.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).Error("request failed", "error", err)
		c.AbortWithStatusJSON(status, gin.H{
			"error":      "Internal server error",
			"request_id": middleware.GetRequestID(c),
		})
		return
	}
	slog.Debug("request rejected", "status", status, "error", err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// paramID parses a positive integer path parameter.
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}
