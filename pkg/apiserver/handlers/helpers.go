package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crewboard/crewboard/pkg/admission"
)

const timeRFC3339Nano = time.RFC3339Nano

func parseLimit(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseOffset(value string) int {
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

func formatTime(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := value.UTC().Format(timeRFC3339Nano)
	return &formatted
}

// respondAdmissionError translates the engine's error taxonomy to HTTP.
// Unrecognized errors are logged and reported as 500 without leaking detail.
func respondAdmissionError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, admission.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, admission.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, admission.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "details": err.Error()})
	case errors.Is(err, admission.ErrCapacityExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": "capacity exceeded"})
	case errors.Is(err, admission.ErrAlreadyClosed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "order is no longer open"})
	case errors.Is(err, admission.ErrWrongCategory):
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker type does not match order", "details": err.Error()})
	case errors.Is(err, admission.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state", "details": err.Error()})
	case admission.IsRetryable(err):
		logger.Error("storage unavailable", zap.Error(err))
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		logger.Error("unexpected admission error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
