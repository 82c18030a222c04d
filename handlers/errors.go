package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"qbank-server/models"
)

// retryAfterSeconds is sent with 503 responses for transient store failures.
const retryAfterSeconds = "5"

// respondError maps the error taxonomy onto HTTP status codes.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	var (
		validation *models.ValidationError
		duplicate  *models.DuplicateQuestionError
		config     *models.ConfigurationError
		transient  *models.TransientError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.As(err, &duplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate question ids", "ids": duplicate.IDs})
	case errors.As(err, &config):
		logger.Error("configuration error", "path", c.FullPath(), "exam", config.ExamType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": config.Error()})
	case errors.As(err, &transient):
		logger.Warn("transient store failure", "path", c.FullPath(), "op", transient.Op, "error", err)
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store temporarily unavailable, retry later"})
	default:
		logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// bindJSON decodes the body or answers 400.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}
