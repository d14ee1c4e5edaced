package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"staybook/internal/pkg/apperror"
)

// respondError renders err as {"error": message}. Only apperror messages reach the caller;
// anything else becomes a logged 500.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		if appErr.Code >= http.StatusInternalServerError {
			_ = c.Error(err)
		}
		c.JSON(appErr.Code, gin.H{"error": appErr.Message})
		return
	}
	_ = c.Error(err)
	if logger != nil {
		logger.Error("request failed", "path", c.FullPath(), "request_id", c.GetString("request_id"), "error", err)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
