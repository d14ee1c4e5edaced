package obs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Probe reports whether a dependency can serve traffic.
type Probe func(ctx context.Context) error

// HealthHandlers exposes endpoints for liveness and readiness checks. Readiness fails
// when any probe fails.
type HealthHandlers struct {
	Probes  map[string]Probe
	Timeout time.Duration
}

func (h HealthHandlers) Livez(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	var errs []error
	for name, probe := range h.Probes {
		if err := probe(ctx); err != nil {
			errs = append(errs, errors.New(name+": "+err.Error()))
		}
	}
	if err := errors.Join(errs...); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
