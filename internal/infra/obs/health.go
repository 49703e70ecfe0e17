package obs

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Check is one readiness probe, e.g. a database ping.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandlers exposes endpoints for liveness and readiness checks.
type HealthHandlers struct {
	Checks  []Check
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

	failed := gin.H{}
	for _, check := range h.Checks {
		if check.Probe == nil {
			continue
		}
		if err := check.Probe(ctx); err != nil {
			failed[check.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
