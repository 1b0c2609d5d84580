package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cobolgraph/extractor/pkg/database"
	"github.com/cobolgraph/extractor/pkg/version"
	"github.com/cobolgraph/extractor/pkg/workerpool"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if _, err := database.Health(reqCtx, s.db.DB()); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	for name, addr := range map[string]string{
		"ingest_worker":    s.cfg.Stages.IngestWorkerURL,
		"structure_worker": s.cfg.Stages.StructureWorkerURL,
		"entity_worker":    s.cfg.Stages.EntityWorkerURL,
		"flow_worker":      s.cfg.Stages.FlowWorkerURL,
	} {
		if addr == "" {
			continue
		}
		if err := workerpool.CheckWorkerHealth(reqCtx, addr); err != nil {
			status = healthStatusUnhealthy
			checks[name] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks[name] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	})
}
