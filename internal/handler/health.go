package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"aplsync/internal/db"
	"aplsync/internal/health"
)

type HealthHandler struct {
	DB      *db.DB
	Monitor *health.Monitor
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.alive)
	r.GET("/readyz", h.ready)
	group := r.Group("/api/v1/health")
	group.GET("", h.systemReport)
	group.GET("/summary", h.summary)
	group.GET("/history", h.history)
	group.GET("/:state", h.stateReport)
}

// @Summary Liveness check
// @Tags health
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *HealthHandler) alive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Readiness check
// @Tags health
// @Success 200 {object} map[string]string
// @Router /readyz [get]
func (h *HealthHandler) ready(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}
	if err := db.Ping(h.DB); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// @Summary Full system health report
// @Tags health
// @Router /api/v1/health [get]
func (h *HealthHandler) systemReport(c *gin.Context) {
	if h.Monitor == nil {
		Error(c, http.StatusInternalServerError, "monitor unavailable", nil)
		return
	}
	report, err := h.Monitor.SystemReport(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, report, nil)
}

// @Summary Boolean health summary for uptime probes
// @Tags health
// @Router /api/v1/health/summary [get]
func (h *HealthHandler) summary(c *gin.Context) {
	if h.Monitor == nil {
		Error(c, http.StatusInternalServerError, "monitor unavailable", nil)
		return
	}
	report, err := h.Monitor.Snapshot(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	ok := report.Overall == health.Healthy || report.Overall == health.Degraded
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ok": ok, "status": string(report.Overall)})
}

// @Summary Recent system health reports for trend display
// @Tags health
// @Router /api/v1/health/history [get]
func (h *HealthHandler) history(c *gin.Context) {
	if h.Monitor == nil {
		Error(c, http.StatusInternalServerError, "monitor unavailable", nil)
		return
	}
	Ok(c, h.Monitor.Recent(), nil)
}

// @Summary Health report for one state
// @Tags health
// @Router /api/v1/health/{state} [get]
func (h *HealthHandler) stateReport(c *gin.Context) {
	if h.Monitor == nil {
		Error(c, http.StatusInternalServerError, "monitor unavailable", nil)
		return
	}
	state := strings.ToUpper(strings.TrimSpace(c.Param("state")))
	report, err := h.Monitor.Snapshot(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	for _, sr := range report.States {
		if sr.State == state {
			Ok(c, sr, nil)
			return
		}
	}
	Error(c, http.StatusNotFound, "unknown state", nil)
}
