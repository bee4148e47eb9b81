package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aplsync/internal/alert"
	"aplsync/internal/apl"
	"aplsync/internal/models"
	"aplsync/internal/repository"
	"aplsync/internal/scheduler"
)

type SyncHandler struct {
	Repo      repository.Repository
	Scheduler *scheduler.Scheduler
	Alerts    *alert.Webhook
	Logger    *zap.Logger
}

func (h *SyncHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/status", h.listStatus)
	r.POST("/api/v1/sync/:state", h.trigger)
	r.GET("/api/v1/alerts", h.listAlerts)
	r.GET("/api/v1/entries/:state/:identifier", h.entryHistory)
}

// errorSampleCap bounds the error/warning samples shown per state.
const errorSampleCap = 10

type statusView struct {
	models.SyncStatus
	ErrorSamples   []string `json:"error_samples,omitempty"`
	WarningSamples []string `json:"warning_samples,omitempty"`
}

// @Summary Latest sync status per state with capped error samples
// @Tags sync
// @Router /api/v1/status [get]
func (h *SyncHandler) listStatus(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	statuses, err := h.Repo.ListSyncStatuses(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	views := make([]statusView, 0, len(statuses))
	for i := range statuses {
		views = append(views, newStatusView(statuses[i]))
	}
	Ok(c, views, nil)
}

func newStatusView(status models.SyncStatus) statusView {
	view := statusView{SyncStatus: status}
	if len(status.LastRunStats) == 0 {
		return view
	}
	var stats apl.IngestionStats
	if err := json.Unmarshal(status.LastRunStats, &stats); err != nil {
		return view
	}
	view.ErrorSamples = capSamples(stats.Errors)
	view.WarningSamples = capSamples(stats.Warnings)
	return view
}

func capSamples(samples []string) []string {
	if len(samples) <= errorSampleCap {
		return samples
	}
	capped := make([]string, errorSampleCap, errorSampleCap+1)
	copy(capped, samples[:errorSampleCap])
	return append(capped, fmt.Sprintf("+%d more", len(samples)-errorSampleCap))
}

// @Summary Trigger one state's sync immediately
// @Tags sync
// @Router /api/v1/sync/{state} [post]
func (h *SyncHandler) trigger(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	state := strings.ToUpper(strings.TrimSpace(c.Param("state")))
	outcome, err := h.Scheduler.RunNow(c.Request.Context(), state)
	if errors.Is(err, apl.ErrRunInProgress) {
		Error(c, http.StatusConflict, "sync already running", nil)
		return
	}
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("manual sync failed", zap.String("state", state), zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error(), map[string]any{
			"run_id": outcome.Stats.RunID,
		})
		return
	}
	Ok(c, outcome, nil)
}

// @Summary Eligibility history for one product in one state
// @Tags entries
// @Router /api/v1/entries/{state}/{identifier} [get]
func (h *SyncHandler) entryHistory(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	state := strings.ToUpper(strings.TrimSpace(c.Param("state")))
	identifier := strings.TrimSpace(c.Param("identifier"))
	if identifier == "" {
		Error(c, http.StatusBadRequest, "identifier required", nil)
		return
	}
	entries, err := h.Repo.ListEntryHistory(c.Request.Context(), state, identifier)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, entries, map[string]any{"count": len(entries)})
}

// @Summary Recent alert history
// @Tags sync
// @Router /api/v1/alerts [get]
func (h *SyncHandler) listAlerts(c *gin.Context) {
	if h.Alerts == nil {
		Ok(c, []alert.Event{}, nil)
		return
	}
	Ok(c, h.Alerts.History(), nil)
}
