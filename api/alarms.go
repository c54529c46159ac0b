package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// CreateAlarmRequest is the body of POST /api/alarms
type CreateAlarmRequest struct {
	Title string `json:"title"`
	Time  string `json:"time"`
}

// UpdateAlarmRequest is the body of PATCH /api/alarms/:id
type UpdateAlarmRequest struct {
	Enabled *bool `json:"enabled"`
}

// parseAlarmID reads the :id path parameter, answering 400 on failure
func parseAlarmID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		RespondBadRequest(c, "Invalid alarm id")
		return 0, false
	}
	return id, true
}

// ListAlarms handles GET /api/alarms
func (h *Handlers) ListAlarms(c *gin.Context) {
	alarms, err := h.server.Alarms().List(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondList(c, alarms)
}

// GetAlarm handles GET /api/alarms/:id
func (h *Handlers) GetAlarm(c *gin.Context) {
	id, ok := parseAlarmID(c)
	if !ok {
		return
	}
	alarm, err := h.server.Alarms().Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondData(c, alarm)
}

// CreateAlarm handles POST /api/alarms
func (h *Handlers) CreateAlarm(c *gin.Context) {
	var req CreateAlarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body")
		return
	}

	alarm, err := h.server.Alarms().Create(c.Request.Context(), req.Title, req.Time)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondCreated(c, alarm, fmt.Sprintf("/api/alarms/%d", alarm.ID))
}

// UpdateAlarm handles PATCH /api/alarms/:id
func (h *Handlers) UpdateAlarm(c *gin.Context) {
	id, ok := parseAlarmID(c)
	if !ok {
		return
	}

	var req UpdateAlarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body")
		return
	}
	if req.Enabled == nil {
		RespondValidationError(c, "Nothing to update", []ErrorDetail{
			{Field: "enabled", Message: "enabled is required", Code: "required"},
		})
		return
	}

	alarm, err := h.server.Alarms().SetEnabled(c.Request.Context(), id, *req.Enabled)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondData(c, alarm)
}

// DeleteAlarm handles DELETE /api/alarms/:id
func (h *Handlers) DeleteAlarm(c *gin.Context) {
	id, ok := parseAlarmID(c)
	if !ok {
		return
	}
	if err := h.server.Alarms().Delete(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondNoContent(c)
}

// SnoozeAlarm handles POST /api/alarms/:id/snooze
func (h *Handlers) SnoozeAlarm(c *gin.Context) {
	id, ok := parseAlarmID(c)
	if !ok {
		return
	}
	alarm, err := h.server.Alarms().Snooze(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondData(c, alarm)
}

// GetPresence handles GET /api/presence
func (h *Handlers) GetPresence(c *gin.Context) {
	RespondData(c, h.server.Presence().Snapshot())
}

// Healthz handles GET /healthz
func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
