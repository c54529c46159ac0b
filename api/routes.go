package api

import (
	"github.com/gin-gonic/gin"
	"github.com/xiaoyuanzhu-com/sync-alarm/server"
)

// SetupRoutes configures all API routes
func (h *Handlers) SetupRoutes(r *gin.Engine) {
	api := r.Group("/api")

	// Alarm routes
	api.GET("/alarms", h.ListAlarms)
	api.POST("/alarms", h.CreateAlarm)
	api.GET("/alarms/:id", h.GetAlarm)
	api.PATCH("/alarms/:id", h.UpdateAlarm)
	api.DELETE("/alarms/:id", h.DeleteAlarm)
	api.POST("/alarms/:id/snooze", h.SnoozeAlarm)

	// Presence (read-only; changes arrive over the push channel)
	api.GET("/presence", h.GetPresence)

	// Push channel
	r.GET(server.PushPath, h.PushSocket)

	// Operations
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(h.server.Metrics().Handler()))
}
