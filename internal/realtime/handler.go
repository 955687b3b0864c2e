package realtime

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the hub on a gin router.
type Handler struct {
	hub *Hub
}

// NewHandler creates a realtime handler.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes mounts GET /ws and GET /ws/stats.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", func(c *gin.Context) { h.hub.HandleWebSocket(c.Writer, c.Request) })
	r.GET("/ws/stats", func(c *gin.Context) { c.JSON(http.StatusOK, h.hub.Stats()) })
}
