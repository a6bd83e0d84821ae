package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"apis-edge-go/internal/services"
)

type EventsHandler struct {
	container *services.ServiceContainer
}

func NewEventsHandler(container *services.ServiceContainer) *EventsHandler {
	return &EventsHandler{container: container}
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Recent returns the newest detection events from the local database,
// synced or not.
func (h *EventsHandler) Recent(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events, err := h.container.Store.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}
