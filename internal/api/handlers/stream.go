package handlers

import (
	"github.com/gin-gonic/gin"

	"apis-edge-go/internal/services"
)

type StreamHandler struct {
	container *services.ServiceContainer
}

func NewStreamHandler(container *services.ServiceContainer) *StreamHandler {
	return &StreamHandler{container: container}
}

// MJPEG serves the annotated live view. The connection stays open until
// the client disconnects.
func (h *StreamHandler) MJPEG(c *gin.Context) {
	h.container.Stream.StreamHTTP(c.Writer, c.Request)
}
