package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"apis-edge-go/internal/models"
	"apis-edge-go/internal/services"
)

type ControlHandler struct {
	container *services.ServiceContainer
}

func NewControlHandler(container *services.ServiceContainer) *ControlHandler {
	return &ControlHandler{container: container}
}

type GateResponse struct {
	Armed      bool   `json:"armed"`
	GateState  string `json:"gate_state"`
	LockReason string `json:"lock_reason,omitempty"`
}

func (h *ControlHandler) gateResponse() GateResponse {
	snap := h.container.Gate.Snapshot(time.Now())
	resp := GateResponse{
		Armed:     h.container.Gate.Armed(),
		GateState: h.container.Gate.State().String(),
	}
	if snap.LockReason != models.LockNone {
		resp.LockReason = string(snap.LockReason)
	}
	return resp
}

func (h *ControlHandler) Arm(c *gin.Context) {
	if err := h.container.Gate.Arm(); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
			"gate":  h.gateResponse(),
		})
		return
	}
	c.JSON(http.StatusOK, h.gateResponse())
}

func (h *ControlHandler) Disarm(c *gin.Context) {
	h.container.Gate.Disarm()
	c.JSON(http.StatusOK, h.gateResponse())
}

// ResetLock clears a safety lock. The unit comes back disarmed; arming
// again is a separate, deliberate request.
func (h *ControlHandler) ResetLock(c *gin.Context) {
	h.container.Gate.Reset()
	c.JSON(http.StatusOK, h.gateResponse())
}

func (h *ControlHandler) GetCalibration(c *gin.Context) {
	c.JSON(http.StatusOK, h.container.Mapper.Profile())
}

type CalibrateRequest struct {
	Points []models.CalibrationPoint `json:"points" binding:"required,min=1"`
}

func (h *ControlHandler) Calibrate(c *gin.Context) {
	var req CalibrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, err := h.container.Engine.Calibrate(req.Points)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, profile)
}
